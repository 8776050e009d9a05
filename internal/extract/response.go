package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/convergence/internal/llm"
)

// Response is the JSON document the model returns for one paper
type Response struct {
	Claims   []ExtractedClaim `json:"claims"`
	Metadata PaperMetadata    `json:"paper_metadata"`
}

// ExtractedClaim is one finding as reported by the model. Free-text fields
// accept strings, numbers or null since models are loose about it.
type ExtractedClaim struct {
	ClaimText          string   `json:"claim_text"`
	Intervention       Text     `json:"intervention"`
	Target             Text     `json:"target"`
	Direction          string   `json:"direction"`
	EffectSize         Text     `json:"effect_size"`
	PValue             Text     `json:"p_value"`
	ConfidenceInterval Text     `json:"confidence_interval"`
	Species            TextList `json:"species"`
	Population         Text     `json:"strain_or_population"`
	Tissue             Text     `json:"tissue_or_system"`
	SampleSize         Text     `json:"sample_size"`
	StudyDesign        string   `json:"study_design"`
	Duration           Text     `json:"duration"`
	DomainTags         TextList `json:"domain_tags"`
	NoveltyFlag        string   `json:"novelty_flag"`
	Limitations        TextList `json:"limitations_noted"`
}

// PaperMetadata is the per-paper block of the response
type PaperMetadata struct {
	StudyType              string   `json:"study_type"`
	SpeciesStudied         TextList `json:"species_studied"`
	AgingRelevance         string   `json:"aging_relevance"`
	CrossDomainConnections TextList `json:"cross_domain_connections"`
	KeyMethods             TextList `json:"key_methods"`
}

// Text is a string that also decodes from numbers, booleans and null
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(normalizeNull(s))
	case len(data) > 0 && (data[0] == '[' || data[0] == '{'):
		return fmt.Errorf("expected scalar, got %s", data)
	default:
		*t = Text(data)
	}
	return nil
}

func (t Text) String() string {
	return string(t)
}

// TextList decodes from a list, a single scalar or null
type TextList []string

func (l *TextList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []Text
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := strings.TrimSpace(string(it)); s != "" {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	}

	var one Text
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if s := strings.TrimSpace(string(one)); s != "" {
		*l = TextList{s}
	} else {
		*l = nil
	}
	return nil
}

// normalizeNull maps the spelled-out nulls models produce to empty
func normalizeNull(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "n/a", "na", "not reported", "not stated":
		return ""
	}
	return s
}

// ParseResponse decodes a model answer. A bare claims array is accepted
// as well as the documented object.
func ParseResponse(text string) (*Response, error) {
	body := llm.StripCodeFences(text)
	if body == "" {
		return nil, fmt.Errorf("empty response")
	}

	var resp Response
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &resp.Claims); err != nil {
			return nil, fmt.Errorf("decode claims array: %w", err)
		}
		return &resp, nil
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("decode claims response: %w", err)
	}
	return &resp, nil
}
