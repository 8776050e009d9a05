package extract

import (
	"fmt"
	"strings"

	"github.com/ppiankov/convergence/internal/model"
)

// promptVersion is part of the cache key; bump it when the prompt changes
const promptVersion = "v1"

const systemPrompt = `You are a biomedical research extraction engine. Your job is to
extract ONLY factual claims that are explicitly stated in the provided
abstract. You must NEVER infer, extrapolate, or generate claims not
directly supported by the text. If the abstract does not contain
extractable quantitative claims, return an empty claims array.`

const promptTemplate = `Extract structured research claims from the following paper abstract.

TITLE: %s
DOI: %s
JOURNAL: %s
ABSTRACT: %s

For each distinct claim in the abstract, extract a JSON object.
Return the result as a valid JSON object matching this schema:

{
  "claims": [
    {
      "claim_text": "One-sentence plain-English summary of the finding",
      "intervention": "Treatment/compound/condition tested. null if observational.",
      "target": "Biological target or endpoint measured",
      "direction": "increase | decrease | no_change | complex",
      "effect_size": "Quantitative effect as reported. null if not quantified.",
      "p_value": "As reported. null if not reported.",
      "confidence_interval": "As reported. null if not reported.",
      "species": "human | mouse | rat | primate | cell_line | drosophila | c_elegans | other:{specify}",
      "strain_or_population": "e.g. 'C57BL/6', 'healthy adults 60-75'",
      "tissue_or_system": "e.g. 'liver', 'whole blood', 'systemic'",
      "sample_size": "Total n as integer. null if not stated.",
      "study_design": "RCT | observational_cohort | case_control | cross_sectional | animal_intervention | in_vitro | meta_analysis | review",
      "duration": "Treatment/observation duration. null if not stated.",
      "domain_tags": ["epigenetic", "senescence", "mitochondrial", "nutrient_sensing", "stem_cell_ecm", "comparative", "cross_domain"],
      "novelty_flag": "novel | replication | extension | contradicts_prior",
      "limitations_noted": ["Limitations mentioned by the authors"]
    }
  ],
  "paper_metadata": {
    "study_type": "primary_research | review | meta_analysis | commentary | methods | case_report",
    "species_studied": ["All species in the study"],
    "aging_relevance": "direct | indirect | peripheral",
    "cross_domain_connections": ["Domains this paper bridges"],
    "key_methods": ["Major methods used"]
  }
}

RULES:
1. Extract ONLY claims explicitly stated in the abstract. Do not infer.
2. Qualitative findings: extract but set effect_size to null.
3. Reviews/meta-analyses: extract synthesized conclusions as claims.
4. Multiple experiments: extract each as a separate claim.
5. Observational findings: set intervention to null.
6. novelty_flag "novel" ONLY if authors explicitly state it is new.
   Default to "extension" if unclear.
7. Tag cross_domain_connections when findings span multiple domains.
8. Return valid JSON only. No markdown, no commentary.`

// BuildPrompt renders the user prompt for one paper
func BuildPrompt(p model.Paper) string {
	return fmt.Sprintf(promptTemplate,
		oneLine(p.Title), p.DOI, p.Journal, strings.TrimSpace(p.Abstract))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
