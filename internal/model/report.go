package model

import "time"

// OutcomeKind is the per-item result of a batch run
type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// ItemOutcome reports what happened to one evidence item
type ItemOutcome struct {
	SourceID   string      `json:"source_id"`
	ClaimID    string      `json:"claim_id,omitempty"`
	Kind       OutcomeKind `json:"kind"`
	Reason     string      `json:"reason,omitempty"`
	Similarity float64     `json:"similarity,omitempty"` // Identity-resolution confidence
	TierBefore Tier        `json:"tier_before,omitempty"`
	TierAfter  Tier        `json:"tier_after,omitempty"`
	Contested  bool        `json:"contested,omitempty"` // This item put the claim under contest
	Err        error       `json:"-"`
}

// BatchSummary aggregates the outcomes of a batch run
type BatchSummary struct {
	Total      int `json:"total"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Promotions int `json:"promotions"`
	Demotions  int `json:"demotions"`
	Contested  int `json:"contested"`
}

// BatchReport is the user-visible result of one engine run
type BatchReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Outcomes   []ItemOutcome `json:"outcomes"`
	Summary    BatchSummary  `json:"summary"`
	Aborted    bool          `json:"aborted,omitempty"` // Cancelled between items
}

// Add records an outcome and updates the summary counters
func (r *BatchReport) Add(o ItemOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Summary.Total++
	switch o.Kind {
	case OutcomeCreated:
		r.Summary.Created++
	case OutcomeUpdated:
		r.Summary.Updated++
	case OutcomeSkipped:
		r.Summary.Skipped++
	case OutcomeFailed:
		r.Summary.Failed++
	}
	if o.Contested {
		r.Summary.Contested++
	}
	if o.Kind == OutcomeCreated || o.Kind == OutcomeUpdated {
		before, after := o.TierBefore.Rank(), o.TierAfter.Rank()
		switch {
		case before >= 0 && after > before:
			r.Summary.Promotions++
		case after >= 0 && after < before:
			r.Summary.Demotions++
		}
	}
}

// Period is the granularity of a rollup
type Period string

const (
	PeriodDay  Period = "day"
	PeriodWeek Period = "week"
)

// RollupRow holds audit counts for one period
type RollupRow struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	NewClaims  int       `json:"new_claims"`
	Scored     int       `json:"scored"`
	Promotions int       `json:"promotions"`
	Demotions  int       `json:"demotions"`
	Contested  int       `json:"contested"`
	Cleared    int       `json:"cleared"`
	Deprecated int       `json:"deprecated"`
}
