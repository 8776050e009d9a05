package model

import "time"

// Action classifies an audit entry
type Action string

const (
	ActionInit      Action = "INIT"      // Claim created
	ActionScore     Action = "SCORE"     // Prong score updated by evidence
	ActionPromote   Action = "PROMOTE"   // Tier increased
	ActionDemote    Action = "DEMOTE"    // Tier decreased
	ActionContest   Action = "CONTEST"   // Material evidence on both sides of a prong
	ActionClear     Action = "CLEAR"     // Contest cleared by a human or validation step
	ActionDeprecate Action = "DEPRECATE" // Retraction or failed replication
)

// AuditEntry is an immutable record of one ledger mutation
type AuditEntry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Action    Action    `json:"action"`
	ClaimID   string    `json:"claim_id"`
	Detail    string    `json:"detail"`
}
