package validation

import "time"

// CodeRuleSemanticConflict is raised by the pipeline when a business rule
// disagrees with a strong semantic match.
const CodeRuleSemanticConflict = "rule_semantic_conflict"

type Resolution string

const (
	ResolutionNone      Resolution = ""
	ResolutionAuto      Resolution = "auto"
	ResolutionEscalated Resolution = "escalated"
)

// Diagnostic is one entry of the append-only detection log. The id and the
// detection time are assigned by the store.
type Diagnostic struct {
	ID                 string     `json:"id"`
	PostingID          string     `json:"posting_id"`
	RuleID             string     `json:"rule_id"`
	Code               string     `json:"code"`
	Severity           Severity   `json:"severity"`
	Field              string     `json:"field,omitempty"`
	Resolved           bool       `json:"resolved"`
	ResolutionMethod   Resolution `json:"resolution_method,omitempty"`
	ReprocessRequested bool       `json:"reprocess_requested"`
	DetectedAt         time.Time  `json:"detected_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}

// Open reports diagnostics still waiting for a resolution, escalated ones included.
func (d Diagnostic) Open() bool {
	return !d.Resolved
}

// Pending reports diagnostics nobody has acted on yet.
func (d Diagnostic) Pending() bool {
	return !d.Resolved && d.ResolutionMethod == ResolutionNone
}

// Escalated reports diagnostics waiting in the review queue.
func (d Diagnostic) Escalated() bool {
	return !d.Resolved && d.ResolutionMethod == ResolutionEscalated
}

// Resolve marks the diagnostic resolved by method at t.
func (d *Diagnostic) Resolve(method Resolution, t time.Time) {
	t = t.UTC()
	d.Resolved = true
	d.ResolutionMethod = method
	d.ResolvedAt = &t
}

// Escalate moves the diagnostic to the review queue. It stays open.
func (d *Diagnostic) Escalate() {
	d.ResolutionMethod = ResolutionEscalated
}
