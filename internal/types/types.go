// Package types defines core data structures for phishbeads.
package types

// Kind distinguishes the origin of an indicator.
type Kind int

// Indicator kinds. KindTest entries are synthetic and survive feed refreshes.
const (
	KindTest   Kind = 0
	KindDomain Kind = 1
	KindEmail  Kind = 2
)

// String returns the report label for a kind.
func (k Kind) String() string {
	switch k {
	case KindTest:
		return "Test"
	case KindDomain:
		return "Domain"
	case KindEmail:
		return "Email"
	default:
		return "Unknown"
	}
}

// ReportState is the lifecycle state of an incident report.
type ReportState int

// Report states: pending -> in-transit -> {reported, pending}.
const (
	ReportInTransit ReportState = -1
	ReportPending   ReportState = 0
	ReportDone      ReportState = 1
)

// String returns a short label for the report state.
func (s ReportState) String() string {
	switch s {
	case ReportInTransit:
		return "in-transit"
	case ReportPending:
		return "pending"
	case ReportDone:
		return "reported"
	default:
		return "unknown"
	}
}

// CanTransition reports whether an incident may move from s to next.
func (s ReportState) CanTransition(next ReportState) bool {
	switch s {
	case ReportPending:
		return next == ReportInTransit
	case ReportInTransit:
		return next == ReportDone || next == ReportPending
	default:
		return false
	}
}

// EmailStatus is the cached verdict of an inspected email.
type EmailStatus int

// Email status values.
const (
	StatusSuspicious EmailStatus = -1
	StatusUnknown    EmailStatus = 0
	StatusClean      EmailStatus = 1
)

// String returns a short label for the status.
func (s EmailStatus) String() string {
	switch s {
	case StatusSuspicious:
		return "suspicious"
	case StatusClean:
		return "clean"
	default:
		return "unknown"
	}
}

// Indicator is a known-bad fingerprint supplied by the node feed.
type Indicator struct {
	ID          int64  `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Kind        Kind   `json:"kind"`
}

// IndicatorRef is the lookup result for a fingerprint.
type IndicatorRef struct {
	ID   int64 `json:"id"`
	Kind Kind  `json:"kind"`
}

// Email is an inspected message, keyed by its Message-ID header.
type Email struct {
	ID        int64       `json:"id"`
	MessageID string      `json:"message_id"`
	Label     string      `json:"label,omitempty"`
	Status    EmailStatus `json:"status"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Tag records one candidate string examined for one email.
type Tag struct {
	ID          int64  `json:"id"`
	EmailID     int64  `json:"email_id"`
	Raw         string `json:"raw"`
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint"`
	IndicatorID *int64 `json:"indicator_id,omitempty"`
}

// Resolved reports whether the tag matched an indicator.
func (t *Tag) Resolved() bool {
	return t.IndicatorID != nil
}

// Incident is the occurrence of a resolved tag, queued for reporting.
type Incident struct {
	ID        int64       `json:"id"`
	TagID     int64       `json:"tag_id"`
	Timestamp int64       `json:"timestamp"`
	Reported  ReportState `json:"reported"`
}

// IncidentDetail joins an incident with its tag, indicator and email context.
type IncidentDetail struct {
	ID          int64       `json:"id"`
	Timestamp   int64       `json:"timestamp"`
	Raw         string      `json:"raw"`
	Type        string      `json:"type"`
	Fingerprint string      `json:"fingerprint"`
	Kind        Kind        `json:"kind"`
	Context     string      `json:"context"`
	Reported    ReportState `json:"reported"`
}

// Indication is a reported or pending incident as seen from one email.
type Indication struct {
	ID       int64       `json:"id"`
	Reported ReportState `json:"reported"`
	Raw      string      `json:"raw"`
	Type     string      `json:"type"`
}

// SyncResult holds the outcome of one indicator feed synchronisation.
type SyncResult struct {
	Full       bool     `json:"full"`
	Domains    int      `json:"domains"`
	Emails     int      `json:"emails"`
	Inserted   int      `json:"inserted"`
	Failed     int      `json:"failed"`
	FilterBits int      `json:"filter_bits,omitempty"`
	Resolved   int      `json:"resolved"`
	MessageIDs []string `json:"message_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Stats is a snapshot of table sizes used by the status command.
type Stats struct {
	Indicators     int `json:"indicators"`
	TestIndicators int `json:"test_indicators"`
	Emails         int `json:"emails"`
	Suspicious     int `json:"suspicious"`
	Tags           int `json:"tags"`
	Unresolved     int `json:"unresolved"`
	Pending        int `json:"pending"`
	InTransit      int `json:"in_transit"`
	Reported       int `json:"reported"`
}
