package models

// ActivityMessage is an anchoring request travelling through the message queue.
// Used across tracking, processing, and messaging layers.
type ActivityMessage struct {
	RequestID    string  `json:"RequestID"`
	BatchID      string  `json:"BatchID"`
	ActivityType string  `json:"ActivityType"`
	ProductName  string  `json:"ProductName,omitempty"`
	Quantity     float64 `json:"Quantity,omitempty"`
	IsOrganic    bool    `json:"IsOrganic"`
	EvidenceRef  string  `json:"EvidenceRef,omitempty"`
	OccurredAt   string  `json:"OccurredAt"` // RFC3339Nano
}
