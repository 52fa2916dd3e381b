package model

import "time"

type OutcomeStatus string

const (
	StatusSent         OutcomeStatus = "sent"
	StatusFailed       OutcomeStatus = "fail"
	StatusSkipped      OutcomeStatus = "skipped"
	StatusInvalidPhone OutcomeStatus = "invalid_phone"
)

// Recipient is one target of a dispatch call. It is built per request and
// never persisted by this subsystem.
type Recipient struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	OrderID  string `json:"orderId,omitempty"`
	OrderRef string `json:"orderRef,omitempty"`
}

// Outcome is the result of processing a single recipient.
type Outcome struct {
	Recipient   Recipient     `json:"recipient"`
	Status      OutcomeStatus `json:"status"`
	PhoneE164   string        `json:"phoneE164,omitempty"`
	MessageText string        `json:"messageText,omitempty"`
	WaMessageID string        `json:"waMessageId,omitempty"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// DispatchResult is the final summary of one dispatch call, one Outcome per
// input recipient, in input order.
type DispatchResult struct {
	OK           bool      `json:"ok"`
	DryRun       bool      `json:"dryRun"`
	BatchID      string    `json:"batchId"`
	Outcomes     []Outcome `json:"results"`
	TotalSent    int       `json:"totalSent"`
	TotalFailed  int       `json:"totalFailed"`
	TotalSkipped int       `json:"totalSkipped"`
	TotalInvalid int       `json:"totalInvalid"`
}

// LogEntry is the append-only audit record persisted per Outcome.
type LogEntry struct {
	ID          int64
	BatchID     string
	PhoneRaw    string
	PhoneE164   string
	TemplateKey string
	MessageText string
	Status      OutcomeStatus
	WaMessageID string
	ErrorText   string
	SentAt      time.Time
}

// BatchStats aggregates the message log across batches.
type BatchStats struct {
	Total        int64 `json:"total"`
	Sent         int64 `json:"sent"`
	Failed       int64 `json:"failed"`
	Skipped      int64 `json:"skipped"`
	InvalidPhone int64 `json:"invalidPhone"`
	Batches      int64 `json:"batches"`
}
