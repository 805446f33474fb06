package models

import (
	"time"
)

// AttemptStatus is the outcome of a single rollover invocation
type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	AttemptStatusSuccess AttemptStatus = "success"
	AttemptStatusFailed  AttemptStatus = "failed"
)

// Trigger records what started an invocation
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Attempt represents one rollover transaction attempt
type Attempt struct {
	ID          string        `json:"id" db:"id"`
	Trigger     Trigger       `json:"trigger" db:"trigger"`
	Contract    string        `json:"contract" db:"contract"`
	Method      string        `json:"method" db:"method"`
	Status      AttemptStatus `json:"status" db:"status"`
	TxHash      string        `json:"tx_hash,omitempty" db:"tx_hash"`
	BlockNumber uint64        `json:"block_number,omitempty" db:"block_number"`
	GasUsed     uint64        `json:"gas_used,omitempty" db:"gas_used"`
	Error       string        `json:"error,omitempty" db:"error"`
	Message     string        `json:"message" db:"message"`
	StartedAt   time.Time     `json:"started_at" db:"started_at"`
	FinishedAt  time.Time     `json:"finished_at" db:"finished_at"`
}

// Succeeded reports whether the attempt was confirmed on chain
func (a *Attempt) Succeeded() bool {
	return a.Status == AttemptStatusSuccess
}

// Duration returns the wall time the attempt took
func (a *Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// AttemptFilter for querying attempt history
type AttemptFilter struct {
	Status *AttemptStatus `json:"status,omitempty"`
	Since  *time.Time     `json:"since,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}
