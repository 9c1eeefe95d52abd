package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical event envelope.
// All messages published to NATS follow this format.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	RequestID     string          `json:"request_id,omitempty"`
	ExecutionID   string          `json:"execution_id,omitempty"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// ExecuteSwapCommand is the inbound command that starts an execution,
// consumed from the command queue or accepted over HTTP.
type ExecuteSwapCommand struct {
	ExecutionID string `json:"execution_id"`
	Delegated   bool   `json:"delegated"`
	Quote       *Quote `json:"quote"`
}

// SwapStatusEvent is published on step transitions and terminal outcomes.
type SwapStatusEvent struct {
	ExecutionID string      `json:"execution_id"`
	RequestID   string      `json:"request_id,omitempty"`
	Status      CheckStatus `json:"status,omitempty"`
	StepID      string      `json:"step_id,omitempty"`
	Error       string      `json:"error,omitempty"`
	Final       bool        `json:"final"`
	Timestamp   time.Time   `json:"timestamp"`
}
