package relay

import (
	"time"

	"OpenMCP-Wallet/internal/adapter"
	xerrors "OpenMCP-Wallet/internal/errors"

	"github.com/google/uuid"
)

// Record is the serialisable form of one lifecycle event.
type Record struct {
	ID             string    `json:"id"`
	Adapter        string    `json:"adapter"`
	Event          string    `json:"event"`
	SessionID      string    `json:"session_id,omitempty"`
	Reconnected    bool      `json:"reconnected,omitempty"`
	AgentInitiated bool      `json:"agent_initiated,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewRecord flattens an orchestrator event payload into a Record.
func NewRecord(adapterName, event string, payload any, at time.Time) Record {
	rec := Record{
		ID:         uuid.NewString(),
		Adapter:    adapterName,
		Event:      event,
		OccurredAt: at.UTC(),
	}
	switch p := payload.(type) {
	case adapter.ConnectingData:
		rec.Adapter = p.Adapter
	case adapter.ConnectedData:
		rec.Adapter = p.Adapter
		rec.SessionID = p.SessionID
		rec.Reconnected = p.Reconnected
	case adapter.DisconnectedData:
		rec.Adapter = p.Adapter
		rec.AgentInitiated = p.AgentInitiated
	case error:
		rec.Error = p.Error()
		rec.ErrorCode = string(xerrors.CodeOf(p))
	case string:
		if p != "" {
			rec.Adapter = p
		}
	}
	return rec
}
