package domain

import "time"

// CodeIssuedEvent is published after a code record has been persisted and
// handed to the notifier.
type CodeIssuedEvent struct {
	EventID       string         `json:"event_id"`
	RecordID      string         `json:"record_id"`
	Address       string         `json:"address,omitempty"`
	MaskedAddress string         `json:"masked_address"`
	IssuedAt      time.Time      `json:"issued_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	Delivered     bool           `json:"delivered"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CodeVerifiedEvent is published after a record durably transitions to its
// verified terminal state.
type CodeVerifiedEvent struct {
	EventID       string         `json:"event_id"`
	RecordID      string         `json:"record_id"`
	Address       string         `json:"address,omitempty"`
	MaskedAddress string         `json:"masked_address"`
	VerifiedAt    time.Time      `json:"verified_at"`
	Attempts      int            `json:"attempts"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
