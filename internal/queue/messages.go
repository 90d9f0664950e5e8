package queue

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// TapEventMessage records a single authenticated (or rejected) tap for the
// audit stream: who tapped, what counter value, and whether it passed.
type TapEventMessage struct {
	CardID  int64  `json:"card_id"`
	UID     string `json:"uid"`
	Counter uint32 `json:"counter"`
	Kind    string `json:"kind"` // apierr.Kind string, or "OK"
}

// ToJSON serializes the TapEventMessage to JSON bytes.
func (m *TapEventMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tap event message: %w", err)
	}
	return data, nil
}

// FromJSONTapEvent deserializes JSON bytes into a TapEventMessage and validates it.
func FromJSONTapEvent(data []byte) (*TapEventMessage, error) {
	msg := &TapEventMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tap event message: %w", err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// Validate checks if the TapEventMessage has all required fields with valid values.
func (m *TapEventMessage) Validate() error {
	if m.CardID <= 0 {
		return errors.New("card_id must be a positive integer")
	}
	if m.UID == "" {
		return errors.New("uid is required")
	}
	if len(m.UID) != 14 {
		return fmt.Errorf("uid must be 14 hex characters (got %d)", len(m.UID))
	}
	if _, err := hex.DecodeString(m.UID); err != nil {
		return fmt.Errorf("uid must be valid hexadecimal: %w", err)
	}
	if m.Kind == "" {
		return errors.New("kind is required")
	}
	return nil
}

// SettlementMessage records the outcome of a completed withdraw session,
// for operators reconstructing spend history without querying Postgres.
type SettlementMessage struct {
	CardID      int64  `json:"card_id"`
	PaymentID   int64  `json:"payment_id"`
	AmountMsats int64  `json:"amount_msats"`
	Status      string `json:"status"` // lnd.PaymentStatus string on success, else the failure reason
	Preimage    string `json:"preimage,omitempty"`
}

// ToJSON serializes the SettlementMessage to JSON bytes.
func (m *SettlementMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement message: %w", err)
	}
	return data, nil
}

// FromJSONSettlement deserializes JSON bytes into a SettlementMessage and validates it.
func FromJSONSettlement(data []byte) (*SettlementMessage, error) {
	msg := &SettlementMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement message: %w", err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// Validate checks if the SettlementMessage has all required fields with valid values.
func (m *SettlementMessage) Validate() error {
	if m.CardID <= 0 {
		return errors.New("card_id must be a positive integer")
	}
	if m.PaymentID <= 0 {
		return errors.New("payment_id must be a positive integer")
	}
	if m.AmountMsats <= 0 {
		return errors.New("amount_msats must be greater than 0")
	}
	if m.Status == "" {
		return errors.New("status is required")
	}
	return nil
}
