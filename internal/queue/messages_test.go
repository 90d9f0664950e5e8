package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TapEventMessage Tests
// =============================================================================

func TestTapEventMessage_ToJSON(t *testing.T) {
	msg := &TapEventMessage{
		CardID:  42,
		UID:     "04aabbccddeeff",
		Counter: 7,
		Kind:    "OK",
	}

	data, err := msg.ToJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	require.NoError(t, err)
	assert.Equal(t, float64(42), result["card_id"])
	assert.Equal(t, "04aabbccddeeff", result["uid"])
	assert.Equal(t, float64(7), result["counter"])
	assert.Equal(t, "OK", result["kind"])
}

func TestFromJSONTapEvent_Success(t *testing.T) {
	jsonData := []byte(`{
		"card_id": 42,
		"uid": "04aabbccddeeff",
		"counter": 7,
		"kind": "OK"
	}`)

	msg, err := FromJSONTapEvent(jsonData)
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.CardID)
	assert.Equal(t, "04aabbccddeeff", msg.UID)
	assert.Equal(t, uint32(7), msg.Counter)
	assert.Equal(t, "OK", msg.Kind)
}

func TestFromJSONTapEvent_InvalidJSON(t *testing.T) {
	msg, err := FromJSONTapEvent([]byte(`invalid json`))
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}

func TestFromJSONTapEvent_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		jsonData    string
		expectError string
	}{
		{
			name:        "Zero card_id",
			jsonData:    `{"card_id": 0, "uid": "04aabbccddeeff", "kind": "OK"}`,
			expectError: "card_id must be a positive integer",
		},
		{
			name:        "Missing uid",
			jsonData:    `{"card_id": 1, "kind": "OK"}`,
			expectError: "uid is required",
		},
		{
			name:        "Invalid uid length",
			jsonData:    `{"card_id": 1, "uid": "04aa", "kind": "OK"}`,
			expectError: "uid must be 14 hex characters",
		},
		{
			name:        "Non-hex uid",
			jsonData:    `{"card_id": 1, "uid": "zzaabbccddeeff", "kind": "OK"}`,
			expectError: "uid must be valid hexadecimal",
		},
		{
			name:        "Missing kind",
			jsonData:    `{"card_id": 1, "uid": "04aabbccddeeff"}`,
			expectError: "kind is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := FromJSONTapEvent([]byte(tt.jsonData))
			assert.Error(t, err)
			assert.Nil(t, msg)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestTapEventMessage_RoundTrip(t *testing.T) {
	original := &TapEventMessage{CardID: 99, UID: "04112233445566", Counter: 3, Kind: "Replay"}

	data, err := original.ToJSON()
	require.NoError(t, err)

	msg, err := FromJSONTapEvent(data)
	require.NoError(t, err)

	assert.Equal(t, original.CardID, msg.CardID)
	assert.Equal(t, original.UID, msg.UID)
	assert.Equal(t, original.Counter, msg.Counter)
	assert.Equal(t, original.Kind, msg.Kind)
}

// =============================================================================
// SettlementMessage Tests
// =============================================================================

func TestSettlementMessage_ToJSON(t *testing.T) {
	msg := &SettlementMessage{
		CardID:      42,
		PaymentID:   7,
		AmountMsats: 500_000,
		Status:      "Success",
		Preimage:    "ff00",
	}

	data, err := msg.ToJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	require.NoError(t, err)
	assert.Equal(t, float64(42), result["card_id"])
	assert.Equal(t, float64(7), result["payment_id"])
	assert.Equal(t, float64(500000), result["amount_msats"])
	assert.Equal(t, "Success", result["status"])
	assert.Equal(t, "ff00", result["preimage"])
}

func TestFromJSONSettlement_Success(t *testing.T) {
	jsonData := []byte(`{
		"card_id": 42,
		"payment_id": 7,
		"amount_msats": 500000,
		"status": "Success"
	}`)

	msg, err := FromJSONSettlement(jsonData)
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.CardID)
	assert.Equal(t, int64(7), msg.PaymentID)
	assert.Equal(t, int64(500000), msg.AmountMsats)
	assert.Equal(t, "Success", msg.Status)
}

func TestFromJSONSettlement_InvalidJSON(t *testing.T) {
	msg, err := FromJSONSettlement([]byte(`invalid json`))
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}

func TestFromJSONSettlement_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		jsonData    string
		expectError string
	}{
		{
			name:        "Zero card_id",
			jsonData:    `{"card_id": 0, "payment_id": 1, "amount_msats": 1000, "status": "Success"}`,
			expectError: "card_id must be a positive integer",
		},
		{
			name:        "Zero payment_id",
			jsonData:    `{"card_id": 1, "payment_id": 0, "amount_msats": 1000, "status": "Success"}`,
			expectError: "payment_id must be a positive integer",
		},
		{
			name:        "Zero amount",
			jsonData:    `{"card_id": 1, "payment_id": 1, "amount_msats": 0, "status": "Success"}`,
			expectError: "amount_msats must be greater than 0",
		},
		{
			name:        "Missing status",
			jsonData:    `{"card_id": 1, "payment_id": 1, "amount_msats": 1000}`,
			expectError: "status is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := FromJSONSettlement([]byte(tt.jsonData))
			assert.Error(t, err)
			assert.Nil(t, msg)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestSettlementMessage_RoundTrip(t *testing.T) {
	original := &SettlementMessage{CardID: 5, PaymentID: 11, AmountMsats: 250_000, Status: "Success", Preimage: "abcd"}

	data, err := original.ToJSON()
	require.NoError(t, err)

	msg, err := FromJSONSettlement(data)
	require.NoError(t, err)

	assert.Equal(t, original.CardID, msg.CardID)
	assert.Equal(t, original.PaymentID, msg.PaymentID)
	assert.Equal(t, original.AmountMsats, msg.AmountMsats)
	assert.Equal(t, original.Status, msg.Status)
	assert.Equal(t, original.Preimage, msg.Preimage)
}
