package lnd

import (
	"context"
	"errors"
)

// MockDispatcher is a LightningDispatcher that always succeeds with a zero
// fee, for use in tests that exercise the withdraw flow without a real LND
// connection. Set Fail to make it return PaymentOther instead.
type MockDispatcher struct {
	Fail     bool
	Preimage string
}

var _ LightningDispatcher = (*MockDispatcher)(nil)

func (m *MockDispatcher) PayInvoice(ctx context.Context, bolt11 string, expectedAmountMsats int64) (*PaymentResult, error) {
	if m.Fail {
		return &PaymentResult{Status: PaymentOther}, errMockDispatchFailed
	}
	preimage := m.Preimage
	if preimage == "" {
		preimage = "0000000000000000000000000000000000000000000000000000000000000000"
	}
	return &PaymentResult{
		Status:   PaymentSucceeded,
		Preimage: preimage,
		FeeMsats: 0,
	}, nil
}

func (m *MockDispatcher) GetInfo(ctx context.Context) (*NodeInfo, error) {
	return &NodeInfo{Alias: "mock", SyncedToChain: true, SyncedToGraph: true}, nil
}

func (m *MockDispatcher) Close() error { return nil }

var errMockDispatchFailed = errors.New("mock dispatcher configured to fail")
