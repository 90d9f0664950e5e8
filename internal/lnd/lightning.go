package lnd

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
)

// PayInvoice pays a BOLT-11 invoice using the Router sub-server's
// SendPaymentV2 streaming RPC. It decodes the invoice first to cross-check
// its amount against expectedAmountMsats — the withdraw session manager
// already validated this, but the dispatcher must not trust the caller for
// a value that authorizes a spend.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string, expectedAmountMsats int64) (*PaymentResult, error) {
	decoded, err := c.lnClient.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: bolt11})
	if err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}

	if decoded.NumMsat != expectedAmountMsats {
		return &PaymentResult{Status: PaymentIncorrectAmount}, fmt.Errorf(
			"invoice amount (%d msat) does not match expected amount (%d msat)",
			decoded.NumMsat, expectedAmountMsats,
		)
	}

	timeoutSeconds := c.cfg.PaymentTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 60
	}

	req := &routerrpc.SendPaymentRequest{
		PaymentRequest: bolt11,
		TimeoutSeconds: int32(timeoutSeconds),
		FeeLimitMsat:   expectedAmountMsats, // routing fee bounded by invoice amount; callers enforce tx/day caps upstream
	}

	payCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	stream, err := c.routerClient.SendPaymentV2(payCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate payment: %w", err)
	}

	for {
		payment, err := stream.Recv()
		if err != nil {
			return nil, fmt.Errorf("payment stream error: %w", err)
		}

		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED:
			return &PaymentResult{
				Status:   PaymentSucceeded,
				Preimage: payment.PaymentPreimage,
				FeeMsats: payment.FeeMsat,
			}, nil

		case lnrpc.Payment_FAILED:
			status := PaymentOther
			switch payment.FailureReason {
			case lnrpc.PaymentFailureReason_FAILURE_REASON_NO_ROUTE:
				status = PaymentRouteFailed
			case lnrpc.PaymentFailureReason_FAILURE_REASON_TIMEOUT:
				status = PaymentTimeout
			}
			return &PaymentResult{Status: status}, fmt.Errorf("payment failed: %s", payment.FailureReason)

		case lnrpc.Payment_IN_FLIGHT, lnrpc.Payment_INITIATED:
			continue

		default:
			return nil, fmt.Errorf("unexpected payment status: %s", payment.Status)
		}
	}
}

// GetInfo returns basic LND node information. NewClient issues the same
// GetInfo RPC at startup for health validation.
func (c *Client) GetInfo(ctx context.Context) (*NodeInfo, error) {
	resp, err := c.lnClient.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to get node info: %w", err)
	}

	return &NodeInfo{
		Alias:         resp.Alias,
		PubKey:        resp.IdentityPubkey,
		SyncedToChain: resp.SyncedToChain,
		SyncedToGraph: resp.SyncedToGraph,
		BlockHeight:   resp.BlockHeight,
	}, nil
}
