// Package lnurlw implements the LNURL-withdraw two-step protocol: issuing a
// session after a validated tap, and resolving that session against a
// terminal-supplied BOLT-11 invoice through the Lightning dispatcher.
package lnurlw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boltcard-withdraw-server/internal/apierr"
	"boltcard-withdraw-server/internal/lnd"
	"boltcard-withdraw-server/internal/policy"
	"boltcard-withdraw-server/internal/store"
	"boltcard-withdraw-server/internal/tap"
	"boltcard-withdraw-server/pkg/cache"
	"boltcard-withdraw-server/pkg/logger"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/fiatjaf/go-lnurl"
	"go.uber.org/zap"
)

const (
	dayLimitLockPrefix = "callback:lock:"
	// dayLimitLockTTL must outlast a full settlement, not just the
	// check-and-bind: SumPaidLast24h only scans paid = true rows, so the
	// lock has to stay held through the dispatcher call and MarkPaid too,
	// or a second session could read spend that doesn't yet reflect a
	// bound-but-still-in-flight payment.
	dayLimitLockTTL = 90 * time.Second
)

// CardRepo is the subset of store.CardRepository the session manager needs
// to re-check a card's current limits at callback time.
type CardRepo interface {
	GetByID(ctx context.Context, cardID int64) (*store.Card, error)
}

// PaymentRepo is the subset of store.PaymentRepository the session manager
// drives through a withdraw session's lifecycle.
type PaymentRepo interface {
	CreateSession(ctx context.Context, cardID int64) (*store.CardPayment, error)
	GetByK1Session(ctx context.Context, k1 string) (*store.CardPayment, error)
	BindInvoice(ctx context.Context, k1 string, invoice string, amountMsats int64) (*store.CardPayment, error)
	MarkPaid(ctx context.Context, paymentID int64) error
	SumPaidLast24h(ctx context.Context, cardID int64, now time.Time) (int64, error)
}

// WithdrawRequest is the bit-exact JSON the §4.4 initial response requires.
type WithdrawRequest struct {
	Tag                string `json:"tag"`
	Callback           string `json:"callback"`
	K1                 string `json:"k1"`
	DefaultDescription string `json:"defaultDescription"`
	MinWithdrawable    int64  `json:"minWithdrawable"`
	MaxWithdrawable    int64  `json:"maxWithdrawable"`
}

// SessionManager runs the withdraw-session state machine.
type SessionManager struct {
	cards      CardRepo
	payments   PaymentRepo
	dispatcher lnd.LightningDispatcher
	domain     string
	network    *chaincfg.Params
	decode     func(bolt11 string, net *chaincfg.Params) (int64, error)

	// acquireLock/releaseLock back the per-card settlement lock. They are
	// fields rather than direct pkg/cache calls so unit tests can stub
	// them out, the same reason decode is a field: the real
	// implementation needs a live Redis connection the tests never stand up.
	acquireLock func(ctx context.Context, key string, ttl time.Duration) (bool, error)
	releaseLock func(ctx context.Context, key string)
}

func NewSessionManager(cards CardRepo, payments PaymentRepo, dispatcher lnd.LightningDispatcher, domain string, networkName string) (*SessionManager, error) {
	net, err := networkParams(networkName)
	if err != nil {
		return nil, err
	}
	return &SessionManager{
		cards:      cards,
		payments:   payments,
		dispatcher: dispatcher,
		domain:     domain,
		network:    net,
		decode:     decodeAmountMsats,
		acquireLock: func(ctx context.Context, key string, ttl time.Duration) (bool, error) {
			return cache.SetNX(ctx, key, "locked", ttl)
		},
		releaseLock: func(ctx context.Context, key string) {
			if _, err := cache.Delete(ctx, key); err != nil {
				logger.Error("failed to release settlement lock", zap.String("key", key), zap.Error(err))
			}
		},
	}, nil
}

// CreateSession issues a fresh withdraw session for a card that just passed
// tap authentication. If the rolling day cap is already exhausted, no
// session is created and a LimitExceeded error is returned instead.
func (m *SessionManager) CreateSession(ctx context.Context, auth *tap.AuthResult) (*WithdrawRequest, error) {
	maxWithdrawable := policy.MaxWithdrawableMsats(auth.TxLimitSats, auth.DayLimitSats, auth.SpentTodaySats)
	if maxWithdrawable <= 0 {
		return nil, apierr.New(apierr.LimitExceeded, "daily withdrawal limit already reached", nil)
	}

	session, err := m.payments.CreateSession(ctx, auth.CardID)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "internal error", err)
	}

	return &WithdrawRequest{
		Tag:                "withdrawRequest",
		Callback:           fmt.Sprintf("https://%s/ln/callback", m.domain),
		K1:                 session.K1Session,
		DefaultDescription: auth.CardName + " withdraw",
		MinWithdrawable:    policy.MinWithdrawMsats,
		MaxWithdrawable:    maxWithdrawable,
	}, nil
}

// SettlementResult reports the outcome of a completed withdraw callback:
// which card and session it settled against, how much, and what the
// dispatcher returned. It is still populated when binding succeeds but the
// dispatcher itself fails, so callers can still audit which session was
// consumed; Payment then holds whatever the dispatcher returned, which may
// be nil.
type SettlementResult struct {
	CardID      int64
	PaymentID   int64
	AmountMsats int64
	Payment     *lnd.PaymentResult
}

// CompleteWithdraw resolves a session against a terminal-supplied invoice:
// parse and validate the invoice, atomically consume the session, then
// dispatch the payment. Binding the invoice (step 5) commits before the
// dispatcher is ever invoked, so a client disconnect afterward cannot undo
// an in-flight payment.
func (m *SessionManager) CompleteWithdraw(ctx context.Context, k1Session string, bolt11 string) (*SettlementResult, error) {
	session, err := m.lookupSession(ctx, k1Session)
	if err != nil {
		return nil, err
	}

	amountMsats, err := m.decode(bolt11, m.network)
	if err != nil {
		return nil, err
	}

	card, err := m.cards.GetByID(ctx, session.CardID)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "internal error", err)
	}

	if err := policy.CheckAmount(amountMsats, card.TxLimitSats); err != nil {
		return nil, err
	}

	// Two sessions on the same card could each read a pre-settlement spent
	// total and both pass CheckDayLimit before either commits, jointly
	// exceeding the day cap. A per-card lock held for the rest of this
	// call serializes settlement so the second caller re-reads spend that
	// already reflects the first caller's outcome.
	lockKey := fmt.Sprintf("%s%d", dayLimitLockPrefix, card.CardID)
	acquired, err := m.acquireLock(ctx, lockKey, dayLimitLockTTL)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "internal error", err)
	}
	if !acquired {
		return nil, apierr.New(apierr.Internal, "a withdrawal is already in progress for this card", nil)
	}
	defer m.releaseLock(ctx, lockKey)

	spent, err := m.payments.SumPaidLast24h(ctx, card.CardID, time.Now().UTC())
	if err != nil {
		return nil, apierr.New(apierr.Internal, "internal error", err)
	}
	if err := policy.CheckDayLimit(amountMsats, card.DayLimitSats, spent); err != nil {
		return nil, err
	}

	bound, err := m.payments.BindInvoice(ctx, k1Session, bolt11, amountMsats)
	if err != nil {
		return nil, m.mapSessionErr(err)
	}

	settled := &SettlementResult{CardID: bound.CardID, PaymentID: bound.PaymentID, AmountMsats: amountMsats}

	payment, err := m.dispatcher.PayInvoice(ctx, bolt11, amountMsats)
	settled.Payment = payment
	if err != nil {
		// paid stays false; this session's amount never counts against
		// the rolling day-limit sum, since SumPaidLast24h only scans
		// paid = true rows.
		return settled, apierr.New(apierr.DispatcherFailed, "payment could not be completed", err)
	}

	if err := m.payments.MarkPaid(ctx, bound.PaymentID); err != nil {
		return settled, apierr.New(apierr.Internal, "internal error", err)
	}

	return settled, nil
}

func (m *SessionManager) lookupSession(ctx context.Context, k1Session string) (*store.CardPayment, error) {
	session, err := m.payments.GetByK1Session(ctx, k1Session)
	if err != nil {
		return nil, m.mapSessionErr(err)
	}
	return session, nil
}

func (m *SessionManager) mapSessionErr(err error) error {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return apierr.New(apierr.NotFound, "unknown withdraw session", err)
	case errors.Is(err, store.ErrSessionExpired):
		return apierr.New(apierr.Expired, "withdraw session expired", err)
	case errors.Is(err, store.ErrSessionAlreadyConsumed):
		return apierr.New(apierr.AlreadyConsumed, "withdraw session already used", err)
	default:
		return apierr.New(apierr.Internal, "internal error", err)
	}
}

// ErrorEnvelope renders a reason into LNURL's {status,reason} JSON shape,
// using the same response type every LNURL client expects.
func ErrorEnvelope(reason string) lnurl.LNURLResponse {
	return lnurl.LNURLResponse{Status: "ERROR", Reason: reason}
}

// OkEnvelope renders the success envelope LNURL callbacks return.
func OkEnvelope() lnurl.LNURLResponse {
	return lnurl.LNURLResponse{Status: "OK"}
}
