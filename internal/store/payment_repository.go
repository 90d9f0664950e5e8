package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrSessionNotFound       = errors.New("withdraw session not found")
	ErrSessionExpired        = errors.New("withdraw session expired")
	ErrSessionAlreadyConsumed = errors.New("withdraw session already consumed")
)

// PaymentRepository owns the card_payments table: LNURL-withdraw session
// creation, single-shot invoice binding, and rolling day-window accounting.
type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db.pool}
}

// CreateSession inserts a fresh, unbound withdraw session for a card and
// returns its k1 token (64 hex chars = 32 bytes of entropy).
func (r *PaymentRepository) CreateSession(ctx context.Context, cardID int64) (*CardPayment, error) {
	tokenRaw := make([]byte, 32)
	if _, err := rand.Read(tokenRaw); err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	k1 := hex.EncodeToString(tokenRaw)
	now := time.Now().UTC()

	query := `INSERT INTO card_payments (card_id, k1_session, paid, created_at)
		VALUES ($1, $2, false, $3)
		RETURNING payment_id`

	var paymentID int64
	if err := r.db.QueryRow(ctx, query, cardID, k1, now).Scan(&paymentID); err != nil {
		return nil, fmt.Errorf("failed to create withdraw session: %w", err)
	}

	return &CardPayment{
		PaymentID: paymentID,
		CardID:    cardID,
		K1Session: k1,
		CreatedAt: now,
	}, nil
}

// GetByK1Session looks up a session for early validation before the
// BOLT-11 invoice is even parsed.
func (r *PaymentRepository) GetByK1Session(ctx context.Context, k1 string) (*CardPayment, error) {
	query := `SELECT payment_id, card_id, k1_session, invoice, amount_msats, paid, payment_time, created_at
		FROM card_payments WHERE k1_session = $1`

	var p CardPayment
	err := r.db.QueryRow(ctx, query, k1).Scan(
		&p.PaymentID, &p.CardID, &p.K1Session, &p.Invoice, &p.AmountMsats,
		&p.Paid, &p.PaymentTime, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if p.CreatedAt.Add(SessionTTL).Before(time.Now().UTC()) {
		return nil, ErrSessionExpired
	}
	if p.Invoice != nil {
		return nil, ErrSessionAlreadyConsumed
	}
	return &p, nil
}

// BindInvoice is the single-winner operation of §4.4 step 5: it atomically
// binds an invoice and amount to a session, succeeding only if the session
// is unexpired and has not already been bound by a concurrent callback.
// This MUST commit before the dispatcher is invoked.
func (r *PaymentRepository) BindInvoice(ctx context.Context, k1 string, invoice string, amountMsats int64) (*CardPayment, error) {
	cutoff := time.Now().UTC().Add(-SessionTTL)

	query := `UPDATE card_payments
		SET invoice = $2, amount_msats = $3
		WHERE k1_session = $1 AND invoice IS NULL AND created_at > $4
		RETURNING payment_id, card_id, created_at`

	var p CardPayment
	err := r.db.QueryRow(ctx, query, k1, invoice, amountMsats, cutoff).Scan(&p.PaymentID, &p.CardID, &p.CreatedAt)
	if err == nil {
		p.K1Session = k1
		p.Invoice = &invoice
		p.AmountMsats = &amountMsats
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to bind invoice to session: %w", err)
	}

	// Determine why the CAS missed: gone, expired, or already bound.
	existing, lookupErr := r.GetByK1Session(ctx, k1)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing.Invoice != nil {
		return nil, ErrSessionAlreadyConsumed
	}
	return nil, ErrSessionExpired
}

// MarkPaid settles a session after the dispatcher reports success.
func (r *PaymentRepository) MarkPaid(ctx context.Context, paymentID int64) error {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE card_payments SET paid = true, payment_time = $2 WHERE payment_id = $1`,
		paymentID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment %d paid: %w", paymentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %d not found when marking paid", paymentID)
	}
	return nil
}

// SumPaidLast24h sums amount_msats (in sats) over the trailing 86,400-second
// window ending at now, for payments that settled successfully.
func (r *PaymentRepository) SumPaidLast24h(ctx context.Context, cardID int64, now time.Time) (int64, error) {
	since := now.Add(-DayWindow)
	query := `SELECT COALESCE(SUM(amount_msats), 0) FROM card_payments
		WHERE card_id = $1 AND paid = true AND payment_time > $2`

	var sumMsats int64
	if err := r.db.QueryRow(ctx, query, cardID, since).Scan(&sumMsats); err != nil {
		return 0, fmt.Errorf("failed to sum paid withdrawals for card %d: %w", cardID, err)
	}
	return sumMsats / 1000, nil
}
