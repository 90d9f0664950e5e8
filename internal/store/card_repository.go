package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"boltcard-withdraw-server/internal/crypto"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCardNotFound      = errors.New("card not found")
	ErrCodeNotFound      = errors.New("provisioning code not found")
	ErrCodeExpired       = errors.New("provisioning code expired")
	ErrCodeAlreadyUsed   = errors.New("provisioning code already used")
	ErrStaleCounter      = errors.New("counter did not advance")
)

// CardRepository owns the cards table, including at-rest encryption of the
// five per-card SUN keys with the server's master key.
type CardRepository struct {
	db        *pgxpool.Pool
	masterKey []byte
}

func NewCardRepository(db *DB, masterKey []byte) *CardRepository {
	return &CardRepository{db: db.pool, masterKey: masterKey}
}

type CreateCardParams struct {
	CardName        string
	TxLimitSats     int64
	DayLimitSats    int64
	Enabled         bool
	ProvisioningTTL time.Duration
}

// CreateCardResult carries the provisioning material back to the admin caller
// exactly once; it is never retrievable again after FetchProvisioning.
type CreateCardResult struct {
	CardID      int64
	OneTimeCode string
}

// Create generates five fresh 128-bit keys and a one-time provisioning code,
// then inserts a new card row with last_counter = 0.
func (r *CardRepository) Create(ctx context.Context, p CreateCardParams) (*CreateCardResult, error) {
	keys := make([]string, 5)
	for i := range keys {
		raw := make([]byte, 16)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate card key: %w", err)
		}
		enc, err := crypto.Encrypt(hex.EncodeToString(raw), r.masterKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt card key: %w", err)
		}
		keys[i] = enc
	}

	codeRaw := make([]byte, 32)
	if _, err := rand.Read(codeRaw); err != nil {
		return nil, fmt.Errorf("failed to generate one-time code: %w", err)
	}
	code := hex.EncodeToString(codeRaw)

	ttl := p.ProvisioningTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	expiry := time.Now().UTC().Add(ttl)

	query := `INSERT INTO cards (
		uid, k0, k1, k2, k3, k4, last_counter, enabled,
		tx_limit_sats, day_limit_sats, card_name,
		one_time_code, one_time_code_expiry, one_time_code_used, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, $12, false, $13)
	RETURNING card_id`

	var cardID int64
	err := r.db.QueryRow(ctx, query,
		"", keys[0], keys[1], keys[2], keys[3], keys[4], p.Enabled,
		p.TxLimitSats, p.DayLimitSats, p.CardName,
		code, expiry, time.Now().UTC(),
	).Scan(&cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	return &CreateCardResult{CardID: cardID, OneTimeCode: code}, nil
}

// ProvisioningMaterial is the one-shot response to fetch_provisioning: the
// five plaintext keys plus the card's display name.
type ProvisioningMaterial struct {
	CardID   int64
	CardName string
	K0       string
	K1       string
	K2       string
	K3       string
	K4       string
}

// FetchProvisioning atomically consumes a one-time code and returns the
// card's keys in the clear. A code may be consumed at most once.
func (r *CardRepository) FetchProvisioning(ctx context.Context, code string) (*ProvisioningMaterial, error) {
	query := `UPDATE cards SET one_time_code_used = true
		WHERE one_time_code = $1 AND one_time_code_used = false AND one_time_code_expiry > now()
		RETURNING card_id, card_name, k0, k1, k2, k3, k4`

	var m ProvisioningMaterial
	var k0, k1, k2, k3, k4 string
	err := r.db.QueryRow(ctx, query, code).Scan(&m.CardID, &m.CardName, &k0, &k1, &k2, &k3, &k4)
	if err == nil {
		if m.K0, err = crypto.Decrypt(k0, r.masterKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt k0: %w", err)
		}
		if m.K1, err = crypto.Decrypt(k1, r.masterKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt k1: %w", err)
		}
		if m.K2, err = crypto.Decrypt(k2, r.masterKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt k2: %w", err)
		}
		if m.K3, err = crypto.Decrypt(k3, r.masterKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt k3: %w", err)
		}
		if m.K4, err = crypto.Decrypt(k4, r.masterKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt k4: %w", err)
		}
		return &m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to fetch provisioning: %w", err)
	}

	// The conditional update matched nothing; classify why.
	var used bool
	var expiry time.Time
	selErr := r.db.QueryRow(ctx, `SELECT one_time_code_used, one_time_code_expiry FROM cards WHERE one_time_code = $1`, code).Scan(&used, &expiry)
	if errors.Is(selErr, pgx.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if selErr != nil {
		return nil, fmt.Errorf("failed to classify provisioning failure: %w", selErr)
	}
	if used {
		return nil, ErrCodeAlreadyUsed
	}
	return nil, ErrCodeExpired
}

// GetByID loads a card and decrypts its k1/k2 keys for tap authentication.
// k0/k3/k4 remain encrypted at rest and are not decrypted here.
func (r *CardRepository) GetByID(ctx context.Context, cardID int64) (*Card, error) {
	query := `SELECT card_id, uid, k1, k2, last_counter, enabled,
		tx_limit_sats, day_limit_sats, card_name, created_at
	FROM cards WHERE card_id = $1`

	var c Card
	var encK1, encK2 string
	err := r.db.QueryRow(ctx, query, cardID).Scan(
		&c.CardID, &c.UID, &encK1, &encK2, &c.LastCounter, &c.Enabled,
		&c.TxLimitSats, &c.DayLimitSats, &c.CardName, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card %d: %w", cardID, err)
	}

	if c.K1, err = crypto.Decrypt(encK1, r.masterKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt k1 for card %d: %w", cardID, err)
	}
	if c.K2, err = crypto.Decrypt(encK2, r.masterKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt k2 for card %d: %w", cardID, err)
	}

	return &c, nil
}

// List returns every provisioned card for admin introspection, newest first.
// Key material stays off the wire: Card's k0..k4 fields are tagged
// json:"-", so callers get only the operational fields (limits, counter,
// enabled, uid) regardless of how the result is serialized.
func (r *CardRepository) List(ctx context.Context) ([]*Card, error) {
	query := `SELECT card_id, uid, last_counter, enabled,
		tx_limit_sats, day_limit_sats, card_name, created_at
	FROM cards ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(
			&c.CardID, &c.UID, &c.LastCounter, &c.Enabled,
			&c.TxLimitSats, &c.DayLimitSats, &c.CardName, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// AdvanceCounter is the replay-protection linchpin: it succeeds only if
// newCounter strictly exceeds the card's currently stored last_counter, and
// does so atomically as a single compare-and-swap UPDATE.
func (r *CardRepository) AdvanceCounter(ctx context.Context, cardID int64, newCounter uint32) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cards SET last_counter = $2 WHERE card_id = $1 AND last_counter < $2`,
		cardID, newCounter,
	)
	if err != nil {
		return fmt.Errorf("failed to advance counter for card %d: %w", cardID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleCounter
	}
	return nil
}

// RecordTapUID binds a card's UID on its first successful tap. If the card
// already has a UID, this is a no-op: the tap authenticator is responsible
// for comparing against the existing value before the card reaches this step.
func (r *CardRepository) RecordTapUID(ctx context.Context, cardID int64, uid string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE cards SET uid = $2 WHERE card_id = $1 AND uid = ''`,
		cardID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to record tap uid for card %d: %w", cardID, err)
	}
	return nil
}
