// Package tap implements end-to-end validation of a single NFC tap: hex
// parsing, card lookup, PICC decryption, CMAC verification, and the
// strictly-monotonic counter advance that is the core replay defense.
package tap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"boltcard-withdraw-server/internal/apierr"
	"boltcard-withdraw-server/internal/store"
	"boltcard-withdraw-server/internal/sun"
	"boltcard-withdraw-server/pkg/cache"
	"boltcard-withdraw-server/pkg/logger"

	"go.uber.org/zap"
)

const (
	cardLockPrefix = "tap:lock:"
	cardLockTTL    = 10 * time.Second
)

// CardRepo is the subset of store.CardRepository the authenticator needs.
type CardRepo interface {
	GetByID(ctx context.Context, cardID int64) (*store.Card, error)
	AdvanceCounter(ctx context.Context, cardID int64, newCounter uint32) error
	RecordTapUID(ctx context.Context, cardID int64, uid string) error
}

// PaymentRepo is the subset of store.PaymentRepository the authenticator
// needs to report rolling spend back to the session manager.
type PaymentRepo interface {
	SumPaidLast24h(ctx context.Context, cardID int64, now time.Time) (int64, error)
}

// Authenticator validates taps against the card store.
type Authenticator struct {
	cards    CardRepo
	payments PaymentRepo
}

func NewAuthenticator(cards CardRepo, payments PaymentRepo) *Authenticator {
	return &Authenticator{cards: cards, payments: payments}
}

// AuthResult is handed off to the withdraw session manager on a successful
// tap.
type AuthResult struct {
	CardID         int64
	CardName       string
	UID            string
	Counter        uint32
	TxLimitSats    int64
	DayLimitSats   int64
	SpentTodaySats int64
}

// AuthenticateTap runs the full tap pipeline described in the withdraw
// protocol: parse, look up, decrypt, verify, advance, record.
func (a *Authenticator) AuthenticateTap(ctx context.Context, cardID int64, pHex, cHex string) (*AuthResult, error) {
	p, c, err := parseTapHex(pHex, cHex)
	if err != nil {
		return nil, err
	}

	card, err := a.cards.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			return nil, apierr.New(apierr.NotFound, "card not found", err)
		}
		return nil, apierr.New(apierr.Internal, "internal error", err)
	}

	if !card.Enabled {
		return nil, apierr.New(apierr.Disabled, "card is disabled", nil)
	}

	lockKey := fmt.Sprintf("%s%d", cardLockPrefix, cardID)
	acquired, err := cache.SetNX(ctx, lockKey, "locked", cardLockTTL)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "internal error", err)
	}
	if !acquired {
		return nil, apierr.New(apierr.Internal, "tap already in progress for this card", nil)
	}
	defer cache.Delete(ctx, lockKey)

	picc, err := sun.Decrypt(p, mustHexDecode(card.K1))
	if err != nil {
		return nil, apierr.New(apierr.BadPayload, "authentication failed", err)
	}

	if err := sun.VerifyCmac(c, mustHexDecode(card.K2), picc.UID, picc.Counter); err != nil {
		return nil, apierr.New(apierr.BadMac, "authentication failed", err)
	}

	tapUID := hex.EncodeToString(picc.UID[:])
	if card.UID != "" && card.UID != tapUID {
		return nil, apierr.New(apierr.UidMismatch, "authentication failed", nil)
	}

	if picc.Counter > store.CounterWarnThreshold {
		logger.Warn("card counter approaching wrap limit",
			zap.Int64("card_id", cardID), zap.Uint32("counter", picc.Counter))
	}

	if err := a.cards.AdvanceCounter(ctx, cardID, picc.Counter); err != nil {
		if errors.Is(err, store.ErrStaleCounter) {
			return nil, apierr.New(apierr.Replay, "authentication failed", err)
		}
		return nil, apierr.New(apierr.Internal, "internal error", err)
	}

	if card.UID == "" {
		if err := a.cards.RecordTapUID(ctx, cardID, tapUID); err != nil {
			logger.Error("failed to record tap uid", zap.Int64("card_id", cardID), zap.Error(err))
		}
	}

	spent, err := a.payments.SumPaidLast24h(ctx, cardID, time.Now().UTC())
	if err != nil {
		return nil, apierr.New(apierr.Internal, "internal error", err)
	}

	return &AuthResult{
		CardID:         cardID,
		CardName:       card.CardName,
		UID:            tapUID,
		Counter:        picc.Counter,
		TxLimitSats:    card.TxLimitSats,
		DayLimitSats:   card.DayLimitSats,
		SpentTodaySats: spent,
	}, nil
}

func parseTapHex(pHex, cHex string) ([]byte, []byte, error) {
	if len(pHex) != 32 {
		return nil, nil, apierr.New(apierr.MalformedRequest, fmt.Sprintf("p must be 32 hex chars, got %d", len(pHex)), nil)
	}
	if len(cHex) != 16 {
		return nil, nil, apierr.New(apierr.MalformedRequest, fmt.Sprintf("c must be 16 hex chars, got %d", len(cHex)), nil)
	}

	p, err := hex.DecodeString(pHex)
	if err != nil {
		return nil, nil, apierr.New(apierr.MalformedRequest, "p is not valid hex", err)
	}
	c, err := hex.DecodeString(cHex)
	if err != nil {
		return nil, nil, apierr.New(apierr.MalformedRequest, "c is not valid hex", err)
	}
	return p, c, nil
}

// mustHexDecode decodes a card key stored as a hex string in memory.
// Keys are generated and stored as hex by store.CardRepository; a decode
// failure here indicates store corruption, not caller input.
func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("card key is not valid hex: %v", err))
	}
	return b
}
