package store

import "time"

// Card is a provisioned Bolt Card: its five NXP SUN keys, its replay counter,
// and the spending policy applied to every withdraw it authorizes.
type Card struct {
	CardID             int64     `json:"card_id" db:"card_id"`
	UID                string    `json:"uid" db:"uid"`
	K0                 string    `json:"-" db:"k0"` // encrypted at rest, returned only at provisioning fetch
	K1                 string    `json:"-" db:"k1"`
	K2                 string    `json:"-" db:"k2"`
	K3                 string    `json:"-" db:"k3"`
	K4                 string    `json:"-" db:"k4"`
	LastCounter        uint32    `json:"last_counter" db:"last_counter"`
	Enabled            bool      `json:"enabled" db:"enabled"`
	TxLimitSats        int64     `json:"tx_limit_sats" db:"tx_limit_sats"`
	DayLimitSats       int64     `json:"day_limit_sats" db:"day_limit_sats"`
	CardName           string    `json:"card_name" db:"card_name"`
	OneTimeCode        string    `json:"-" db:"one_time_code"`
	OneTimeCodeExpiry  time.Time `json:"-" db:"one_time_code_expiry"`
	OneTimeCodeUsed    bool      `json:"-" db:"one_time_code_used"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// MaxCounter is the 24-bit ceiling a card's on-chip counter can reach before
// it must be re-provisioned. Wrap-around is not supported.
const MaxCounter = 1<<24 - 1

// CounterWarnThreshold is the point at which a tap should log a warning that
// the card is approaching MaxCounter.
const CounterWarnThreshold = MaxCounter - 1024

// CardPayment is a single LNURL-withdraw session bound to a card, from the
// tap that created it through an optional invoice bind and settlement.
type CardPayment struct {
	PaymentID    int64      `json:"payment_id" db:"payment_id"`
	CardID       int64      `json:"card_id" db:"card_id"`
	K1Session    string     `json:"k1_session" db:"k1_session"`
	Invoice      *string    `json:"invoice,omitempty" db:"invoice"`
	AmountMsats  *int64     `json:"amount_msats,omitempty" db:"amount_msats"`
	Paid         bool       `json:"paid" db:"paid"`
	PaymentTime  *time.Time `json:"payment_time,omitempty" db:"payment_time"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// SessionTTL is how long a withdraw session stays valid after creation.
const SessionTTL = 5 * time.Minute

// DayWindow is the rolling spend-accounting window, 24 hours in seconds.
const DayWindow = 86400 * time.Second
