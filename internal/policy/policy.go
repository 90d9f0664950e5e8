// Package policy implements the per-transaction and rolling-day spending
// caps applied at session creation and again at callback time.
package policy

import (
	"fmt"

	"boltcard-withdraw-server/internal/apierr"
)

// MinWithdrawMsats is the 1-sat floor LNURL-withdraw enforces on every
// invoice amount.
const MinWithdrawMsats = 1000

// MaxWithdrawableMsats computes the ceiling advertised in the initial
// withdrawRequest response: the smaller of the per-tx cap and whatever
// headroom remains under the rolling day cap, clamped at zero.
func MaxWithdrawableMsats(txLimitSats, dayLimitSats, spentTodaySats int64) int64 {
	remaining := dayLimitSats - spentTodaySats
	if remaining < 0 {
		remaining = 0
	}

	capSats := txLimitSats
	if remaining < capSats {
		capSats = remaining
	}
	if capSats < 0 {
		capSats = 0
	}

	return capSats * 1000
}

// CheckAmount validates an invoice's amount against the minimum withdrawal
// and the card's per-transaction cap. It does not consider the day cap.
func CheckAmount(amountMsats, txLimitSats int64) error {
	if amountMsats < MinWithdrawMsats {
		return apierr.New(apierr.InvoiceInvalid,
			fmt.Sprintf("amount %d msat is below the %d msat minimum", amountMsats, MinWithdrawMsats), nil)
	}
	if amountMsats > txLimitSats*1000 {
		return apierr.New(apierr.LimitExceeded,
			fmt.Sprintf("amount %d msat exceeds the per-transaction limit of %d sat", amountMsats, txLimitSats), nil)
	}
	return nil
}

// CheckDayLimit enforces the rolling 24-hour cap: the sum of what was
// already paid in the trailing window plus this withdrawal's amount must
// not exceed day_limit_sats.
func CheckDayLimit(amountMsats, dayLimitSats, spentTodaySats int64) error {
	amountSats := amountMsats / 1000
	if spentTodaySats+amountSats > dayLimitSats {
		return apierr.New(apierr.LimitExceeded,
			fmt.Sprintf("day limit exceeded: %d + %d > %d sats", spentTodaySats, amountSats, dayLimitSats), nil)
	}
	return nil
}
