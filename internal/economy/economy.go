package economy

import (
	"encoding/base64"
	"fmt"
	"time"
)

const day = 24 * time.Hour

// Mean returns the arithmetic mean of votes. ok is false when there are
// none; an empty vote set has no mean, not a mean of zero.
func Mean(votes []Amount) (mean Amount, ok bool) {
	if len(votes) == 0 {
		return Amount{}, false
	}
	var sum Amount
	for _, v := range votes {
		sum = sum.Add(v)
	}
	return sum.Quo(FromInt(int64(len(votes)))), true
}

// Accrual is the state of one member's balance.
type Accrual struct {
	Balance     Amount
	LastStipend time.Time
}

// Accrue adds stipend for every whole day between the last accrual and
// now, plus increment, floors the result to 1/units and moves the accrual
// time to now. A clock that went backwards accrues no days.
func Accrue(a Accrual, now time.Time, stipend, increment Amount, units int64) Accrual {
	var days int64
	if !a.LastStipend.IsZero() && now.After(a.LastStipend) {
		days = int64(now.Sub(a.LastStipend) / day)
	}
	balance := a.Balance.Add(stipend.Mul(FromInt(days))).Add(increment)
	return Accrual{Balance: balance.Floor(units), LastStipend: now}
}

// Debit takes amount plus a fee of amount×rate from balance.
func Debit(balance, amount, rate Amount) (Amount, error) {
	cost := amount.Add(amount.Mul(rate))
	if balance.Cmp(cost) < 0 {
		return balance, fmt.Errorf("need %s, have %s: %w", cost, balance, ErrInsufficientFunds)
	}
	return balance.Sub(cost), nil
}

// MemberTag derives the address of a (user, group) balance record: the
// byte-wise XOR of the two decoded tags, the shorter zero-padded. The
// result does not depend on argument order.
func MemberTag(user, group string) (string, error) {
	u, err := base64.RawURLEncoding.DecodeString(user)
	if err != nil {
		return "", fmt.Errorf("member tag: user: %w", err)
	}
	g, err := base64.RawURLEncoding.DecodeString(group)
	if err != nil {
		return "", fmt.Errorf("member tag: group: %w", err)
	}
	if len(u) < len(g) {
		u, g = g, u
	}
	out := make([]byte, len(u))
	copy(out, u)
	for i, b := range g {
		out[i] ^= b
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}
