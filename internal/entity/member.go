package entity

import (
	"time"

	"github.com/roach88/mutual/internal/economy"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/tracked"
)

// Member is one user's balance in one group. Its tag is
// economy.MemberTag(user, group) and the group owns it.
type Member struct {
	rec *persist.Record
}

func newMember(rec *persist.Record) *Member { return &Member{rec: rec} }

// Record returns the persisted state.
func (m *Member) Record() *persist.Record { return m.rec }

// Tag returns the member record's address.
func (m *Member) Tag() string { return m.rec.Tag() }

// Balance is the current balance. A malformed stored value reads as zero.
func (m *Member) Balance(s *tracked.Scope) economy.Amount {
	a, err := economy.ParseAmount(ir.AsString(m.rec.Get(s, "balance")))
	if err != nil {
		return economy.Amount{}
	}
	return a
}

// LastStipend is when the balance last accrued. Zero if never.
func (m *Member) LastStipend(s *tracked.Scope) time.Time {
	ms := ir.AsInt(m.rec.Get(s, "lastStipend"))
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// UpdateBalance accrues stipend for the whole days since the last accrual
// and adds increment, floored to 1/units. Memory only; persist the record
// to keep it.
func (m *Member) UpdateBalance(now time.Time, stipend, increment economy.Amount, units int64) error {
	return m.set(m.accrue(now, stipend, increment, units))
}

func (m *Member) accrue(now time.Time, stipend, increment economy.Amount, units int64) economy.Accrual {
	return economy.Accrue(economy.Accrual{
		Balance:     m.Balance(nil),
		LastStipend: m.LastStipend(nil),
	}, now, stipend, increment, units)
}

func (m *Member) set(a economy.Accrual) error {
	return m.rec.Assign(map[string]ir.IRValue{
		"balance":     ir.IRString(a.Balance.String()),
		"lastStipend": ir.IRInt(a.LastStipend.UnixMilli()),
	})
}
