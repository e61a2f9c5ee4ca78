package entity

import (
	"time"

	"github.com/roach88/mutual/internal/economy"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/tracked"
)

// Message types.
const (
	MessageText    = "text"
	MessagePayment = "payment"
)

// Message is one immutable entry of a group history, known by its version
// hash once appended.
type Message struct {
	rec *persist.Record
}

func newMessage(rec *persist.Record) *Message { return &Message{rec: rec} }

// Record returns the persisted state.
func (m *Message) Record() *persist.Record { return m.rec }

// Hash is the message's version hash.
func (m *Message) Hash() string { return m.rec.Tag() }

func (m *Message) Author(s *tracked.Scope) string { return ir.AsString(m.rec.Get(s, "author")) }
func (m *Message) Owner(s *tracked.Scope) string  { return ir.AsString(m.rec.Get(s, "owner")) }
func (m *Message) Type(s *tracked.Scope) string   { return ir.AsString(m.rec.Get(s, "type")) }
func (m *Message) Text(s *tracked.Scope) string   { return ir.AsString(m.rec.Get(s, "text")) }

// Timestamp is when the author sent the message.
func (m *Message) Timestamp(s *tracked.Scope) time.Time {
	return time.UnixMilli(ir.AsInt(m.rec.Get(s, "timestamp"))).UTC()
}

// Amount is the sum moved by a payment message.
func (m *Message) Amount(s *tracked.Scope) economy.Amount {
	a, err := economy.ParseAmount(ir.AsString(m.rec.Get(s, "amount")))
	if err != nil {
		return economy.Amount{}
	}
	return a
}

// Antecedent is the hash of the previous message, empty for the first.
func (m *Message) Antecedent(s *tracked.Scope) string {
	return ir.AsString(m.rec.Get(s, "antecedent"))
}
