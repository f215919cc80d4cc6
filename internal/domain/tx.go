package domain

import "encoding/gob"

// Addr identifies an account on the host chain.
type Addr string

// TokenContract identifies a token plus the code hash needed to
// instruct transfers in it.
type TokenContract struct {
	Address  Addr   `json:"address"`
	CodeHash string `json:"code_hash"`
}

// Status is the escrow pair state code. The numeric values are part of
// the wire contract and must not be reordered.
type Status uint8

const (
	// StatusPending is a fresh send request waiting for the receiver
	// to confirm its address.
	StatusPending Status = iota
	// StatusConfirmed means the receiving address is confirmed and the
	// payment can be settled.
	StatusConfirmed
	StatusCancelled
	StatusCompleted
	// StatusRecurringPending is a fresh recurring send request waiting
	// for address confirmation.
	StatusRecurringPending
	// StatusRecurringActive is a confirmed recurring agreement.
	StatusRecurringActive
)

func (s Status) Valid() bool {
	return s <= StatusRecurringActive
}

// Terminal reports whether no transition out of s is permitted.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) String() string {
	switch s {
	case StatusPending, StatusRecurringPending:
		return "Tx Unconfirmed"
	case StatusConfirmed:
		return "Receiver Confirmed Address"
	case StatusCancelled:
		return "Tx Cancelled"
	case StatusCompleted:
		return "Tx Completed"
	case StatusRecurringActive:
		return "Receiver Confirmed Address, Recurring Tx Active"
	}
	return "Error Misfire"
}

// TxClass is the payment class of a record: Single carries no schedule,
// Recurring carries the interval schedule. Keeping this a sum type means
// single payments cannot hold half-filled scheduling fields.
type TxClass interface {
	isTxClass()
}

type Single struct{}

func (Single) isTxClass() {}

type Recurring struct {
	StartTime        uint64
	Interval         uint64
	LastTimeBalanced uint64
	EndTime          uint64
	AllowanceEnabled bool
}

func (Recurring) isTxClass() {}

func init() {
	gob.Register(Single{})
	gob.Register(Recurring{})
}

// Tx is one half of an escrow pair. Each pair is stored twice, once
// under each participant's sequence, and CounterpartPosition addresses
// the mirror half in the other account's sequence. It is a lookup key,
// never an in-memory reference.
type Tx struct {
	Position            uint32
	CounterpartPosition uint32
	Fee                 uint64
	From                Addr
	To                  Addr
	Creator             Addr
	Amount              uint64
	Token               TokenContract
	Description         string
	Status              Status
	BlockTime           uint64
	BlockHeight         uint64
	Class               TxClass
}

// Recurring returns the schedule when the record is a recurring
// agreement.
func (t *Tx) Recurring() (Recurring, bool) {
	r, ok := t.Class.(Recurring)
	return r, ok
}

// Mirror returns the account holding the counterpart half of the pair.
func (t *Tx) Mirror(owner Addr) Addr {
	if owner == t.From {
		return t.To
	}
	return t.From
}

// HumanizedTx is the query-facing view of a Tx. Scheduling fields are
// only present for recurring records.
type HumanizedTx struct {
	Position         uint32        `json:"position"`
	From             Addr          `json:"from"`
	To               Addr          `json:"to"`
	Amount           uint64        `json:"amount"`
	Token            TokenContract `json:"token"`
	Description      string        `json:"description,omitempty"`
	Status           Status        `json:"status"`
	BlockTime        uint64        `json:"block_time"`
	BlockHeight      uint64        `json:"block_height"`
	StartTime        *uint64       `json:"start_time,omitempty"`
	Interval         *uint64       `json:"interval,omitempty"`
	LastTimeBalanced *uint64       `json:"last_time_balanced,omitempty"`
	EndTime          *uint64       `json:"end_time,omitempty"`
	AllowanceEnabled *bool         `json:"allowance_enabled,omitempty"`
}

func (t *Tx) Humanize() HumanizedTx {
	h := HumanizedTx{
		Position:    t.Position,
		From:        t.From,
		To:          t.To,
		Amount:      t.Amount,
		Token:       t.Token,
		Description: t.Description,
		Status:      t.Status,
		BlockTime:   t.BlockTime,
		BlockHeight: t.BlockHeight,
	}
	if r, ok := t.Recurring(); ok {
		h.StartTime = &r.StartTime
		h.Interval = &r.Interval
		h.LastTimeBalanced = &r.LastTimeBalanced
		h.EndTime = &r.EndTime
		h.AllowanceEnabled = &r.AllowanceEnabled
	}
	return h
}
