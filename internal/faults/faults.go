// Package faults carries the structured failure taxonomy of the escrow
// core. Every failure is a Detailed value with a stable numeric code and
// parameterized context so that clients can handle it programmatically
// without string matching.
package faults

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
)

// Code is the stable failure code. Values are part of the wire contract.
type Code uint8

const (
	CodeUnauthorized Code = iota
	CodeWrongAmount
	CodeWrongToken
	CodeSelfPaymentRejected
	CodeOutOfBounds
	CodeTxNotConfirmationReady
	CodeTxAlreadyCancelled
	CodeTxAlreadyCompleted
	CodeTxNotConfirmed
	CodeTxNotRecurring
	CodeInvalidStartTime
	CodeInvalidEndTime
	CodeCannotCreateEvenIntervals
	CodeIncorrectTotalAmount
	CodeOverflowOccurred
	CodeTxNotYetDue
)

func (c Code) name() string {
	switch c {
	case CodeUnauthorized:
		return "unauthorized"
	case CodeWrongAmount:
		return "wrong_amount"
	case CodeWrongToken:
		return "wrong_token"
	case CodeSelfPaymentRejected:
		return "self_payment_rejected"
	case CodeOutOfBounds:
		return "out_of_bounds"
	case CodeTxNotConfirmationReady:
		return "tx_not_confirmation_ready"
	case CodeTxAlreadyCancelled:
		return "tx_already_cancelled"
	case CodeTxAlreadyCompleted:
		return "tx_already_completed"
	case CodeTxNotConfirmed:
		return "tx_not_confirmed"
	case CodeTxNotRecurring:
		return "tx_not_recurring"
	case CodeInvalidStartTime:
		return "invalid_start_time"
	case CodeInvalidEndTime:
		return "invalid_end_time"
	case CodeCannotCreateEvenIntervals:
		return "cannot_create_even_intervals"
	case CodeIncorrectTotalAmount:
		return "incorrect_total_amount"
	case CodeOverflowOccurred:
		return "overflow_occurred"
	case CodeTxNotYetDue:
		return "tx_not_yet_due"
	}
	return "unknown"
}

const target = "escrow_pay"

// Detailed is a structured failure: stable code, machine-readable type,
// the raw context arguments and a human-readable rendering of them.
type Detailed struct {
	Target  string   `json:"target"`
	Code    Code     `json:"code"`
	Type    string   `json:"type"`
	Context []string `json:"context"`
	Verbose string   `json:"verbose"`
}

func (d *Detailed) Error() string {
	b, err := json.Marshal(d)
	if err != nil {
		return d.Verbose
	}
	return string(b)
}

// Is matches another Detailed by code, so errors.Is works against the
// bare constructors.
func (d *Detailed) Is(err error) bool {
	var other *Detailed
	if !errors.As(err, &other) {
		return false
	}
	return d.Code == other.Code
}

// CodeOf extracts the failure code from err.
func CodeOf(err error) (Code, bool) {
	var d *Detailed
	if errors.As(err, &d) {
		return d.Code, true
	}
	return 0, false
}

func fromCode(code Code, verbose string, context ...string) *Detailed {
	for _, arg := range context {
		verbose = strings.Replace(verbose, "{}", arg, 1)
	}
	return &Detailed{
		Target:  target,
		Code:    code,
		Type:    code.name(),
		Context: context,
		Verbose: verbose,
	}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func Unauthorized() *Detailed {
	return fromCode(CodeUnauthorized, "Unauthorized")
}

func WrongAmount(paid, expected uint64) *Detailed {
	return fromCode(CodeWrongAmount,
		"Expecting amount of {} but got {}", u64(expected), u64(paid))
}

func WrongToken(paid, expected domain.Addr) *Detailed {
	return fromCode(CodeWrongToken,
		"Expecting payment in token {} but got {}", string(expected), string(paid))
}

func SelfPaymentRejected(address domain.Addr) *Detailed {
	return fromCode(CodeSelfPaymentRejected,
		"From and to addresses must be different, both are {}", string(address))
}

func OutOfBounds(account domain.Addr, position, length uint32) *Detailed {
	return fromCode(CodeOutOfBounds,
		"Position {} does not exist for account {} holding {} txs",
		u32(position), string(account), u32(length))
}

func TxNotConfirmationReady(status domain.Status) *Detailed {
	return fromCode(CodeTxNotConfirmationReady,
		"Tx is not at confirmation state. Current state is '{}'", status.String())
}

func TxAlreadyCancelled(position uint32) *Detailed {
	return fromCode(CodeTxAlreadyCancelled,
		"Tx at position {} has already been cancelled", u32(position))
}

func TxAlreadyCompleted(position uint32) *Detailed {
	return fromCode(CodeTxAlreadyCompleted,
		"Tx at position {} has already been completed", u32(position))
}

func TxNotConfirmed(status domain.Status) *Detailed {
	return fromCode(CodeTxNotConfirmed,
		"Tx is not confirmed and ready to be fulfilled. Current state is '{}'",
		status.String())
}

func TxNotRecurring(position uint32) *Detailed {
	return fromCode(CodeTxNotRecurring,
		"Tx at position {} isn't recurring", u32(position))
}

func InvalidStartTime(start, end uint64) *Detailed {
	return fromCode(CodeInvalidStartTime,
		"Start time of {} must be before selected end time of {}", u64(start), u64(end))
}

func InvalidEndTime(end, now, limit uint64) *Detailed {
	return fromCode(CodeInvalidEndTime,
		"End time of {} must be after current time of {} and within limit of {}",
		u64(end), u64(now), u64(limit))
}

func CannotCreateEvenIntervals(diff, interval uint64) *Detailed {
	return fromCode(CodeCannotCreateEvenIntervals,
		"Time span of {} cannot be split into even intervals of {}",
		u64(diff), u64(interval))
}

func IncorrectTotalAmount(amount, numIntervals, total uint64) *Detailed {
	return fromCode(CodeIncorrectTotalAmount,
		"Amount of {} over {} intervals does not equal total amount of {}",
		u64(amount), u64(numIntervals), u64(total))
}

func OverflowOccurred() *Detailed {
	return fromCode(CodeOverflowOccurred, "Overflow error occurred. Check values")
}

func TxNotYetDue(now, due uint64) *Detailed {
	return fromCode(CodeTxNotYetDue,
		"Tx interval is not due until {}. Current time is {}", u64(due), u64(now))
}
