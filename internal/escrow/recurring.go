package escrow

import (
	"math/bits"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
	"github.com/dmitrorezn/escrow-pay/internal/faults"
)

// VerifyRecurringParameters validates the schedule of a recurring
// agreement: the end time sits between now and the configured limit,
// the span splits into whole intervals, and amount times the interval
// count (inclusive of the payment due at start time) equals the total
// amount exactly, with unsigned overflow detected rather than wrapped.
// Pure validation, no side effects.
func VerifyRecurringParameters(amount, totalAmount, startTime, interval, endTime, now, endTimeLimit uint64) error {
	if endTime > endTimeLimit || endTime <= now {
		return faults.InvalidEndTime(endTime, now, endTimeLimit)
	}
	if startTime >= endTime {
		return faults.InvalidStartTime(startTime, endTime)
	}
	diff := endTime - startTime
	if interval == 0 || diff%interval != 0 {
		return faults.CannotCreateEvenIntervals(diff, interval)
	}
	numIntervals := diff/interval + 1
	hi, calcTotal := bits.Mul64(amount, numIntervals)
	if hi != 0 {
		return faults.OverflowOccurred()
	}
	if calcTotal != totalAmount {
		return faults.IncorrectTotalAmount(amount, numIntervals, totalAmount)
	}

	return nil
}

// nextDue returns the timestamp of the interval currently owed: the
// start time before the first settlement, one interval past the last
// balanced time afterwards.
func nextDue(r domain.Recurring) uint64 {
	if r.LastTimeBalanced == 0 {
		return r.StartTime
	}

	return r.LastTimeBalanced + r.Interval
}
