package blockorder

import (
	"github.com/shopspring/decimal"
)

type Status string

const (
	Active    Status = "ACTIVE"
	Completed Status = "COMPLETED"
	Cancelled Status = "CANCELLED"
	Failed    Status = "FAILED"
	// PartiallyCompleted is the terminal status of a block order that
	// filled some of its amount before failing or being cancelled.
	PartiallyCompleted Status = "PARTIALLY_COMPLETED"
)

func (s Status) Valid() bool {
	switch s {
	case Active, Completed, Cancelled, Failed, PartiallyCompleted:
		return true
	}
	return false
}

// Outcome is a child order or fill reduced to what matters for the parent.
type Outcome uint8

const (
	InFlight Outcome = iota
	Succeeded
	ChildFailed
	ChildCancelled
	// Void children never count: they were abandoned by recovery before
	// reaching the relayer, or superseded by a retry.
	Void
)

// Child summarizes one order or fill. Filled is the base amount, in
// quantums, the child has settled or is settling. Reason is the error a
// failed child was rejected with.
type Child struct {
	Outcome Outcome
	Filled  decimal.Decimal
	Reason  string
}

// FailureOf returns the reason of the first failed child, or "" when none
// failed.
func FailureOf(children []Child) string {
	for _, c := range children {
		if c.Outcome == ChildFailed {
			if c.Reason == "" {
				return "child rejected"
			}
			return c.Reason
		}
	}
	return ""
}

// DeriveStatus computes the block order status from its children and the
// intents recorded on the block order itself. amount is the block order
// amount in base quantums.
func (b *BlockOrder) DeriveStatus(amount decimal.Decimal, children []Child) Status {
	filled := decimal.Zero
	var inFlight, failed, cancelled bool
	for _, c := range children {
		switch c.Outcome {
		case InFlight:
			inFlight = true
		case Succeeded:
			filled = filled.Add(c.Filled)
		case ChildFailed:
			failed = true
		case ChildCancelled:
			cancelled = true
		}
	}
	failed = failed || b.FailureReason != ""
	cancelled = cancelled || b.CancelRequested

	switch {
	case inFlight:
		return Active
	case filled.GreaterThanOrEqual(amount):
		return Completed
	case (failed || cancelled) && filled.IsPositive():
		return PartiallyCompleted
	case failed:
		return Failed
	case cancelled:
		return Cancelled
	default:
		return Active
	}
}
