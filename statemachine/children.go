package statemachine

import (
	"encoding/json"
	"slices"

	"brokerd/domain/blockorder"
	"brokerd/domain/order"
	"brokerd/infra/index"
	"brokerd/relayer"

	"github.com/shopspring/decimal"
)

// ActiveProjection keeps the records whose state is one of active. Values
// are copied unchanged so the index can be read like its source.
func ActiveProjection(active ...State) index.Projection {
	return index.ProjectionFunc(func(key, value []byte) (index.Operation, error) {
		var head struct {
			State State `json:"state"`
		}
		if err := json.Unmarshal(value, &head); err != nil {
			return index.Operation{}, err
		}
		if !slices.Contains(active, head.State) {
			return index.Operation{}, nil
		}
		return index.PutOp(key, value), nil
	})
}

// OrderChild reduces an order record to what its block order's status
// depends on.
func OrderChild(rec Record[order.Order]) blockorder.Child {
	switch rec.State {
	case OrderCompleted:
		return blockorder.Child{Outcome: blockorder.Succeeded, Filled: rec.Data.Filled()}
	case OrderCancelled:
		if rec.Data.CancelReason == order.CancelByRecovery {
			return blockorder.Child{Outcome: blockorder.Void}
		}
		return blockorder.Child{Outcome: blockorder.ChildCancelled}
	case OrderRejected:
		return blockorder.Child{Outcome: blockorder.ChildFailed, Reason: rec.Error}
	default:
		return blockorder.Child{Outcome: blockorder.InFlight}
	}
}

// FillChild reduces a fill record to what its block order's status depends
// on. A retried fill is void: its replacement carries the amount.
func FillChild(rec Record[order.Fill]) blockorder.Child {
	switch rec.State {
	case FillExecuted:
		return blockorder.Child{Outcome: blockorder.Succeeded, Filled: rec.Data.BaseFillAmount()}
	case FillCancelled:
		if rec.Data.CancelReason == order.CancelByRecovery {
			return blockorder.Child{Outcome: blockorder.Void}
		}
		return blockorder.Child{Outcome: blockorder.ChildCancelled}
	case FillRejected:
		if rec.Data.Retried {
			return blockorder.Child{Outcome: blockorder.Void}
		}
		return blockorder.Child{Outcome: blockorder.ChildFailed, Reason: rec.Error}
	default:
		return blockorder.Child{Outcome: blockorder.InFlight}
	}
}

// FillAwaitsRetry reports whether a fill was rejected because the maker's
// order was gone and no replacement has taken its amount yet.
func FillAwaitsRetry(rec Record[order.Fill]) bool {
	return rec.State == FillRejected && rec.Data.ErrorCode == relayer.CodeOrderNotPlaced && !rec.Data.Retried
}

// OrderCommitted is the base amount an order holds against its block
// order. Once a fill arrives only the filled part counts.
func OrderCommitted(rec Record[order.Order]) decimal.Decimal {
	switch rec.State {
	case OrderCreated, OrderPlaced:
		return quantums(rec.Data.BaseAmount)
	case OrderExecuting, OrderCompleted:
		return rec.Data.Filled()
	default:
		return decimal.Zero
	}
}

// FillCommitted is the base amount a fill holds against its block order.
func FillCommitted(rec Record[order.Fill]) decimal.Decimal {
	switch rec.State {
	case FillCreated, FillFilled, FillExecuted:
		return rec.Data.BaseFillAmount()
	default:
		return decimal.Zero
	}
}

func quantums(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
