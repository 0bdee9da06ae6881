package models

import "errors"

var (
	ErrInProgress      = errors.New("order already in flight")
	ErrAccountNotFound = errors.New("account state not found for trading day")
	ErrProfitThreshold = errors.New("daily profit threshold reached")
	ErrStopLoss        = errors.New("dynamic stop-loss breached")
	ErrNoPendingOrder  = errors.New("no matching pending order")
	ErrNotConnected    = errors.New("venue connection not open")
	ErrNotFound        = errors.New("not found")
)

// RejectReason maps a submission error to its reason string.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInProgress):
		return "in-progress"
	case errors.Is(err, ErrAccountNotFound):
		return "account-not-found"
	case errors.Is(err, ErrProfitThreshold):
		return "profit-threshold"
	case errors.Is(err, ErrStopLoss):
		return "stop-loss"
	case errors.Is(err, ErrNotConnected):
		return "not-connected"
	default:
		return "error"
	}
}
