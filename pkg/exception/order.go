package exception

import "errors"

var (
	ErrOrderValidation     = errors.New("order: validation failed")
	ErrOrderExchangeReject = errors.New("order: rejected by exchange")
	ErrOrderUnknown        = errors.New("order: not found")
	ErrOrderNotCancelable  = errors.New("order: not cancelable in current state")
	ErrOrderInvalidFill    = errors.New("order: fill does not match a known order")
	ErrOrderFillOverflow   = errors.New("order: fill exceeds requested size")
)

var (
	ErrInstrumentHalted       = errors.New("oms: instrument halted pending reconciliation")
	ErrReconciliationMismatch = errors.New("oms: reconciliation mismatch")
	ErrOmsClosed              = errors.New("oms: closed")
)
