package oms

import "main/internal/schema"

// transitionAllowed encodes the order lifecycle:
//
//	NEW → PENDING_SUBMIT → {OPEN, REJECTED}
//	OPEN → {PARTIALLY_FILLED, CANCELLED, FILLED, EXPIRED}
//	PARTIALLY_FILLED → {PARTIALLY_FILLED, FILLED, CANCELLED}
//
// Terminal states never transition out.
func transitionAllowed(from, to schema.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case schema.OrderStatusNew:
		return to == schema.OrderStatusPendingSubmit
	case schema.OrderStatusPendingSubmit:
		switch to {
		case schema.OrderStatusOpen, schema.OrderStatusRejected:
			return true
		// A fill can outrun the submit acknowledgment; treat it as an
		// implicit accept.
		case schema.OrderStatusPartiallyFilled, schema.OrderStatusFilled:
			return true
		}
		return false
	case schema.OrderStatusOpen:
		switch to {
		case schema.OrderStatusPartiallyFilled, schema.OrderStatusCancelled,
			schema.OrderStatusFilled, schema.OrderStatusExpired:
			return true
		}
		return false
	case schema.OrderStatusPartiallyFilled:
		switch to {
		case schema.OrderStatusPartiallyFilled, schema.OrderStatusFilled, schema.OrderStatusCancelled:
			return true
		}
		return false
	default:
		return false
	}
}

// transition moves an order to the target status, refusing anything the
// state machine does not allow. The order's UpdatedAt is the caller's duty.
func transition(order *schema.Order, to schema.OrderStatus) bool {
	if !transitionAllowed(order.Status, to) {
		return false
	}
	order.Status = to
	return true
}
