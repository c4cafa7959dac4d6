// Package errors defines the settlement engine's error taxonomy. Every
// operation failure carries a category (what kind of failure) and a stable
// reason code (which failure), so callers can distinguish "retry with
// different parameters" from "not authorized" from "transfer failed" without
// parsing message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category groups failures by how a caller should react.
type Category string

const (
	// CategoryValidation covers malformed or out-of-range inputs.
	CategoryValidation Category = "validation"
	// CategoryAuthorization covers callers that are not the owner, bidder,
	// admin, or a trusted module.
	CategoryAuthorization Category = "authorization"
	// CategoryState covers missing, duplicate, or exhausted records.
	CategoryState Category = "state"
	// CategoryTransfer covers failed value or asset transfers.
	CategoryTransfer Category = "transfer"
)

// Reason is a stable, machine-readable failure code.
type Reason string

const (
	ReasonNotRegistered       Reason = "NotRegistered"
	ReasonPriceZero           Reason = "PriceZero"
	ReasonZeroAmount          Reason = "ZeroAmount"
	ReasonValueMismatch       Reason = "ValueMismatch"
	ReasonInsufficientValue   Reason = "InsufficientValue"
	ReasonNotOwner            Reason = "NotOwner"
	ReasonNotApproved         Reason = "NotApproved"
	ReasonNotAdmin            Reason = "NotAdmin"
	ReasonNotBidder           Reason = "NotBidder"
	ReasonUntrusted           Reason = "Untrusted"
	ReasonReentrancy          Reason = "Reentrancy"
	ReasonNotExists           Reason = "NotExists"
	ReasonAlreadyExists       Reason = "AlreadyExists"
	ReasonAlreadyBid          Reason = "AlreadyBid"
	ReasonAlreadyRegistered   Reason = "AlreadyRegistered"
	ReasonQuantityExceeds     Reason = "QuantityExceeds"
	ReasonInsufficientBalance Reason = "InsufficientBalance"
	ReasonFeeTooHigh          Reason = "FeeTooHigh"
	ReasonInvalidReceiver     Reason = "InvalidReceiver"
	ReasonTransferFailed      Reason = "TransferFailed"
)

// Error is the settlement engine error type.
type Error struct {
	Category Category
	Reason   Reason
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches two engine errors by reason, so callers can use errors.Is with
// sentinel construction helpers.
func (e *Error) Is(target error) bool {
	var other *Error
	if !stderrors.As(target, &other) {
		return false
	}
	return e.Reason == other.Reason
}

// New constructs an engine error.
func New(category Category, reason Reason, format string, args ...interface{}) *Error {
	return &Error{
		Category: category,
		Reason:   reason,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap attaches an underlying cause to an engine error.
func Wrap(category Category, reason Reason, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Category: category,
		Reason:   reason,
		Message:  fmt.Sprintf(format, args...),
		cause:    cause,
	}
}

// Validation shorthand constructors ------------------------------------------

func PriceZero() *Error {
	return New(CategoryValidation, ReasonPriceZero, "price must be greater than zero")
}

func ZeroAmount() *Error {
	return New(CategoryValidation, ReasonZeroAmount, "amount and quantity must be greater than zero")
}

func ValueMismatch(want, got string) *Error {
	return New(CategoryValidation, ReasonValueMismatch, "sent value %s does not match required %s", got, want)
}

func InsufficientValue(want, got string) *Error {
	return New(CategoryValidation, ReasonInsufficientValue, "sent value %s does not match listing price %s", got, want)
}

func FeeTooHigh(feeBps, capBps uint32) *Error {
	return New(CategoryValidation, ReasonFeeTooHigh, "fee %d bps exceeds cap %d bps", feeBps, capBps)
}

func InvalidReceiver() *Error {
	return New(CategoryValidation, ReasonInvalidReceiver, "receiver address must not be empty")
}

// Authorization shorthand constructors ---------------------------------------

func NotOwner(caller string) *Error {
	return New(CategoryAuthorization, ReasonNotOwner, "caller %s is not the owner", caller)
}

func NotApproved(operator string) *Error {
	return New(CategoryAuthorization, ReasonNotApproved, "operator %s has no transfer approval", operator)
}

func NotAdmin(caller string) *Error {
	return New(CategoryAuthorization, ReasonNotAdmin, "caller %s is not the collection admin", caller)
}

func NotBidder(caller string) *Error {
	return New(CategoryAuthorization, ReasonNotBidder, "caller %s does not own this bid", caller)
}

func Untrusted(module string) *Error {
	return New(CategoryAuthorization, ReasonUntrusted, "module %q is not a trusted caller", module)
}

func Reentrancy(op string) *Error {
	return New(CategoryAuthorization, ReasonReentrancy, "recursive entry into guarded operation %s", op)
}

// State shorthand constructors ------------------------------------------------

func NotExists(what string) *Error {
	return New(CategoryState, ReasonNotExists, "%s does not exist", what)
}

func NotRegistered(collection string) *Error {
	return New(CategoryState, ReasonNotRegistered, "collection %s is not registered", collection)
}

func AlreadyBid(bidder string) *Error {
	return New(CategoryState, ReasonAlreadyBid, "bidder %s already has an active bid", bidder)
}

func AlreadyRegistered(collection string) *Error {
	return New(CategoryState, ReasonAlreadyRegistered, "collection %s is already registered", collection)
}

func QuantityExceeds(requested, available uint64) *Error {
	return New(CategoryState, ReasonQuantityExceeds, "requested %d items but bid covers %d", requested, available)
}

func InsufficientBalance(holder string) *Error {
	return New(CategoryState, ReasonInsufficientBalance, "holder %s does not hold enough items", holder)
}

// Transfer shorthand constructors ---------------------------------------------

func TransferFailed(cause error) *Error {
	return Wrap(CategoryTransfer, ReasonTransferFailed, cause, "transfer did not succeed")
}

// HTTPStatus maps the error onto the status code the gateway returns.
// Missing records are 404, conflicting records 409, everything else follows
// its category.
func (e *Error) HTTPStatus() int {
	switch e.Category {
	case CategoryValidation:
		return 400
	case CategoryAuthorization:
		return 403
	case CategoryState:
		switch e.Reason {
		case ReasonNotExists, ReasonNotRegistered:
			return 404
		default:
			return 409
		}
	default:
		return 502
	}
}

// CategoryOf extracts the category from any error chain; unknown errors map
// to the transfer category since they originate outside the engine.
func CategoryOf(err error) Category {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category
	}
	return CategoryTransfer
}

// ReasonOf extracts the stable reason code from an error chain, or
// ReasonTransferFailed for foreign errors.
func ReasonOf(err error) Reason {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Reason
	}
	return ReasonTransferFailed
}
