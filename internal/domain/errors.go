package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the settlement engine unwraps to
// exactly one of these sentinels, so callers can route on errors.Is without
// parsing messages.
var (
	ErrValidation     = errors.New("validation error")
	ErrAuthorization  = errors.New("authorization error")
	ErrState          = errors.New("state error")
	ErrOracle         = errors.New("oracle error")
	ErrCircuitBreaker = errors.New("circuit breaker error")
	ErrFunds          = errors.New("funds error")

	ErrNotFound = errors.New("not found")
)

// Error codes carried by engine errors. Codes are stable identifiers suitable
// for API responses and metrics labels.
const (
	CodeInvalidAmount          = "invalid_amount"
	CodeInvalidPrice           = "invalid_price"
	CodeInvalidExpiry          = "invalid_expiry"
	CodeBatchTooLarge          = "batch_too_large"
	CodeTokenNotWhitelisted    = "token_not_whitelisted"
	CodePermissionDenied       = "permission_denied"
	CodePrivateOffer           = "private_offer"
	CodeOfferNotActive         = "offer_not_active"
	CodeOfferExpired           = "offer_expired"
	CodeInsufficientRemaining  = "insufficient_remaining"
	CodeEnginePaused           = "engine_paused"
	CodeFeedUnavailable        = "feed_unavailable"
	CodeFeedStale              = "feed_stale"
	CodePriceOutOfBounds       = "price_out_of_bounds"
	CodeDeviationExceeded      = "price_deviation_exceeded"
	CodeNoOracle               = "oracle_not_configured"
	CodeVolumeLimitExceeded    = "volume_limit_exceeded"
	CodePriceImpactExceeded    = "price_impact_exceeded"
	CodeBreakerTripped         = "breaker_tripped"
	CodeInsufficientBalance    = "insufficient_balance"
	CodeInsufficientAllowance  = "insufficient_allowance"
	CodeTransferFailed         = "transfer_failed"
	CodeInvalidConfig          = "invalid_config"
)

// Error is a typed engine error: a class sentinel plus a stable code and a
// human-readable message.
type Error struct {
	Kind error // one of the class sentinels above
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.Code, e.Msg)
}

// Unwrap lets errors.Is match the class sentinel.
func (e *Error) Unwrap() error { return e.Kind }

// Errorf constructs a typed engine error with a formatted message.
func Errorf(kind error, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the stable code from a typed engine error, or "" when
// the error is not an engine error.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
