package checkout

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindGatewayUnavailable Kind = "GATEWAY_UNAVAILABLE"
	KindUnknownCorrelation Kind = "UNKNOWN_CORRELATION"
	KindStaleOrExpired     Kind = "STALE_OR_EXPIRED"
	KindVerification       Kind = "VERIFICATION_FAILED"
	KindNotFound           Kind = "NOT_FOUND"
	KindInternal           Kind = "INTERNAL"
)

// Error is the only error type that leaves the orchestrator. Msg is safe to
// show to a buyer; Err keeps the cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Message returns the buyer-facing text for err.
func Message(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return "something went wrong, please try again"
}

func validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func internal(err error) error {
	return &Error{Kind: KindInternal, Msg: "something went wrong, please try again", Err: err}
}

func gatewayUnavailable(err error) error {
	return &Error{Kind: KindGatewayUnavailable, Msg: "payment provider is unavailable, please retry", Err: err}
}

func staleOrExpired() error {
	return &Error{Kind: KindStaleOrExpired, Msg: "payment window expired, please re-checkout"}
}
