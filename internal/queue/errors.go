package queue

import "fmt"

// ErrKind is the stable wire error taxonomy of spec section 6.4. New kinds
// may only be added at the tail; existing string forms are part of the
// wire contract and must not change.
type ErrKind string

const (
	ErrJobNotFound        ErrKind = "JobNotFound"
	ErrInvalidAuthToken   ErrKind = "InvalidAuthToken"
	ErrInvalidJobStatus   ErrKind = "InvalidJobStatus"
	ErrInvalidParameter   ErrKind = "InvalidParameter"
	ErrSubmitsDisabled    ErrKind = "SubmitsDisabled"
	ErrShuttingDown       ErrKind = "ShuttingDown"
	ErrAccessDenied       ErrKind = "AccessDenied"
	ErrUnknownQueue       ErrKind = "UnknownQueue"
	ErrPrefAffExpired     ErrKind = "PrefAffExpired"
	ErrProtocolSyntax     ErrKind = "ProtocolSyntaxError"
	ErrInternal           ErrKind = "InternalError"
	ErrTryAgain           ErrKind = "TryAgain"
	ErrGroupNotFound      ErrKind = "GroupNotFound"
	ErrAffinityNotFound   ErrKind = "AffinityNotFound"
)

// Error is a client- or server-facing error carrying a stable Kind so the
// external protocol layer can render "ERR:<Kind>:<msg>" without
// interpreting the message text.
type Error struct {
	Kind ErrKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newErr(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WarnKind is a sub-kind delivered alongside an OK response, per section 7
// ("Warnings ... are delivered with OK: responses prefixed by WARNING:;
// they never replace a success"). Vocabulary ported from the original
// NetSchedule source (see DESIGN.md / SPEC_FULL.md section 11).
type WarnKind string

const (
	WarnJobAlreadyCanceled WarnKind = "eJobAlreadyCanceled"
	WarnJobAlreadyDone     WarnKind = "eJobAlreadyDone"
	WarnJobAlreadyFailed   WarnKind = "eJobAlreadyFailed"
	WarnJobNotRead         WarnKind = "eJobNotRead"
	WarnQueueAlreadyPaused WarnKind = "eQueueAlreadyPaused"
	WarnQueueNotPaused     WarnKind = "eQueueNotPaused"
	WarnNoParametersChanged WarnKind = "eNoParametersChanged"
)

// Warning is returned alongside a nil error when an operation succeeded
// but the caller should be told something notable happened (section 7).
type Warning struct {
	Kind WarnKind
	Msg  string
}

func (w *Warning) String() string {
	return fmt.Sprintf("%s:%s", w.Kind, w.Msg)
}
