// Package errs holds the error kinds surfaced by wallet, sync and submit.
package errs

import (
	"context"
	"errors"
	"strings"
)

// Kind classifies a failure for callers that branch on it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindSafeHandshake
	KindWrongNetwork
	KindInvalidAmount
	KindInvalidAddress
	KindUserRejected
	KindRPC
	KindNotOwner
	KindNotSafe
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindSafeHandshake:
		return "safe handshake error"
	case KindWrongNetwork:
		return "wrong network"
	case KindInvalidAmount:
		return "invalid amount"
	case KindInvalidAddress:
		return "invalid address"
	case KindUserRejected:
		return "user rejected"
	case KindRPC:
		return "rpc error"
	case KindNotOwner:
		return "not owner"
	case KindNotSafe:
		return "not safe"
	}
	return "error"
}

// Error carries a Kind, the failing operation and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels below by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Msg != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConnection     = &Error{Kind: KindConnection}
	ErrSafeHandshake  = &Error{Kind: KindSafeHandshake}
	ErrWrongNetwork   = &Error{Kind: KindWrongNetwork}
	ErrInvalidAmount  = &Error{Kind: KindInvalidAmount}
	ErrInvalidAddress = &Error{Kind: KindInvalidAddress}
	ErrUserRejected   = &Error{Kind: KindUserRejected}
	ErrRPC            = &Error{Kind: KindRPC}
	ErrNotOwner       = &Error{Kind: KindNotOwner}
	ErrNotSafe        = &Error{Kind: KindNotSafe}
)

// New builds an error of kind k without a cause.
func New(k Kind, op, msg string) *Error {
	return &Error{Kind: k, Op: op, Msg: msg}
}

// Wrap attaches kind k to err. A nil err stays nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Classify maps node and provider failures to a kind. Errors that already
// carry a kind, and context errors, are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "user rejected"), strings.Contains(s, "user denied"),
		strings.Contains(s, "code") && strings.Contains(s, "4001"):
		return Wrap(KindUserRejected, op, err)
	case strings.Contains(s, "only safe"), strings.Contains(s, "not safe"), strings.Contains(s, "caller is not the safe"):
		return Wrap(KindNotSafe, op, err)
	case strings.Contains(s, "not owner"), strings.Contains(s, "only owner"),
		strings.Contains(s, "caller is not the owner"), strings.Contains(s, "not an owner"):
		return Wrap(KindNotOwner, op, err)
	case strings.Contains(s, "dial tcp"), strings.Contains(s, "connection refused"), strings.Contains(s, "no such host"):
		return Wrap(KindConnection, op, err)
	}
	return Wrap(KindRPC, op, err)
}

// IsRateLimit reports whether err looks like a node throttling response.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429")
}

// RevertReason trims an error string down to its revert message.
func RevertReason(err error) string {
	s := err.Error()
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		return s[i:]
	}
	return s
}

// Friendly shortens common node and transport errors for CLI output.
func Friendly(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	ls := strings.ToLower(s)
	switch {
	case KindOf(err) == KindUserRejected:
		return "request rejected by signer"
	case strings.Contains(ls, "insufficient funds"):
		return "insufficient ETH for value + gas"
	case strings.Contains(ls, "execution reverted"):
		return RevertReason(err)
	case strings.Contains(ls, "invalid character '<'"):
		return "non-JSON/HTML response (proxy/cf?)"
	case strings.Contains(ls, "dial tcp"), strings.Contains(ls, "lookup "):
		return "network/DNS error"
	case strings.Contains(ls, "nonce too low"):
		return "nonce too low (another tx from this account was mined)"
	}
	return s
}
