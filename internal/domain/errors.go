package domain

import "errors"

// Remote ledger errors. Every error returned by the remote ledger client wraps
// exactly one of these.
var (
	ErrRemoteUnavailable         = errors.New("remote ledger unavailable")
	ErrInsufficientRemoteBalance = errors.New("insufficient remote balance")
	ErrRemoteRejected            = errors.New("remote ledger rejected the call")
)

// Settlement errors
var (
	ErrInvalidAuthorization = errors.New("invalid payment authorization")
	ErrNonceConsumed        = errors.New("nonce already consumed")
	ErrNonceBusy            = errors.New("nonce is being settled by another request")
	ErrDuplicateDeposit     = errors.New("deposit already applied")
)

// File-level errors checked before the resolver runs
var (
	ErrNotFound = errors.New("not found")
	ErrLocked   = errors.New("download locked")
)

// RemoteKind is the closed set of remote ledger failure kinds.
type RemoteKind int

const (
	RemoteOK RemoteKind = iota
	RemoteUnavailable
	RemoteInsufficientBalance
	RemoteRejected
)

// RemoteErrorKind classifies an error returned by the remote ledger client.
// Errors that wrap none of the remote sentinels are reported as RemoteRejected.
func RemoteErrorKind(err error) RemoteKind {
	switch {
	case err == nil:
		return RemoteOK
	case errors.Is(err, ErrRemoteUnavailable):
		return RemoteUnavailable
	case errors.Is(err, ErrInsufficientRemoteBalance):
		return RemoteInsufficientBalance
	default:
		return RemoteRejected
	}
}

func (k RemoteKind) String() string {
	switch k {
	case RemoteOK:
		return "ok"
	case RemoteUnavailable:
		return "unavailable"
	case RemoteInsufficientBalance:
		return "insufficient_balance"
	default:
		return "rejected"
	}
}
