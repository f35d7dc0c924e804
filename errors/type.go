package errors

import "net/http"

var (
	ErrStoreUnavailable = NewError(http.StatusServiceUnavailable, StoreUnavailableReason, "coordination store unavailable")
	ErrLeaseExpired     = NewError(http.StatusGone, LeaseExpiredReason, "lease expired")
	ErrMalformedRecord  = NewError(http.StatusUnprocessableEntity, MalformedRecordReason, "malformed instance record")
	ErrNotFound         = NewError(http.StatusNotFound, NotFoundReason, "no live instance")
	ErrConnectFailed    = NewError(http.StatusBadGateway, ConnectFailedReason, "connect failed")
	ErrClosed           = NewError(ClientClosed, ClosedReason, "closed")
	ErrInvalidInstance  = NewError(http.StatusBadRequest, InvalidInstanceReason, "invalid instance")
)

func StoreUnavailable(cause error) *Error {
	return ErrStoreUnavailable.WithError(cause)
}

func LeaseExpired(lease int64) *Error {
	return ErrLeaseExpired.WithMessagef("lease %x expired", lease)
}

func MalformedRecord(key string, cause error) *Error {
	return ErrMalformedRecord.WithMetadata(map[string]string{"key": key}).WithError(cause)
}

func NotFound(service string) *Error {
	return ErrNotFound.WithMessagef("no live instance of %s", service)
}

func ConnectFailed(target string, cause error) *Error {
	return ErrConnectFailed.WithMetadata(map[string]string{"target": target}).WithError(cause)
}

func InvalidInstance(msg string) *Error {
	return ErrInvalidInstance.WithMessage(msg)
}

func IsStoreUnavailable(err error) bool {
	return Is(err, ErrStoreUnavailable)
}

func IsLeaseExpired(err error) bool {
	return Is(err, ErrLeaseExpired)
}

func IsMalformedRecord(err error) bool {
	return Is(err, ErrMalformedRecord)
}

func IsNotFound(err error) bool {
	return Is(err, ErrNotFound)
}

func IsConnectFailed(err error) bool {
	return Is(err, ErrConnectFailed)
}
