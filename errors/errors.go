package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

const errStack = "err_stack"

type Status struct {
	Code     int32             `json:"code"`
	Reason   string            `json:"reason,omitempty"`
	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Error struct {
	Status
	Err string `json:"error,omitempty"`
	error
}

func (e *Error) Error() string {
	if e.error != nil {
		e.Err = e.error.Error()
	}
	err, _ := json.Marshal(e)
	return string(err)
}

func NewError(code int, reason, msg string) *Error {
	return &Error{
		Status: Status{
			Code:    int32(code),
			Reason:  reason,
			Message: msg,
		},
	}
}

func (e *Error) Unwrap() error {
	return e.error
}

// Is matches on code and reason, so sentinel kinds work with errors.Is.
func (e *Error) Is(err error) bool {
	if se := new(Error); errors.As(err, &se) {
		return se.Code == e.Code && se.Reason == e.Reason
	}
	return false
}

func (e *Error) WithError(cause error) *Error {
	err := clone(e)
	err.error = cause
	return err
}

func (e *Error) WithMetadata(md map[string]string) *Error {
	err := clone(e)
	for k, v := range md {
		err.Metadata[k] = v
	}
	return err
}

func (e *Error) WithMessage(msg string) *Error {
	err := clone(e)
	err.Message = msg
	return err
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// write error code to grpc status

func (e *Error) GRPCStatus() *status.Status {
	eInfo := &errdetails.ErrorInfo{
		Reason:   e.Reason,
		Metadata: make(map[string]string, len(e.Metadata)+1),
	}
	for k, v := range e.Metadata {
		eInfo.Metadata[k] = v
	}
	if e.error != nil {
		eInfo.Metadata[errStack] = fmt.Sprintf("%+v", e.error)
	}
	s, _ := status.New(HTTPToGRPCCode(int(e.Code)), e.Message).WithDetails(eInfo)
	return s
}

func Code(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return int(FromError(err).Code)
}

func Reason(err error) string {
	if err == nil {
		return UnknownReason
	}
	return FromError(err).Reason
}

func clone(err *Error) *Error {
	metadata := make(map[string]string, len(err.Metadata))
	for k, v := range err.Metadata {
		metadata[k] = v
	}
	return &Error{
		error: err.error,
		Status: Status{
			Code:     err.Code,
			Reason:   err.Reason,
			Message:  err.Message,
			Metadata: metadata,
		},
	}
}

// convert error to Error

func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if se := new(Error); errors.As(err, &se) {
		return se
	}
	gs, ok := status.FromError(err)
	if !ok {
		return NewError(UnknownCode, UnknownReason, err.Error()).WithError(err)
	}
	ret := NewError(
		GRPCToHTTPCode(gs.Code()),
		UnknownReason,
		gs.Message(),
	)
	for _, detail := range gs.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			ret.Reason = d.Reason
			ret = ret.WithMetadata(d.Metadata)
			ret.Err = ret.Metadata[errStack]
			delete(ret.Metadata, errStack)
			return ret
		}
	}
	return ret
}

func New(msg string) error {
	return errors.New(msg)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
