package errors

import (
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKinds(t *testing.T) {
	cause := New("dial tcp: connection refused")
	cases := []struct {
		err  error
		is   func(error) bool
		code int
	}{
		{StoreUnavailable(cause), IsStoreUnavailable, http.StatusServiceUnavailable},
		{LeaseExpired(0x1f), IsLeaseExpired, http.StatusGone},
		{MalformedRecord("/ns/svc/1", cause), IsMalformedRecord, http.StatusUnprocessableEntity},
		{NotFound("user.rpc"), IsNotFound, http.StatusNotFound},
		{ConnectFailed("10.0.0.1:9000", cause), IsConnectFailed, http.StatusBadGateway},
	}
	for _, c := range cases {
		wrapped := Wrap(c.err, "outer")
		if !c.is(wrapped) {
			t.Errorf("%v: kind predicate false", c.err)
		}
		if Code(wrapped) != c.code {
			t.Errorf("%v: code = %d, want %d", c.err, Code(wrapped), c.code)
		}
	}
	if IsNotFound(StoreUnavailable(cause)) {
		t.Fatal("kinds must not match each other")
	}
}

func TestUnwrapCause(t *testing.T) {
	cause := New("boom")
	err := StoreUnavailable(cause)
	if !Is(err, cause) {
		t.Fatal("cause lost")
	}
	if ErrStoreUnavailable.Unwrap() != nil {
		t.Fatal("sentinel mutated")
	}
}

func TestGRPCStatus(t *testing.T) {
	err := ConnectFailed("10.0.0.1:9000", New("refused"))
	s, ok := status.FromError(err)
	if !ok {
		t.Fatal("not a grpc status")
	}
	if s.Code() != codes.Unavailable {
		t.Fatalf("code = %v", s.Code())
	}
	back := FromError(s.Err())
	if back.Reason != ConnectFailedReason || back.Metadata["target"] != "10.0.0.1:9000" {
		t.Fatalf("round trip lost detail: %+v", back)
	}
	if back.Err == "" {
		t.Fatal("error stack not carried")
	}
	fmt.Println(back)
}

func TestFromPlainError(t *testing.T) {
	e := FromError(New("plain"))
	if e.Code != UnknownCode || e.Reason != UnknownReason {
		t.Fatalf("unexpected %+v", e)
	}
	if FromError(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
