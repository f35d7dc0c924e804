package breaker

import (
	"errors"
	"testing"
)

func TestBreakerTrips(t *testing.T) {
	b := NewBreakers()
	boom := errors.New("unavailable")
	rejected := false
	for i := 0; i < 1000; i++ {
		err := b.Do("10.0.0.1:9000/svc/M", func() error { return boom }, func(err error) bool { return err == nil })
		if errors.Is(err, ErrOpen) {
			rejected = true
			break
		}
	}
	if !rejected {
		t.Fatal("breaker never opened")
	}
	// other names are independent
	if err := b.Do("10.0.0.2:9000/svc/M", func() error { return nil }, nil); err != nil {
		t.Fatal(err)
	}
	if b.Fetch("x") != b.Fetch("x") {
		t.Fatal("breaker not reused")
	}
}
