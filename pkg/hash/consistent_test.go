package hash

import (
	"testing"
)

func TestConsistent(t *testing.T) {
	h := New()
	nodes := []string{"127.0.0.1", "126.0.0.1", "125.0.0.1"}
	for _, node := range nodes {
		h.Add(node)
	}
	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}
	first := h.Get("user-42")
	for i := 0; i < 10; i++ {
		if got := h.Get("user-42"); got != first {
			t.Fatalf("unstable mapping: %s != %s", got, first)
		}
	}
	t.Logf("node:%s", first)
}

func TestConsistentRemove(t *testing.T) {
	h := New(VirtualNodes(64))
	h.Add("a")
	h.Add("b")
	h.Add("a")
	h.Remove("a")
	if h.Len() != 1 {
		t.Fatalf("len = %d, want 1", h.Len())
	}
	for _, key := range []string{"x", "y", "z", "w"} {
		if got := h.Get(key); got != "b" {
			t.Fatalf("Get(%s) = %s, want b", key, got)
		}
	}
	h.Remove("b")
	if got := h.Get("x"); got != "" {
		t.Fatalf("empty ring returned %s", got)
	}
}
