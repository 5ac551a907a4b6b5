package loadbalancer

import "testing"

func TestRandomOnlyReturnsHealthy(t *testing.T) {
	backends := []*Backend{
		{URL: "http://server1:8080", Weight: 1, Healthy: true},
		{URL: "http://server2:8080", Weight: 1, Healthy: false},
	}
	r := NewRandom(backends)

	for i := 0; i < 20; i++ {
		b := r.Next()
		if b.URL != "http://server1:8080" {
			t.Fatalf("expected only the healthy backend, got %s", b.URL)
		}
	}
}

func TestRandomNoHealthy(t *testing.T) {
	// Fail open: with every backend unhealthy, Next still returns one
	// rather than refusing to serve.
	r := NewRandom([]*Backend{{URL: "http://server1:8080", Healthy: false}})
	b := r.Next()
	if b == nil {
		t.Fatal("expected fail-open fallback backend, got nil")
	}
	if b.URL != "http://server1:8080" {
		t.Errorf("expected the only configured backend, got %s", b.URL)
	}
}

func TestRandomNoBackends(t *testing.T) {
	r := NewRandom(nil)
	if r.Next() != nil {
		t.Error("should return nil when no backends are configured at all")
	}
}
