package clients

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTransportConfigFromEnv(t *testing.T) {
	t.Setenv("UPSTREAM_MAX_CONNS_PER_HOST", "3")
	t.Setenv("UPSTREAM_DIAL_TIMEOUT", "750ms")

	cfg := TransportConfigFromEnv()
	if cfg.MaxConnsPerHost != 3 || cfg.DialTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.MaxIdleConnsPerHost != DefaultTransportConfig().MaxIdleConnsPerHost {
		t.Fatalf("expected default idle limit, got %d", cfg.MaxIdleConnsPerHost)
	}
}

func TestNewTransportClampsLimits(t *testing.T) {
	tr := NewTransport(TransportConfig{MaxConnsPerHost: 2, MaxIdleConnsPerHost: 10})
	if tr.MaxConnsPerHost != 2 {
		t.Fatalf("expected 2 conns per host, got %d", tr.MaxConnsPerHost)
	}
	if tr.MaxIdleConnsPerHost != 2 {
		t.Fatalf("idle limit must not exceed the connection cap, got %d", tr.MaxIdleConnsPerHost)
	}

	zero := NewTransport(TransportConfig{})
	def := DefaultTransportConfig()
	if zero.MaxConnsPerHost != def.MaxConnsPerHost || zero.TLSHandshakeTimeout != def.TLSHandshakeTimeout {
		t.Fatalf("expected defaults for zero config, got %d %v", zero.MaxConnsPerHost, zero.TLSHandshakeTimeout)
	}
}

func TestHTTPClientCapsConcurrentConnections(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
	}))
	defer srv.Close()

	client := NewHTTPClient(5*time.Second, TransportConfig{MaxConnsPerHost: 2})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent connections, saw %d", got)
	}
}
