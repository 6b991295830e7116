package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	logx "potamesh/pkg/logx"
)

func TestServerExposesRegistry(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SpotsNew.Add(3)
	enabled := true
	RelayEnabled(reg, func() bool { return enabled })

	s := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, reg, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}

	body := get(t, "http://"+s.Addr()+"/metrics")
	for _, want := range []string{"potamesh_scrape_spots_new_total 3", "potamesh_relay_enabled 1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
	if got := get(t, "http://"+s.Addr()+"/healthz"); got != "ok" {
		t.Fatalf("healthz = %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRelayEnabledGauge(t *testing.T) {
	t.Parallel()
	on := false
	g := RelayEnabled(nil, func() bool { return on })
	if v := testutil.ToFloat64(g); v != 0 {
		t.Fatalf("gauge = %v, want 0", v)
	}
	on = true
	if v := testutil.ToFloat64(g); v != 1 {
		t.Fatalf("gauge = %v, want 1", v)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:9464": true,
		"[::1]:9464":     true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"bogus":          false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: %s", url, resp.Status)
	}
	return string(b)
}

func TestBusDroppedMirrorsCount(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	var n uint64 = 3
	c := BusDropped(reg, "spots", func() uint64 { return n })
	if v := testutil.ToFloat64(c); v != 3 {
		t.Fatalf("counter = %v, want 3", v)
	}
	n = 5
	const want = `
# HELP potamesh_events_dropped_total Events not delivered because a subscriber buffer was full.
# TYPE potamesh_events_dropped_total counter
potamesh_events_dropped_total{bus="spots"} 5
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "potamesh_events_dropped_total"); err != nil {
		t.Fatal(err)
	}
}
