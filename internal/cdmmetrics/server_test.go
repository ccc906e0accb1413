package cdmmetrics

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestServer_Lifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordSessionCreated("com.widevine.alpha")

	const port = 19091
	server := NewServer(port, m)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/metrics", port))
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if server.Port() != port {
		t.Errorf("Port() = %d, want %d", server.Port(), port)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned err = %v, want nil on graceful shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestServer_StopIsIdempotent(t *testing.T) {
	server := NewServer(19092, nil)

	ctx := context.Background()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
