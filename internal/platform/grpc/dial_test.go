package grpc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProbeSuccess(t *testing.T) {
	addr, _, stop := startHealthServer(t)
	defer stop()

	if err := Probe(context.Background(), addr, "", 2*time.Second, nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestProbeReportsHealthStage(t *testing.T) {
	addr, server, stop := startHealthServer(t, "qbo.upstream")
	defer stop()
	server.SetServing("qbo.upstream", false)

	err := Probe(context.Background(), addr, "qbo.upstream", 300*time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Fatalf("expected ProbeError, got %T", err)
	}
	if probeErr.Stage != ProbeStageHealth {
		t.Fatalf("expected health stage, got %s", probeErr.Stage)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
}

func TestProbeErrorNilSafe(t *testing.T) {
	var err *ProbeError
	if err.Error() == "" {
		t.Fatal("expected message")
	}
	if err.Unwrap() != nil {
		t.Fatal("expected nil unwrap")
	}
}
