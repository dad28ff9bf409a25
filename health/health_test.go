package health

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zero-day-ai/recall/types"
)

func TestDirCheck(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "plain-file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name          string
		path          string
		expectHealthy bool
	}{
		{
			name:          "writable directory",
			path:          dir,
			expectHealthy: true,
		},
		{
			name:          "missing directory",
			path:          filepath.Join(dir, "does-not-exist"),
			expectHealthy: false,
		},
		{
			name:          "path is a file",
			path:          file,
			expectHealthy: false,
		},
		{
			name:          "empty path",
			path:          "",
			expectHealthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := DirCheck(tt.path)

			if tt.expectHealthy && !status.IsHealthy() {
				t.Errorf("expected healthy status, got %s: %s", status.Status, status.Message)
			}
			if !tt.expectHealthy && status.IsHealthy() {
				t.Errorf("expected unhealthy status, got %s: %s", status.Status, status.Message)
			}
			if status.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}

	t.Run("probe leaves no residue", func(t *testing.T) {
		probeDir := t.TempDir()
		if status := DirCheck(probeDir); !status.IsHealthy() {
			t.Fatalf("expected healthy status, got %s: %s", status.Status, status.Message)
		}

		entries, err := os.ReadDir(probeDir)
		if err != nil {
			t.Fatalf("failed to read probe dir: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected empty directory after probe, found %d entries", len(entries))
		}
	})
}

func TestNetworkCheck(t *testing.T) {
	// Start a test TCP server standing in for a snapshot backend.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer listener.Close()

	livePort := listener.Addr().(*net.TCPAddr).Port

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	// Reserve a port, then free it so dialing it is refused.
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	closedPort := closed.Addr().(*net.TCPAddr).Port
	closed.Close()

	tests := []struct {
		name          string
		host          string
		port          int
		expectHealthy bool
	}{
		{
			name:          "reachable backend",
			host:          "127.0.0.1",
			port:          livePort,
			expectHealthy: true,
		},
		{
			name:          "connection refused",
			host:          "127.0.0.1",
			port:          closedPort,
			expectHealthy: false,
		},
		{
			name:          "empty host",
			host:          "",
			port:          livePort,
			expectHealthy: false,
		},
		{
			name:          "invalid port",
			host:          "127.0.0.1",
			port:          -1,
			expectHealthy: false,
		},
		{
			name:          "port out of range",
			host:          "127.0.0.1",
			port:          70000,
			expectHealthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			status := NetworkCheck(ctx, tt.host, tt.port)

			if tt.expectHealthy && !status.IsHealthy() {
				t.Errorf("expected healthy status, got %s: %s", status.Status, status.Message)
			}
			if !tt.expectHealthy && status.IsHealthy() {
				t.Errorf("expected unhealthy status, got %s: %s", status.Status, status.Message)
			}
			if status.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}

	t.Run("nil context uses default timeout", func(t *testing.T) {
		status := NetworkCheck(nil, "127.0.0.1", livePort)
		if !status.IsHealthy() {
			t.Errorf("expected healthy status, got %s: %s", status.Status, status.Message)
		}
	})
}

func TestCombine(t *testing.T) {
	healthy := types.NewHealthyStatus("probe ok")
	degraded := types.NewDegradedStatus("snapshots failing", nil)
	unhealthy := types.NewUnhealthyStatus("probe failed", nil)

	tests := []struct {
		name       string
		checks     []types.HealthStatus
		wantStatus string
	}{
		{
			name:       "all healthy",
			checks:     []types.HealthStatus{healthy, healthy, healthy},
			wantStatus: types.StatusHealthy,
		},
		{
			name:       "degraded pulls the result down",
			checks:     []types.HealthStatus{healthy, degraded},
			wantStatus: types.StatusDegraded,
		},
		{
			name:       "unhealthy dominates degraded",
			checks:     []types.HealthStatus{healthy, degraded, unhealthy},
			wantStatus: types.StatusUnhealthy,
		},
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: types.StatusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := Combine(tt.checks...)

			if status.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s: %s", tt.wantStatus, status.Status, status.Message)
			}
			if status.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}

	t.Run("details carry the breakdown", func(t *testing.T) {
		status := Combine(healthy, degraded, unhealthy, unhealthy)

		if status.Details["total"] != 4 {
			t.Errorf("expected total 4, got %v", status.Details["total"])
		}
		if status.Details["unhealthy"] != 2 {
			t.Errorf("expected 2 unhealthy, got %v", status.Details["unhealthy"])
		}
		if status.Details["degraded"] != 1 {
			t.Errorf("expected 1 degraded, got %v", status.Details["degraded"])
		}
		if status.Details["healthy"] != 1 {
			t.Errorf("expected 1 healthy, got %v", status.Details["healthy"])
		}

		failed, ok := status.Details["failed_checks"].([]string)
		if !ok {
			t.Fatalf("expected failed_checks to be []string, got %T", status.Details["failed_checks"])
		}
		if len(failed) != 2 {
			t.Errorf("expected 2 failed checks, got %d", len(failed))
		}
	})
}
