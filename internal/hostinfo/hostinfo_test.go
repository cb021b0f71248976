package hostinfo

import (
	"sync"
	"testing"

	"github.com/bft-labs/enginehost/pkg/log"
)

// mockLogger records warnings.
type mockLogger struct {
	log.NoopLogger
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Warn(msg string, fields ...log.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}

func TestKeepalive_String(t *testing.T) {
	tests := []struct {
		k    Keepalive
		want string
	}{
		{KeepaliveNone, "none"},
		{KeepaliveBasic, "basic"},
		{KeepalivePartial, "partial"},
		{KeepaliveFull, "full"},
		{Keepalive(9), "none"},
	}

	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Keepalive(%d).String() = %s, want %s", tt.k, got, tt.want)
		}
	}
}

func TestInfo_Report(t *testing.T) {
	tests := []struct {
		k        Keepalive
		wantWarn bool
	}{
		{KeepaliveFull, false},
		{KeepalivePartial, true},
		{KeepaliveBasic, true},
		{KeepaliveNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.k.String(), func(t *testing.T) {
			logger := &mockLogger{}
			Info{Keepalive: tt.k}.Report(logger)
			if got := len(logger.warns) > 0; got != tt.wantWarn {
				t.Errorf("warned = %v (%v), want %v", got, logger.warns, tt.wantWarn)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	info := Detect()
	if info.Keepalive < KeepaliveNone || info.Keepalive > KeepaliveFull {
		t.Errorf("Keepalive = %d out of range", info.Keepalive)
	}
}
