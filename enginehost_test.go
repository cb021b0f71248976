package enginehost

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bft-labs/enginehost/pkg/host"
	"github.com/bft-labs/enginehost/pkg/watchdog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Engines != host.DefaultEngines {
		t.Errorf("Engines = %d, want %d", cfg.Engines, host.DefaultEngines)
	}
	if cfg.StallPolicy != watchdog.PolicyEscalate {
		t.Errorf("StallPolicy = %q, want escalate", cfg.StallPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engines = -1
	code, err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("Run() should reject a negative engine count")
	}
	if code != ExitFatal {
		t.Errorf("code = %d, want %d", code, ExitFatal)
	}
}

func TestRun_DaemonEndOfInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon = true
	cfg.QuiesceTimeout = time.Second

	code, err := Run(context.Background(), cfg,
		host.WithConsole(strings.NewReader("start\nstop\n"), io.Discard),
		host.WithFlushDelay(0),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != ExitOK {
		t.Errorf("code = %d, want %d", code, ExitOK)
	}
}
