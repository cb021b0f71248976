package cliconfig

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"ENGINEHOST_ENGINES":           "6",
				"ENGINEHOST_WATCHDOG_INTERVAL": "1m",
				"ENGINEHOST_QUIESCE_TIMEOUT":   "3s",
				"ENGINEHOST_HOST_PRIO":         "-4",
				"ENGINEHOST_ENGINE_PRIO":       "0",
				"ENGINEHOST_SRV_PRIO":          "2",
				"ENGINEHOST_DAEMON":            "1",
				"ENGINEHOST_RC":                "/rc",
				"ENGINEHOST_CONTROL_ADDR":      ":3270",
				"ENGINEHOST_STALL_POLICY":      "log",
				"ENGINEHOST_LOG_LEVEL":         "warn",
				"ENGINEHOST_LOG_MIRROR":        "/mirror.log",
				"ENGINEHOST_STATE_DIR":         "/state",
				"ENGINEHOST_WATCH_CONFIG":      "true",
			},
			changed: map[string]bool{},
			initial: DefaultConfig(),
			expected: Config{
				Engines:          6,
				WatchdogInterval: time.Minute,
				QuiesceTimeout:   3 * time.Second,
				HostPriority:     -4,
				EnginePriority:   0,
				ServicePriority:  2,
				Daemon:           boolPtr(true),
				RCFile:           "/rc",
				ControlAddr:      ":3270",
				StallPolicy:      "log",
				LogLevel:         "warn",
				LogMirror:        "/mirror.log",
				StateDir:         "/state",
				WatchConfig:      true,
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"ENGINEHOST_ENGINES":   "6",
				"ENGINEHOST_LOG_LEVEL": "debug",
			},
			changed: map[string]bool{"engines": true},
			initial: DefaultConfig(),
			expected: func() Config {
				c := DefaultConfig()
				c.LogLevel = "debug"
				return c
			}(),
		},
		{
			name:     "explicit daemon false",
			envVars:  map[string]string{"ENGINEHOST_DAEMON": "false"},
			changed:  map[string]bool{},
			initial:  DefaultConfig(),
			expected: func() Config { c := DefaultConfig(); c.Daemon = boolPtr(false); return c }(),
		},
		{
			name:     "non-positive engine count ignored",
			envVars:  map[string]string{"ENGINEHOST_ENGINES": "0"},
			changed:  map[string]bool{},
			initial:  DefaultConfig(),
			expected: DefaultConfig(),
		},
		{
			name:    "returns error for invalid duration",
			envVars: map[string]string{"ENGINEHOST_WATCHDOG_INTERVAL": "not-a-duration"},
			changed: map[string]bool{},
			initial: DefaultConfig(),
			wantErr: true,
		},
		{
			name:    "returns error for invalid priority",
			envVars: map[string]string{"ENGINEHOST_ENGINE_PRIO": "high"},
			changed: map[string]bool{},
			initial: DefaultConfig(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			compareConfig(t, cfg, tt.expected)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"info", zerolog.InfoLevel, false},
		{" DEBUG ", zerolog.DebugLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"", zerolog.NoLevel, true},
		{"chatty", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel() = %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("GlobalLevel() = %v, want warn", zerolog.GlobalLevel())
	}
	if err := SetLevel("nope"); err == nil {
		t.Error("SetLevel() with unknown level should fail")
	}
}

func TestLogger_TeesToExtraWriters(t *testing.T) {
	var buf bytes.Buffer
	logger := Logger(&buf)
	logger.Info().Str("component", "test").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"message":"hello"`) || !strings.Contains(out, `"component":"test"`) {
		t.Errorf("extra writer got %q", out)
	}
}
