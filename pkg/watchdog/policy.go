package watchdog

import (
	"fmt"
	"strings"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
)

// Policy names the operator-selected stall handling.
type Policy string

const (
	// PolicyEscalate installs no hook: every stall gets a corrective fault.
	PolicyEscalate Policy = "escalate"
	// PolicyLog reports stalls and never delivers a fault.
	PolicyLog Policy = "log"
	// PolicyFatal treats a stall as fatal and requests shutdown.
	PolicyFatal Policy = "fatal"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyEscalate, PolicyLog, PolicyFatal:
		return p, nil
	default:
		return "", fmt.Errorf("unknown stall policy %q (want escalate, log or fatal)", s)
	}
}

// HookFor returns the hook implementing p, or nil for PolicyEscalate.
// request must not block; the watchdog calls it from its own loop.
func HookFor(p Policy, logger log.Logger, request func(lifecycle.Trigger)) StallHook {
	logger = log.OrNoop(logger)
	switch p {
	case PolicyLog:
		return StallHookFunc(func(idx int) bool {
			logger.Warn("stall left to operator", log.Engine(idx))
			return true
		})
	case PolicyFatal:
		return StallHookFunc(func(idx int) bool {
			t := lifecycle.FatalEngineFault(idx, "engine made no progress for one watchdog interval")
			logger.Error("stalled engine is fatal", log.Engine(idx), log.Trigger(t))
			request(t)
			return true
		})
	default:
		return nil
	}
}
