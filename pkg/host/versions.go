package host

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bft-labs/enginehost/pkg/lifecycle"
	"github.com/bft-labs/enginehost/pkg/log"
	"github.com/bft-labs/enginehost/pkg/state"
)

type moduleVersion struct {
	name, version, min string
}

func moduleVersions() []moduleVersion {
	return []moduleVersion{
		{"lifecycle", lifecycle.Version, lifecycle.MinCompatibleVersion},
		{"log", log.Version, log.MinCompatibleVersion},
		{"state", state.Version, state.MinCompatibleVersion},
	}
}

// checkModuleVersions rejects a build that links a module older than the
// minimum its consumers were written against.
func checkModuleVersions(mods []moduleVersion) error {
	for _, m := range mods {
		v, err := parseVersion(m.version)
		if err != nil {
			return fmt.Errorf("module %s: %w", m.name, err)
		}
		floor, err := parseVersion(m.min)
		if err != nil {
			return fmt.Errorf("module %s minimum: %w", m.name, err)
		}
		if compareVersions(v, floor) < 0 {
			return fmt.Errorf("module %s version %s is below minimum compatible version %s",
				m.name, m.version, m.min)
		}
	}
	return nil
}

func parseVersion(s string) ([3]int, error) {
	var out [3]int
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("malformed version %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, fmt.Errorf("malformed version %q", s)
		}
		out[i] = n
	}
	return out, nil
}

func compareVersions(a, b [3]int) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}
