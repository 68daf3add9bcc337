// Package load describes the resolved load intent handed to the worker.
package load

import (
	"math"
	"time"
)

// Role selects whether this run reads its own result file or merges
// results reported by remote workers.
type Role int

const (
	// RoleStandalone runs a single local worker writing a JTL file.
	RoleStandalone Role = iota

	// RoleCoordinator runs the worker as a master that receives
	// samples from remote workers.
	RoleCoordinator
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleStandalone:
		return "standalone"
	case RoleCoordinator:
		return "coordinator"
	default:
		return "unknown"
	}
}

// ParseRole maps a config string to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "", "standalone":
		return RoleStandalone, true
	case "coordinator", "master":
		return RoleCoordinator, true
	default:
		return RoleStandalone, false
	}
}

// Intent is the load the caller wants the worker to generate.
// A zero RampUp means no ramp-up was requested; a zero Iterations
// means no per-client request cap.
type Intent struct {
	Concurrency int
	RampUp      time.Duration
	Iterations  int
	TargetHost  string
	Role        Role
}

// HatchRate returns the number of clients to start per second so the
// ramp-up finishes within RampUp. The result is rounded up; rounding down
// would stretch the ramp-up past the requested duration.
func (i Intent) HatchRate() int {
	if i.RampUp <= 0 {
		return i.Concurrency
	}
	rate := int(math.Ceil(float64(i.Concurrency) / i.RampUp.Seconds()))
	if rate < 1 {
		rate = 1
	}
	return rate
}
