package capture

import (
	"sort"
	"time"

	"dashboard/internal/model"
)

// Result describes the still pair fixed by a capture.
//
// Written holds the tick of the last successful write per role; roles absent
// from the map were never written during the session. Skew is the tick
// distance between the two slots and is zero unless both were written. When
// both sources deliver a frame every tick the skew is at most 1; a source
// that drops frames lags by the number of ticks it missed.
type Result struct {
	SessionID  string
	Tick       uint64
	Written    map[model.Role]uint64
	Skew       uint64
	Degraded   []model.Role
	CapturedAt time.Time
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID       string
	State           State
	Tick            uint64
	PreviewRole     model.Role
	WriteMode       WriteMode
	Active          []model.Role
	Degraded        map[model.Role]string
	PreviewDegraded bool
}

func skew(written map[model.Role]uint64) uint64 {
	a, okA := written[model.RoleThermal]
	b, okB := written[model.RoleRGB]
	if !okA || !okB {
		return 0
	}
	if a > b {
		return a - b
	}
	return b - a
}

func sortRoles(roles []model.Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
}
