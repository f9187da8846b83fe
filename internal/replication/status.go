// Package replication synchronizes the local collections with a remote
// CouchDB-compatible document server.
package replication

// Status is the aggregated sync state shown to the user.
type Status string

// Sync states.
const (
	// StatusLocalOnly means no remote endpoint is configured.
	StatusLocalOnly Status = "LOCAL_ONLY"
	// StatusDisabled means the user has not enabled auto-sync, or sync was stopped.
	StatusDisabled Status = "DISABLED"
	// StatusBlocked means sync is switched off administratively.
	StatusBlocked Status = "BLOCKED"
	// StatusError means the last attempt failed.
	StatusError Status = "ERROR"
	// StatusPaused means every collection is caught up.
	StatusPaused Status = "PAUSED"
	// StatusActive means at least one collection is exchanging changes.
	StatusActive Status = "ACTIVE"
)

// Reasons attached to StatusError.
const (
	ReasonNoNetwork   = "no network"
	ReasonUnreachable = "remote unreachable"
)

// aggregate folds per-session states into one: any error wins, then any
// activity, then caught up.
func aggregate(states map[string]Status) Status {
	if len(states) == 0 {
		return StatusPaused
	}
	active := false
	for _, s := range states {
		switch s {
		case StatusError:
			return StatusError
		case StatusActive:
			active = true
		}
	}
	if active {
		return StatusActive
	}
	return StatusPaused
}
