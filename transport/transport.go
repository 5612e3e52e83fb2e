// Package transport defines the contract the cache core requires of its
// environment: four blocking operations against a named packet-filter
// table. It deliberately says nothing about how those operations reach
// the kernel; that is an external collaborator's concern (a
// setsockopt-based implementation, a privileged helper process, whatever
// the caller wants). The rest of the module never distinguishes between
// implementations.
package transport

import "context"

// Counter is a single rule or chain-policy packet/byte pair.
type Counter struct {
	Packets uint64
	Bytes   uint64
}

// Info is the result of GetInfo: the kernel's current layout description
// for a table, before any entries are fetched.
type Info struct {
	ValidHooks uint32
	HookEntry  []uint32 // indexed by hook number, 0 if the hook isn't valid for this table
	Underflow  []uint32
	NumEntries uint32
	Size       uint32
}

// Replacement is the packed blob plus header the compiler produces and
// SetReplace ships to the kernel atomically.
type Replacement struct {
	Name        string
	ValidHooks  uint32
	HookEntry   []uint32
	Underflow   []uint32
	NumEntries  uint32
	Size        uint32
	NumCounters uint32 // number of pre-existing rules, i.e. how many old counters the kernel must hand back
	Entries     []byte
}

// CountersUpdate is the add_counters payload: one counter delta per
// rule in the newly replaced table, in new-rule-index order.
type CountersUpdate struct {
	Name        string
	NumCounters uint32
	Counters    []Counter
}

// ErrSnapshotChanged is returned by GetEntries when the table's size
// changed between GetInfo and GetEntries; the caller (table.Init) is
// expected to retry from GetInfo.
var ErrSnapshotChanged = &transportError{"snapshot changed between get-info and get-entries"}

// GetInfo failure reasons. Concrete transports wrap their native errno
// into one of these so table.Init can tell a missing table from a
// privilege problem from a kernel speaking an incompatible revision of
// the get-info structure.
var (
	ErrNoSuchTable     = &transportError{"no such table"}
	ErrPermission      = &transportError{"operation not permitted"}
	ErrVersionMismatch = &transportError{"kernel reported an incompatible protocol version"}
)

// ErrLoopDetected and ErrInvalidRule are the two rejection reasons
// SetReplace distinguishes: the kernel found a jump cycle, or it refused
// an individual rule or the blob layout itself. Concrete transports wrap
// their native failure into one of these so the commit driver can map it
// onto the error taxonomy.
var (
	ErrLoopDetected = &transportError{"replacement rejected: jump loop detected"}
	ErrInvalidRule  = &transportError{"replacement rejected: invalid rule"}
)

type transportError struct{ s string }

func (e *transportError) Error() string { return e.s }

// Transport is the synchronous contract the core depends on. A
// Transport is used only inside Init (read) and Commit (atomic
// read-replace-add); there are no other suspension points, and a single
// Transport value is never used concurrently from two goroutines by
// this module.
type Transport interface {
	// GetInfo returns the kernel's current table layout.
	GetInfo(ctx context.Context, table string) (Info, error)

	// GetEntries fetches the packed blob. expectedSize must equal the
	// Size returned by the most recent GetInfo; a mismatch at the
	// transport layer surfaces as ErrSnapshotChanged.
	GetEntries(ctx context.Context, table string, expectedSize uint32) ([]byte, error)

	// SetReplace atomically installs a full replacement table and
	// returns the pre-replace counters for every rule that existed in
	// the previous generation, indexed by that rule's original
	// position.
	SetReplace(ctx context.Context, r Replacement) ([]Counter, error)

	// AddCounters applies a counter delta to the just-installed table.
	AddCounters(ctx context.Context, u CountersUpdate) error
}
