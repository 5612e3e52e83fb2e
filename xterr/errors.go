// Package xterr implements the module's error taxonomy: a fixed set of
// abstract failure kinds, each carrying the operation that was in
// progress when it occurred, plus a strerror-style renderer that prefers
// an operation-scoped message over a generic one.
//
// Errors compose with the standard library's errors.Is/errors.As via
// Unwrap; there is no third-party errors dependency.
package xterr

import "fmt"

// Kind is the abstract failure reason, independent of which operation
// produced it.
type Kind int

const (
	KindNone Kind = iota
	KindPermission
	KindNoSuchTable
	KindVersionMismatch
	KindNoSuchChain
	KindChainExists
	KindReservedLabel
	KindNameTooLong
	KindBuiltinChain
	KindNotEmpty
	KindStillReferenced
	KindIndexOutOfRange
	KindNotFound
	KindInvalidRule
	KindLoopDetected
	KindOutOfMemory
	KindSnapshotChanged
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPermission:
		return "permission"
	case KindNoSuchTable:
		return "no-such-table"
	case KindVersionMismatch:
		return "version-mismatch"
	case KindNoSuchChain:
		return "no-such-chain"
	case KindChainExists:
		return "chain-exists"
	case KindReservedLabel:
		return "reserved-label"
	case KindNameTooLong:
		return "name-too-long"
	case KindBuiltinChain:
		return "builtin-chain"
	case KindNotEmpty:
		return "not-empty"
	case KindStillReferenced:
		return "still-referenced"
	case KindIndexOutOfRange:
		return "index-out-of-range"
	case KindNotFound:
		return "not-found"
	case KindInvalidRule:
		return "invalid-rule"
	case KindLoopDetected:
		return "loop-detected"
	case KindOutOfMemory:
		return "out-of-memory"
	case KindSnapshotChanged:
		return "snapshot-changed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Op names the public mutator or driver step in progress when an error
// was produced. It travels inside the error value; there is no
// process-global "current operation" state.
type Op string

const (
	OpInit         Op = "init"
	OpCommit       Op = "commit"
	OpCreateChain  Op = "create_chain"
	OpDeleteChain  Op = "delete_chain"
	OpRenameChain  Op = "rename_chain"
	OpInsertEntry  Op = "insert_entry"
	OpAppendEntry  Op = "append_entry"
	OpReplaceEntry Op = "replace_entry"
	OpDeleteEntry  Op = "delete_entry"
	OpCheckEntry   Op = "check_entry"
	OpDeleteNum    Op = "delete_num_entry"
	OpSetCounter   Op = "set_counter"
	OpZeroCounter  Op = "zero_counter"
	OpReadCounter  Op = "read_counter"
	OpSetPolicy    Op = "set_policy"
	OpGetPolicy    Op = "get_policy"
	OpParse        Op = "parse"
)

// Error is the concrete error type returned by every public operation in
// this module.
type Error struct {
	Op   Op
	Kind Kind
	Err  error // underlying cause, if any; may be nil
}

func New(op Op, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

func Wrap(op Op, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// HasKind reports whether err carries the given Kind anywhere in its
// unwrap chain, regardless of which operation produced it. Kind is not
// itself an error, so errors.Is cannot express this check directly.
func HasKind(err error, kind Kind) bool {
	var xe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			xe = e
			if xe.Kind == kind {
				return true
			}
			err = xe.Err
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// genericMessages are the fallback, operation-agnostic strings.
var genericMessages = map[Kind]string{
	KindPermission:      "permission denied",
	KindNoSuchTable:     "no such table",
	KindVersionMismatch: "incompatible kernel protocol version",
	KindNoSuchChain:     "no such chain",
	KindChainExists:     "chain already exists",
	KindReservedLabel:   "name is a reserved verdict label",
	KindNameTooLong:     "name too long",
	KindBuiltinChain:    "operation not permitted on a built-in chain",
	KindNotEmpty:        "chain is not empty",
	KindStillReferenced: "chain is still referenced by a jump",
	KindIndexOutOfRange: "rule index out of range",
	KindNotFound:        "no matching rule found",
	KindInvalidRule:     "invalid rule",
	KindLoopDetected:    "jump loop detected",
	KindOutOfMemory:     "out of memory",
	KindSnapshotChanged: "kernel snapshot changed, retry",
}

// opScoped holds the handful of messages that read better phrased in terms
// of the operation that triggered them; anything absent here falls back to
// genericMessages, per the "prefer the more specific message when both
// exist" rule.
var opScoped = map[Op]map[Kind]string{
	OpCreateChain: {
		KindChainExists:   "cannot create chain: a chain with that name already exists",
		KindReservedLabel: "cannot create chain: name collides with a verdict keyword",
		KindNameTooLong:   "cannot create chain: name exceeds the maximum chain name length",
	},
	OpRenameChain: {
		KindChainExists:   "cannot rename chain: target name already exists",
		KindBuiltinChain:  "cannot rename a built-in chain",
		KindReservedLabel: "cannot rename chain: target name collides with a verdict keyword",
	},
	OpDeleteChain: {
		KindNotEmpty:        "cannot delete chain: it still contains rules",
		KindStillReferenced: "cannot delete chain: it is still the target of a jump",
		KindBuiltinChain:    "cannot delete a built-in chain",
	},
	OpSetPolicy: {
		KindBuiltinChain: "cannot set a policy on a user-defined chain",
		KindInvalidRule:  "policy must be ACCEPT or DROP",
	},
	OpDeleteEntry: {
		KindNotFound: "no rule in this chain matches the given entry",
	},
	OpCheckEntry: {
		KindNotFound: "no rule in this chain matches the given entry",
	},
	OpInsertEntry: {
		KindIndexOutOfRange: "rule number is greater than the chain's length",
	},
	OpCommit: {
		KindSnapshotChanged: "kernel table changed size since it was read; re-init and retry",
		KindLoopDetected:    "kernel rejected the replacement: jump loop detected",
		KindInvalidRule:     "kernel rejected the replacement blob as invalid",
	},
}

// Strerror renders a human-readable message for err under the given
// operation, preferring an operation-scoped message over the generic one.
func Strerror(op Op, err error) string {
	var xe *Error
	if e, ok := err.(*Error); ok {
		xe = e
	} else {
		return err.Error()
	}
	if scoped, ok := opScoped[op]; ok {
		if msg, ok := scoped[xe.Kind]; ok {
			return msg
		}
	}
	if msg, ok := genericMessages[xe.Kind]; ok {
		return msg
	}
	return xe.Error()
}
