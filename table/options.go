package table

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/c2h5oh/datasize"

	"github.com/ledgerwatch/xtc/chainindex"
	"github.com/ledgerwatch/xtc/xtclog"
)

// NumHooks is the number of netfilter hook numbers a Family can declare
// (PREROUTING, INPUT, FORWARD, OUTPUT, POSTROUTING).
const NumHooks = 5

var defaultHookNames = [NumHooks]string{
	"PREROUTING", "INPUT", "FORWARD", "OUTPUT", "POSTROUTING",
}

// Option configures a Handle at construction time. Functional options
// are used instead of a long positional constructor because several of
// these are optional, and closing over Handle's unexported fields keeps
// them out of the public struct.
type Option func(*Handle)

// WithBucketSize overrides the chain index's K (default chainindex.DefaultBucketSize).
func WithBucketSize(k int) Option {
	return func(h *Handle) { h.bucketSize = k }
}

// WithMaxSnapshotRetries overrides how many get-info/get-entries attempts
// Init makes in total before giving up on a snapshot-changed size
// mismatch (default 3).
func WithMaxSnapshotRetries(n int) Option {
	return func(h *Handle) { h.maxSnapshotRetries = n }
}

// WithDebugAssert installs a callback invoked for internal consistency
// checks instead of the default panic-on-violation behavior.
func WithDebugAssert(f func(cond bool, msg string)) Option {
	return func(h *Handle) { h.debugAssert = f }
}

// WithLogger overrides the handle's logger (default xtclog.Root()).
func WithLogger(l xtclog.Logger) Option {
	return func(h *Handle) { h.logger = l }
}

// WithHookNames overrides the hook-number-to-name table used to name
// built-in chains during parsing.
func WithHookNames(names [NumHooks]string) Option {
	return func(h *Handle) { h.hookNames = names }
}

// WithLookupCache installs an optional fastcache-backed memo accelerating
// IsChain. Nil (the default) disables it.
func WithLookupCache(c *fastcache.Cache) Option {
	return func(h *Handle) { h.lookupCache = c }
}

// WithSizeWarn sets a soft ceiling on the compiled replacement blob's
// size; exceeding it logs a warning before commit. Zero (the default)
// disables the check.
func WithSizeWarn(limit datasize.ByteSize) Option {
	return func(h *Handle) { h.sizeWarn = limit }
}

func applyOptions(h *Handle, opts []Option) {
	h.bucketSize = chainindex.DefaultBucketSize
	h.maxSnapshotRetries = 3
	h.hookNames = defaultHookNames
	h.logger = xtclog.Root()
	for _, o := range opts {
		o(h)
	}
}
