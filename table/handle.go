package table

import (
	"context"
	"errors"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/c2h5oh/datasize"
	"github.com/holiman/uint256"

	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/chainindex"
	"github.com/ledgerwatch/xtc/transport"
	"github.com/ledgerwatch/xtc/xtclog"
	"github.com/ledgerwatch/xtc/xterr"
)

type handleState int

const (
	stateClean handleState = iota
	stateDirty
	stateCommitting
)

func (s handleState) String() string {
	switch s {
	case stateClean:
		return "clean"
	case stateDirty:
		return "dirty"
	case stateCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// Handle is the live cache for one kernel table, from init to free. It
// is owned by exactly one goroutine at a time and carries no internal
// lock.
type Handle struct {
	name   string
	family blob.Family
	tp     transport.Transport

	state handleState

	chainHead, chainTail *Chain
	firstUserChain       *Chain
	numUserChains        int

	index         *chainindex.Index
	sortedOffsets bool

	info transport.Info

	curChain           *Chain
	curChainBeforeHead bool
	curRule            *Rule
	curRuleChain       *Chain
	curRuleBeforeHead  bool

	bucketSize         int
	maxSnapshotRetries int
	sizeWarn           datasize.ByteSize
	hookNames          [NumHooks]string
	debugAssert        func(cond bool, msg string)
	logger             xtclog.Logger
	lookupCache        *fastcache.Cache
}

// New builds an empty handle bound to tp and table name. It performs no
// transport I/O; call Init to populate the cache from the kernel.
func New(tp transport.Transport, name string, family blob.Family, opts ...Option) *Handle {
	h := &Handle{name: name, family: family, tp: tp}
	applyOptions(h, opts)
	h.logger = h.logger.New("table", name)
	h.index = chainindex.New(h.bucketSize)
	h.sortedOffsets = true
	return h
}

func (h *Handle) assert(cond bool, msg string) {
	if h.debugAssert != nil {
		h.debugAssert(cond, msg)
		return
	}
	if !cond {
		panic("xtc/table: assertion failed: " + msg)
	}
}

// Name returns the table name this handle is bound to.
func (h *Handle) Name() string { return h.name }

// Family returns the protocol family this handle parses/compiles for.
func (h *Handle) Family() blob.Family { return h.family }

// Changed reports whether any mutator has succeeded since the last
// successful commit or free.
func (h *Handle) Changed() bool { return h.state != stateClean }

func (h *Handle) markChanged() {
	if h.state != stateCommitting {
		h.state = stateDirty
	}
}

// Init performs get-info then get-entries (making at most
// maxSnapshotRetries attempts in total while get-entries reports a
// snapshot-changed size mismatch), then parses the blob into the cache. It replaces any previously parsed
// state.
func (h *Handle) Init(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < h.maxSnapshotRetries; attempt++ {
		info, err := h.tp.GetInfo(ctx, h.name)
		if err != nil {
			return xterr.Wrap(xterr.OpInit, getInfoErrKind(err), err)
		}
		data, err := h.tp.GetEntries(ctx, h.name, info.Size)
		if errors.Is(err, transport.ErrSnapshotChanged) {
			lastErr = xterr.New(xterr.OpInit, xterr.KindSnapshotChanged)
			h.logger.Debug("snapshot changed between get-info and get-entries, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return xterr.Wrap(xterr.OpInit, xterr.KindPermission, err)
		}
		h.reset()
		h.info = info
		if err := newParser(h).parse(data); err != nil {
			return err
		}
		h.state = stateClean
		return nil
	}
	return lastErr
}

func getInfoErrKind(err error) xterr.Kind {
	switch {
	case errors.Is(err, transport.ErrNoSuchTable):
		return xterr.KindNoSuchTable
	case errors.Is(err, transport.ErrVersionMismatch):
		return xterr.KindVersionMismatch
	default:
		return xterr.KindPermission
	}
}

func (h *Handle) reset() {
	h.chainHead, h.chainTail, h.firstUserChain = nil, nil, nil
	h.numUserChains = 0
	h.curChain, h.curChainBeforeHead = nil, false
	h.curRule, h.curRuleChain, h.curRuleBeforeHead = nil, nil, false
	h.index = chainindex.New(h.bucketSize)
	h.sortedOffsets = true
}

// Free tears the cache down deterministically; valid from any state.
func (h *Handle) Free() {
	h.reset()
	h.state = stateClean
}

// SetLookupCache installs or clears the optional fastcache-backed IsChain
// memo.
func (h *Handle) SetLookupCache(c *fastcache.Cache) { h.lookupCache = c }

func (h *Handle) invalidateLookupCache() {
	if h.lookupCache != nil {
		h.lookupCache.Reset()
	}
}

// TotalCounters sums every chain's policy counters and every rule's
// counters across the whole table without overflow risk.
func (h *Handle) TotalCounters() (packets, bytes uint256.Int) {
	for c := h.chainHead; c != nil; c = c.next {
		packets.Add(&packets, new(uint256.Int).SetUint64(c.counters.Packets))
		bytes.Add(&bytes, new(uint256.Int).SetUint64(c.counters.Bytes))
		for r := c.ruleHead; r != nil; r = r.next {
			packets.Add(&packets, new(uint256.Int).SetUint64(r.counters.Packets))
			bytes.Add(&bytes, new(uint256.Int).SetUint64(r.counters.Bytes))
		}
	}
	return packets, bytes
}
