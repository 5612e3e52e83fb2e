package table

import (
	"context"
	"errors"

	"github.com/ledgerwatch/xtc/transport"
	"github.com/ledgerwatch/xtc/xtcmetrics"
	"github.com/ledgerwatch/xtc/xterr"
)

// Commit compiles the cache, atomically replaces the kernel table, and
// reconciles counters. It is a no-op if no mutator has run since Init or
// the last successful Commit.
func (h *Handle) Commit(ctx context.Context) error {
	if !h.Changed() {
		xtcmetrics.CommitNoopTotal.Inc()
		return nil
	}
	h.state = stateCommitting

	co := newCompiler(h)
	repl := co.emit()

	preCounters, err := h.tp.SetReplace(ctx, repl)
	if err != nil {
		h.state = stateDirty
		return xterr.Wrap(xterr.OpCommit, replaceErrKind(err), err)
	}

	counters := make([]transport.Counter, repl.NumEntries)
	for i, target := range co.order {
		switch {
		case target.rule != nil:
			r := target.rule
			counters[i] = reconcileCounter(r.counterTag, r.counterPos, r.counters, r.snapshotCounters, preCounters)
		case target.chain != nil:
			c := target.chain
			counters[i] = reconcileCounter(c.counterTag, c.counterPos, c.counters, c.snapshotCounters, preCounters)
		}
	}

	update := transport.CountersUpdate{Name: h.name, NumCounters: repl.NumEntries, Counters: counters}
	if err := h.tp.AddCounters(ctx, update); err != nil {
		h.state = stateDirty
		return xterr.Wrap(xterr.OpCommit, xterr.KindPermission, err)
	}

	// The replacement is the kernel's table now: every surviving rule's
	// counter slot lives at its new position, and the layout the compiler
	// just wrote is sorted, so offset search is trustworthy again.
	for i, target := range co.order {
		switch {
		case target.rule != nil:
			target.rule.counterTag = MapNormal
			target.rule.counterPos = i
			target.rule.counters = counters[i]
			target.rule.snapshotCounters = counters[i]
		case target.chain != nil:
			target.chain.counterTag = MapNormal
			target.chain.counterPos = i
			target.chain.counters = counters[i]
			target.chain.snapshotCounters = counters[i]
		}
	}
	h.info.NumEntries = repl.NumEntries
	h.info.Size = repl.Size
	h.sortedOffsets = true
	h.index.SetSortedOffsets(true)

	h.state = stateClean
	xtcmetrics.CommitsTotal.Inc()
	return nil
}

func replaceErrKind(err error) xterr.Kind {
	switch {
	case errors.Is(err, transport.ErrLoopDetected):
		return xterr.KindLoopDetected
	case errors.Is(err, transport.ErrInvalidRule):
		return xterr.KindInvalidRule
	default:
		return xterr.KindPermission
	}
}

// reconcileCounter derives one rule's add-counters slot from its
// counter-map tag. pos indexes
// preCounters, the pre-replace snapshot the transport handed back keyed by
// each surviving rule's original position; current is the cache's own
// counters (meaningful only for SET); snapshot is the counters captured
// when the rule was last tagged NORMAL_MAP, at parse time or by the
// previous successful Commit (meaningful only for ZEROED). A tag of NORMAL_MAP or ZEROED referencing a position
// the snapshot doesn't have is a reconciliation mismatch and degrades to
// NOMAP rather than panicking.
func reconcileCounter(tag CounterMapTag, pos int, current, snapshot transport.Counter, preCounters []transport.Counter) transport.Counter {
	switch tag {
	case MapNormal, MapZeroed:
		if pos < 0 || pos >= len(preCounters) {
			xtcmetrics.ReconcileMismatchTotal.Inc()
			return transport.Counter{}
		}
		pre := preCounters[pos]
		if tag == MapZeroed {
			return transport.Counter{
				Packets: pre.Packets - snapshot.Packets,
				Bytes:   pre.Bytes - snapshot.Bytes,
			}
		}
		return pre
	case MapSet:
		return current
	default: // MapNoMap
		return transport.Counter{}
	}
}
