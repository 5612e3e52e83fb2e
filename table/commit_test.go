package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/transport"
	"github.com/ledgerwatch/xtc/xterr"
)

// Without a mutation, commit never talks to the transport.
func TestCommitIsNoopWhenUnchanged(t *testing.T) {
	tp := record(stockFilter(t))
	h := initHandle(t, tp)

	require.False(t, h.Changed())
	require.NoError(t, h.Commit(context.Background()))
	require.Equal(t, 0, tp.setReplaceCalls)
	require.Equal(t, 0, tp.addCountersCalls)
}

// Create a chain, jump to it from INPUT, commit; the kernel receives a
// blob whose jump verdict is the target chain's landing offset.
func TestCommitCreateAndJump(t *testing.T) {
	ctx := context.Background()
	tp := record(stockFilter(t))
	h := initHandle(t, tp)

	block, err := h.CreateChain("block")
	require.NoError(t, err)
	in := chainByName(t, h, "INPUT")
	jump, err := h.AppendEntry(in, RuleSpec{TargetName: "block", IPFields: zeroIP()})
	require.NoError(t, err)
	require.Equal(t, 1, h.GetReferences(block))

	require.NoError(t, h.Commit(ctx))
	require.False(t, h.Changed())
	require.Equal(t, 1, tp.setReplaceCalls)
	require.Equal(t, 1, tp.addCountersCalls)

	// Commit refreshed the cache layout, so jump.offset and
	// block.headOffset describe the blob the kernel now holds.
	e, err := blob.DecodeEntry(blob.FamilyIPv4, tp.lastReplacement.Entries, jump.offset)
	require.NoError(t, err)
	require.True(t, e.IsStandard())
	require.Equal(t, int32(block.headOffset), e.Verdict)

	// A fresh handle parsing the committed table sees the same structure.
	h2 := initHandle(t, tp.Memory)
	b2 := chainByName(t, h2, "block")
	require.Equal(t, 1, b2.References())
	r2, ok := h2.FirstRule(chainByName(t, h2, "INPUT"))
	require.True(t, ok)
	require.Equal(t, RuleJump, r2.Kind())
	require.Equal(t, "block", h2.GetTarget(r2))
}

// Deleting a chain with a dangling reference fails until the jump is
// removed.
func TestDeleteChainAfterCommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	tp := record(stockFilter(t))
	h := initHandle(t, tp)

	_, err := h.CreateChain("block")
	require.NoError(t, err)
	in := chainByName(t, h, "INPUT")
	_, err = h.AppendEntry(in, RuleSpec{TargetName: "block", IPFields: zeroIP()})
	require.NoError(t, err)
	require.NoError(t, h.Commit(ctx))

	h2 := initHandle(t, tp.Memory)
	block := chainByName(t, h2, "block")
	require.True(t, xterr.HasKind(h2.DeleteChain(block), xterr.KindStillReferenced))

	require.NoError(t, h2.DeleteNumEntry(chainByName(t, h2, "INPUT"), 0))
	require.NoError(t, h2.DeleteChain(block))
	require.False(t, h2.IsChain("block"))

	require.NoError(t, h2.Commit(ctx))
	h3 := initHandle(t, tp.Memory)
	require.False(t, h3.IsChain("block"))
}

// An unmutated NORMAL_MAP rule's add-counters slot carries the full
// pre-replace read-back.
func TestCounterReconciliationNormalMap(t *testing.T) {
	ctx := context.Background()
	u := mkUser("U")
	addModuleRule(u, "limit", make([]byte, 8), transport.Counter{Packets: 100, Bytes: 20000})
	input := mkBuiltin("INPUT", 2, blob.VerdictAccept)
	addJumpRule(input, u)

	info, data := buildSnapshot(t, input, u)
	m := transport.NewMemory()
	m.Seed("filter", info, data, entryCounters(t, data))

	h := initHandle(t, m)
	// the kernel counts more traffic between our read and the replace
	cached := chainByName(t, h, "U")
	pos := getRuleNum(cached, 0).counterPos
	m.SimulateKernelCount("filter", pos, 50, 10000)

	// dirty the handle without touching U
	_, err := h.CreateChain("staging")
	require.NoError(t, err)

	tp := record(m)
	h.tp = tp
	require.NoError(t, h.Commit(ctx))

	r := getRuleNum(chainByName(t, h, "U"), 0)
	got := tp.lastUpdate.Counters[r.counterPos]
	require.Equal(t, transport.Counter{Packets: 150, Bytes: 30000}, got)
}

// A zeroed rule's slot carries only the delta since the snapshot read.
func TestCounterReconciliationZeroed(t *testing.T) {
	ctx := context.Background()
	u := mkUser("U")
	addModuleRule(u, "limit", make([]byte, 8), transport.Counter{Packets: 100, Bytes: 20000})
	input := mkBuiltin("INPUT", 2, blob.VerdictAccept)
	addJumpRule(input, u)

	info, data := buildSnapshot(t, input, u)
	m := transport.NewMemory()
	m.Seed("filter", info, data, entryCounters(t, data))

	h := initHandle(t, m)
	cached := chainByName(t, h, "U")
	m.SimulateKernelCount("filter", getRuleNum(cached, 0).counterPos, 50, 10000)

	require.NoError(t, h.ZeroEntries(cached))

	tp := record(m)
	h.tp = tp
	require.NoError(t, h.Commit(ctx))

	r := getRuleNum(chainByName(t, h, "U"), 0)
	got := tp.lastUpdate.Counters[r.counterPos]
	require.Equal(t, transport.Counter{Packets: 50, Bytes: 10000}, got)
}

// A SET counter rides through reconciliation verbatim.
func TestCounterReconciliationSet(t *testing.T) {
	ctx := context.Background()
	h, c := acctFixture(t)
	require.NoError(t, h.SetCounter(c, 1, transport.Counter{Packets: 9, Bytes: 90}))

	tp := record(h.tp.(*transport.Memory))
	h.tp = tp
	require.NoError(t, h.Commit(ctx))

	r := getRuleNum(chainByName(t, h, "acct"), 0)
	require.Equal(t, transport.Counter{Packets: 9, Bytes: 90}, tp.lastUpdate.Counters[r.counterPos])
}

// Renaming a chain is observed through existing jump rules without any
// other mutation.
func TestRenamePreservesReferences(t *testing.T) {
	h := initHandle(t, stockFilter(t))
	_, err := h.CreateChain("a")
	require.NoError(t, err)
	_, err = h.CreateChain("b")
	require.NoError(t, err)

	in := chainByName(t, h, "INPUT")
	jump, err := h.AppendEntry(in, RuleSpec{TargetName: "b", IPFields: zeroIP()})
	require.NoError(t, err)

	require.NoError(t, h.RenameChain("b", "z"))
	require.Equal(t, "z", h.GetTarget(jump))
	require.Equal(t, 1, h.GetReferences(chainByName(t, h, "z")))
}

func TestCommitFailureLeavesHandleDirty(t *testing.T) {
	ctx := context.Background()
	tp := record(stockFilter(t))
	h := initHandle(t, tp)

	_, err := h.CreateChain("block")
	require.NoError(t, err)

	tp.replaceErr = transport.ErrLoopDetected
	err = h.Commit(ctx)
	require.Error(t, err)
	require.True(t, xterr.HasKind(err, xterr.KindLoopDetected))
	require.True(t, h.Changed())

	tp.replaceErr = transport.ErrInvalidRule
	err = h.Commit(ctx)
	require.True(t, xterr.HasKind(err, xterr.KindInvalidRule))

	// clearing the fault lets the retry succeed with the same cache
	tp.replaceErr = nil
	require.NoError(t, h.Commit(ctx))
	require.False(t, h.Changed())
	h2 := initHandle(t, tp.Memory)
	require.True(t, h2.IsChain("block"))
}

// Counter conservation end to end: the kernel's view after commit equals
// what it counted plus the reconciliation delta.
func TestCounterConservationEndToEnd(t *testing.T) {
	ctx := context.Background()
	u := mkUser("U")
	addModuleRule(u, "limit", make([]byte, 8), transport.Counter{Packets: 100, Bytes: 20000})
	input := mkBuiltin("INPUT", 2, blob.VerdictAccept)
	addJumpRule(input, u)

	info, data := buildSnapshot(t, input, u)
	m := transport.NewMemory()
	m.Seed("filter", info, data, entryCounters(t, data))

	h := initHandle(t, m)
	cached := chainByName(t, h, "U")
	pos := getRuleNum(cached, 0).counterPos
	m.SimulateKernelCount("filter", pos, 50, 10000)

	_, err := h.CreateChain("staging")
	require.NoError(t, err)
	require.NoError(t, h.Commit(ctx))

	// The replace reset the kernel slot to zero: transport.Memory ignores
	// the blob's embedded counters and models the post-replace kernel as
	// zero-counting, so the slot now holds exactly the add-counters delta.
	r := getRuleNum(chainByName(t, h, "U"), 0)
	got := m.Counters("filter")[r.counterPos]
	require.Equal(t, transport.Counter{Packets: 150, Bytes: 30000}, got)
}

func TestFreeDropsPendingChanges(t *testing.T) {
	h := initHandle(t, stockFilter(t))
	_, err := h.CreateChain("block")
	require.NoError(t, err)
	require.True(t, h.Changed())
	h.Free()
	require.False(t, h.Changed())
	require.False(t, h.IsChain("block"))
	_, ok := h.FirstChain()
	require.False(t, ok)
}
