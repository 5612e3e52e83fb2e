package table

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/transport"
	"github.com/ledgerwatch/xtc/xterr"
)

func TestParseStockFilter(t *testing.T) {
	h := initHandle(t, stockFilter(t))

	c, ok := h.FirstChain()
	require.True(t, ok)
	require.Equal(t, "INPUT", c.Name())
	require.True(t, c.IsBuiltin())
	require.Equal(t, 2, h.Builtin(c))

	c, ok = h.NextChain()
	require.True(t, ok)
	require.Equal(t, "FORWARD", c.Name())

	policy, counters, err := h.GetPolicy(c)
	require.NoError(t, err)
	require.Equal(t, "DROP", policy)
	require.Equal(t, transport.Counter{}, counters)

	c, ok = h.NextChain()
	require.True(t, ok)
	require.Equal(t, "OUTPUT", c.Name())
	require.Equal(t, 0, c.NumRules())

	_, ok = h.NextChain()
	require.False(t, ok)
}

func TestParseUserChainsAndJumps(t *testing.T) {
	input := mkBuiltin("INPUT", 2, blob.VerdictAccept)
	block := mkUser("block")
	addStandardRule(block, blob.VerdictDrop, transport.Counter{Packets: 7, Bytes: 900})
	addJumpRule(input, block)

	h := initHandle(t, seedMemory(t, input, block))

	b := chainByName(t, h, "block")
	require.Equal(t, ChainUserDefined, b.Kind())
	require.Equal(t, 1, b.References())
	require.Equal(t, 1, b.NumRules())

	in := chainByName(t, h, "INPUT")
	r, ok := h.FirstRule(in)
	require.True(t, ok)
	require.Equal(t, RuleJump, r.Kind())
	require.Same(t, b, r.JumpTarget())
	require.Equal(t, "block", h.GetTarget(r))

	dropRule, ok := h.FirstRule(b)
	require.True(t, ok)
	require.Equal(t, "DROP", h.GetTarget(dropRule))
	require.Equal(t, transport.Counter{Packets: 7, Bytes: 900}, dropRule.Counters())
}

// Compiling a freshly parsed cache reproduces the snapshot byte for byte
// (jump verdicts resolve to the same head offsets since the layout is
// unchanged).
func TestParseCompileRoundTrip(t *testing.T) {
	input := mkBuiltin("INPUT", 2, blob.VerdictAccept)
	forward := mkBuiltin("FORWARD", 3, blob.VerdictDrop)
	block := mkUser("block")
	logdrop := mkUser("logdrop")
	addModuleRule(block, "limit", make([]byte, 8), transport.Counter{Packets: 3, Bytes: 128})
	addStandardRule(block, blob.VerdictReturn, transport.Counter{})
	addJumpRule(input, block)
	addJumpRule(forward, logdrop)
	addStandardRule(logdrop, blob.VerdictDrop, transport.Counter{Packets: 11, Bytes: 2048})

	info, data := buildSnapshot(t, input, forward, block, logdrop)
	m := transport.NewMemory()
	m.Seed("filter", info, data, entryCounters(t, data))

	h := initHandle(t, m)
	repl := newCompiler(h).emit()

	require.Equal(t, info.Size, repl.Size)
	require.Equal(t, info.NumEntries, repl.NumEntries)
	require.True(t, bytes.Equal(data, repl.Entries), "compiled blob differs from parsed snapshot")
}

// Kernel snapshots can arrive with user chains out of name order after an
// upgrade; the parser splices them sorted and stops trusting offset order.
func TestParseUnsortedUserChains(t *testing.T) {
	input := mkBuiltin("INPUT", 2, blob.VerdictAccept)
	zebra := mkUser("zebra")
	alpha := mkUser("alpha")
	addJumpRule(input, alpha)
	// kernel order: zebra before alpha
	h := initHandle(t, seedMemory(t, input, zebra, alpha))

	// findChainByLabel must still see both, and the user-defined portion
	// of the chain list must be name-sorted.
	require.NotNil(t, h.findChainByLabel("alpha"))
	require.NotNil(t, h.findChainByLabel("zebra"))

	var userNames []string
	it := h.Chains()
	for c, ok := it.Next(); ok; c, ok = it.Next() {
		if !c.IsBuiltin() {
			userNames = append(userNames, c.Name())
		}
	}
	require.Equal(t, []string{"alpha", "zebra"}, userNames)

	// the spliced jump still resolved
	require.Equal(t, 1, chainByName(t, h, "alpha").References())
}

func TestParseRejectsBadStandardTargetSize(t *testing.T) {
	info, data := buildSnapshot(t, mkBuiltin("INPUT", 2, blob.VerdictAccept))

	// Corrupt the first entry's standard target size field in place.
	e, err := blob.DecodeEntry(blob.FamilyIPv4, data, 0)
	require.NoError(t, err)
	binary.LittleEndian.PutUint16(data[e.TargetOffset:], uint16(blob.StandardTargetSize+8))

	m := transport.NewMemory()
	m.Seed("filter", info, data, entryCounters(t, data))

	h := New(m, "filter", blob.FamilyIPv4)
	err = h.Init(context.Background())
	require.Error(t, err)
	require.True(t, xterr.HasKind(err, xterr.KindInvalidRule))
}

func TestInitRetriesOnSnapshotChange(t *testing.T) {
	m := stockFilter(t)
	flaky := &flakyTransport{Memory: m, failures: 1}
	h := New(flaky, "filter", blob.FamilyIPv4)
	require.NoError(t, h.Init(context.Background()))
	require.Equal(t, 2, flaky.attempts)
}

func TestInitGivesUpAfterRetries(t *testing.T) {
	m := stockFilter(t)
	flaky := &flakyTransport{Memory: m, failures: 99}
	h := New(flaky, "filter", blob.FamilyIPv4, WithMaxSnapshotRetries(2))
	err := h.Init(context.Background())
	require.Error(t, err)
	require.True(t, xterr.HasKind(err, xterr.KindSnapshotChanged))
	require.Equal(t, 2, flaky.attempts)
}

func TestInitMapsGetInfoFailures(t *testing.T) {
	ctx := context.Background()

	// a table the transport has never heard of
	h := New(transport.NewMemory(), "mangle", blob.FamilyIPv4)
	err := h.Init(ctx)
	require.Error(t, err)
	require.True(t, xterr.HasKind(err, xterr.KindNoSuchTable))

	for _, tc := range []struct {
		infoErr error
		kind    xterr.Kind
	}{
		{transport.ErrPermission, xterr.KindPermission},
		{transport.ErrVersionMismatch, xterr.KindVersionMismatch},
	} {
		h := New(&failingInfoTransport{err: tc.infoErr}, "filter", blob.FamilyIPv4)
		err := h.Init(ctx)
		require.Error(t, err)
		require.True(t, xterr.HasKind(err, tc.kind), "getinfo error %v should map to %v", tc.infoErr, tc.kind)
	}
}

type failingInfoTransport struct {
	transport.Transport
	err error
}

func (f *failingInfoTransport) GetInfo(context.Context, string) (transport.Info, error) {
	return transport.Info{}, f.err
}

type flakyTransport struct {
	*transport.Memory
	failures int
	attempts int
}

func (f *flakyTransport) GetEntries(ctx context.Context, table string, expectedSize uint32) ([]byte, error) {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return nil, transport.ErrSnapshotChanged
	}
	return f.Memory.GetEntries(ctx, table, expectedSize)
}
