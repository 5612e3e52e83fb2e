package table

import (
	"context"
	"testing"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/transport"
)

func newTestCache() *fastcache.Cache { return fastcache.New(1 << 20) }

// Test fixtures build a handle's chain list directly, compile it into a
// snapshot blob with the same compiler the module ships, and seed a
// transport.Memory with the result. Parsing that blob back is how every
// test obtains a realistic post-Init handle.

func mkBuiltin(name string, hook int, policy int32) *Chain {
	return &Chain{name: name, kind: ChainBuiltin, hookNum: hook, policyVerdict: policy}
}

func mkUser(name string) *Chain {
	return &Chain{name: name, kind: ChainUserDefined}
}

func addStandardRule(c *Chain, verdict int32, counters transport.Counter) *Rule {
	r := &Rule{kind: RuleStandard, verdict: verdict, counters: counters}
	linkRuleAt(c, r, c.numRules)
	return r
}

func addModuleRule(c *Chain, target string, payload []byte, counters transport.Counter) *Rule {
	r := &Rule{kind: RuleModule, targetName: target, targetPayload: payload, counters: counters}
	linkRuleAt(c, r, c.numRules)
	return r
}

func addJumpRule(c *Chain, target *Chain) *Rule {
	r := &Rule{kind: RuleJump, jumpTarget: target}
	linkRuleAt(c, r, c.numRules)
	target.refCount++
	return r
}

// buildSnapshot compiles the given chains (in the given order, built-ins
// first) into an info block and packed blob.
func buildSnapshot(t *testing.T, chains ...*Chain) (transport.Info, []byte) {
	t.Helper()
	h := New(nil, "filter", blob.FamilyIPv4)
	var validHooks uint32
	for _, c := range chains {
		if c.kind == ChainBuiltin {
			validHooks |= 1 << uint(c.hookNum-1)
			h.appendBuiltinChain(c)
			continue
		}
		// Preserve the caller-given order verbatim: a fixture may want to
		// model a kernel that reports user chains out of name order.
		c.prev = h.chainTail
		if h.chainTail != nil {
			h.chainTail.next = c
		} else {
			h.chainHead = c
		}
		h.chainTail = c
		if h.firstUserChain == nil {
			h.firstUserChain = c
		}
		h.numUserChains++
	}
	h.info.ValidHooks = validHooks
	repl := newCompiler(h).emit()
	info := transport.Info{
		ValidHooks: validHooks,
		HookEntry:  repl.HookEntry,
		Underflow:  repl.Underflow,
		NumEntries: repl.NumEntries,
		Size:       repl.Size,
	}
	return info, repl.Entries
}

// entryCounters walks the blob collecting each entry's embedded counters,
// in entry order, the shape the kernel's pre-replace read-back has.
func entryCounters(t *testing.T, data []byte) []transport.Counter {
	t.Helper()
	var out []transport.Counter
	var off uint32
	for off < uint32(len(data)) {
		e, err := blob.DecodeEntry(blob.FamilyIPv4, data, off)
		if err != nil {
			t.Fatalf("decode entry at %d: %v", off, err)
		}
		out = append(out, transport.Counter{Packets: e.Packets, Bytes: e.Bytes})
		off += e.NextOffset
	}
	return out
}

func seedMemory(t *testing.T, chains ...*Chain) *transport.Memory {
	t.Helper()
	info, data := buildSnapshot(t, chains...)
	m := transport.NewMemory()
	m.Seed("filter", info, data, entryCounters(t, data))
	return m
}

// stockFilter is a pristine filter table: INPUT (ACCEPT), FORWARD
// (DROP), OUTPUT (ACCEPT), no rules.
func stockFilter(t *testing.T) *transport.Memory {
	return seedMemory(t,
		mkBuiltin("INPUT", 2, blob.VerdictAccept),
		mkBuiltin("FORWARD", 3, blob.VerdictDrop),
		mkBuiltin("OUTPUT", 4, blob.VerdictAccept),
	)
}

func initHandle(t *testing.T, tp transport.Transport) *Handle {
	t.Helper()
	h := New(tp, "filter", blob.FamilyIPv4)
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return h
}

// recordingTransport wraps a Memory and records the traffic Commit
// generates, plus lets a test inject a SetReplace failure.
type recordingTransport struct {
	*transport.Memory

	getInfoCalls     int
	getEntriesCalls  int
	setReplaceCalls  int
	addCountersCalls int

	lastReplacement transport.Replacement
	lastUpdate      transport.CountersUpdate

	replaceErr error
}

func record(m *transport.Memory) *recordingTransport {
	return &recordingTransport{Memory: m}
}

func (r *recordingTransport) GetInfo(ctx context.Context, table string) (transport.Info, error) {
	r.getInfoCalls++
	return r.Memory.GetInfo(ctx, table)
}

func (r *recordingTransport) GetEntries(ctx context.Context, table string, expectedSize uint32) ([]byte, error) {
	r.getEntriesCalls++
	return r.Memory.GetEntries(ctx, table, expectedSize)
}

func (r *recordingTransport) SetReplace(ctx context.Context, repl transport.Replacement) ([]transport.Counter, error) {
	r.setReplaceCalls++
	if r.replaceErr != nil {
		return nil, r.replaceErr
	}
	r.lastReplacement = repl
	return r.Memory.SetReplace(ctx, repl)
}

func (r *recordingTransport) AddCounters(ctx context.Context, u transport.CountersUpdate) error {
	r.addCountersCalls++
	r.lastUpdate = u
	return r.Memory.AddCounters(ctx, u)
}

func chainByName(t *testing.T, h *Handle, name string) *Chain {
	t.Helper()
	c := h.findChainByLabel(name)
	if c == nil {
		t.Fatalf("no chain %q in handle", name)
	}
	return c
}

func zeroIP() []byte { return make([]byte, blob.FamilyIPv4.IPFieldsLen()) }
