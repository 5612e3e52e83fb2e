package transport

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Transport double: tests and offline replay
// tooling build a Memory, seed it with a blob, and drive
// table.Init/Commit against it without a real kernel.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*memTable
}

type memTable struct {
	info     Info
	entries  []byte
	counters []Counter // one per entry, as of the last Seed/SetReplace plus any simulated or added counts
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

// Seed installs a table's initial info+blob, as if a kernel already held
// it. counters must have length info.NumEntries and holds the kernel's
// own packet/byte counts for each existing rule, in blob order.
func (m *Memory) Seed(table string, info Info, entries []byte, counters []Counter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(entries))
	copy(cp, entries)
	cc := make([]Counter, len(counters))
	copy(cc, counters)
	m.tables[table] = &memTable{info: info, entries: cp, counters: cc}
}

func (m *Memory) GetInfo(_ context.Context, table string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return Info{}, fmt.Errorf("transport: table %q: %w", table, ErrNoSuchTable)
	}
	return t.info, nil
}

func (m *Memory) GetEntries(_ context.Context, table string, expectedSize uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("transport: no such table %q", table)
	}
	if t.info.Size != expectedSize {
		return nil, ErrSnapshotChanged
	}
	cp := make([]byte, len(t.entries))
	copy(cp, t.entries)
	return cp, nil
}

// SimulateKernelCount lets a test pretend the kernel counted additional
// traffic against a rule between GetEntries and SetReplace.
func (m *Memory) SimulateKernelCount(table string, ruleIdx int, packets, bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok || ruleIdx >= len(t.counters) {
		return
	}
	t.counters[ruleIdx].Packets += packets
	t.counters[ruleIdx].Bytes += bytes
}

func (m *Memory) SetReplace(_ context.Context, r Replacement) ([]Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[r.Name]
	if !ok {
		t = &memTable{}
		m.tables[r.Name] = t
	}
	old := t.counters

	cp := make([]byte, len(r.Entries))
	copy(cp, r.Entries)
	t.entries = cp
	t.info = Info{
		ValidHooks: r.ValidHooks,
		HookEntry:  append([]uint32(nil), r.HookEntry...),
		Underflow:  append([]uint32(nil), r.Underflow...),
		NumEntries: r.NumEntries,
		Size:       r.Size,
	}
	t.counters = make([]Counter, r.NumEntries)

	out := make([]Counter, r.NumCounters)
	copy(out, old)
	return out, nil
}

func (m *Memory) AddCounters(_ context.Context, u CountersUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[u.Name]
	if !ok {
		return fmt.Errorf("transport: no such table %q", u.Name)
	}
	for i, c := range u.Counters {
		if i >= len(t.counters) {
			break
		}
		t.counters[i].Packets += c.Packets
		t.counters[i].Bytes += c.Bytes
	}
	return nil
}

// Counters returns a copy of table's current per-rule counters, for test
// assertions.
func (m *Memory) Counters(table string) []Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	out := make([]Counter, len(t.counters))
	copy(out, t.counters)
	return out
}
