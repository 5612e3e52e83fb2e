package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedTestTable(m *Memory) Info {
	info := Info{
		ValidHooks: 0b100,
		HookEntry:  []uint32{0, 0, 0, 0, 0},
		Underflow:  []uint32{0, 0, 0, 0, 0},
		NumEntries: 2,
		Size:       16,
	}
	m.Seed("filter", info, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, []Counter{{Packets: 1, Bytes: 10}, {Packets: 2, Bytes: 20}})
	return info
}

func TestMemoryGetInfoAndEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	info := seedTestTable(m)

	got, err := m.GetInfo(ctx, "filter")
	require.NoError(t, err)
	require.Equal(t, info, got)

	_, err = m.GetInfo(ctx, "mangle")
	require.True(t, errors.Is(err, ErrNoSuchTable))

	data, err := m.GetEntries(ctx, "filter", info.Size)
	require.NoError(t, err)
	require.Len(t, data, 16)

	_, err = m.GetEntries(ctx, "filter", info.Size+8)
	require.True(t, errors.Is(err, ErrSnapshotChanged))
}

func TestMemoryReplaceReturnsOldCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedTestTable(m)
	m.SimulateKernelCount("filter", 0, 5, 50)

	old, err := m.SetReplace(ctx, Replacement{
		Name:        "filter",
		NumEntries:  3,
		Size:        24,
		NumCounters: 2,
		Entries:     make([]byte, 24),
	})
	require.NoError(t, err)
	require.Equal(t, []Counter{{Packets: 6, Bytes: 60}, {Packets: 2, Bytes: 20}}, old)

	// the replaced table starts counting from zero
	require.Equal(t, []Counter{{}, {}, {}}, m.Counters("filter"))

	require.NoError(t, m.AddCounters(ctx, CountersUpdate{
		Name:        "filter",
		NumCounters: 3,
		Counters:    []Counter{{Packets: 6, Bytes: 60}, {}, {Packets: 1, Bytes: 1}},
	}))
	require.Equal(t, []Counter{{Packets: 6, Bytes: 60}, {}, {Packets: 1, Bytes: 1}}, m.Counters("filter"))
}

func TestMemorySeedCopiesInputs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	entries := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	m.Seed("filter", Info{Size: 8, NumEntries: 1}, entries, []Counter{{}})
	entries[0] = 99

	data, err := m.GetEntries(ctx, "filter", 8)
	require.NoError(t, err)
	require.Equal(t, byte(1), data[0])

	// and the returned slice is a copy too
	data[1] = 99
	again, err := m.GetEntries(ctx, "filter", 8)
	require.NoError(t, err)
	require.Equal(t, byte(2), again[1])
}
