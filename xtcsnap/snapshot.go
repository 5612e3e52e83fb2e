// Package xtcsnap persists a captured table's raw kernel blob plus its
// info header to a local bolt file, and reloads it. It exists for
// offline replay of a captured ruleset against table.Handle without a
// live transport: one bucket, keyed by table name.
package xtcsnap

import (
	"encoding/binary"
	"fmt"

	bolt "github.com/ledgerwatch/bolt"

	"github.com/ledgerwatch/xtc/transport"
)

var snapshotBucket = []byte("xtc-snapshots")

// RawSnapshot is everything table.Handle.Init needs to replay a captured
// table without talking to a transport: the info header and the raw
// blob GetEntries would have returned.
type RawSnapshot struct {
	Info    transport.Info
	Entries []byte
}

// DumpSnapshot writes info and entries for table into the bolt file at
// path, creating it if necessary.
func DumpSnapshot(path, table string, info transport.Info, entries []byte) error {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return fmt.Errorf("xtcsnap: open %s: %w", path, err)
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(snapshotBucket)
		if err != nil {
			return fmt.Errorf("xtcsnap: create bucket: %w", err)
		}
		return b.Put([]byte(table), encode(info, entries))
	})
}

// LoadSnapshot reads back what DumpSnapshot wrote for table.
func LoadSnapshot(path, table string) (RawSnapshot, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return RawSnapshot{}, fmt.Errorf("xtcsnap: open %s: %w", path, err)
	}
	defer db.Close()

	var snap RawSnapshot
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if b == nil {
			return fmt.Errorf("xtcsnap: %s has no snapshots", path)
		}
		raw := b.Get([]byte(table))
		if raw == nil {
			return fmt.Errorf("xtcsnap: no snapshot for table %q", table)
		}
		var decErr error
		snap, decErr = decode(raw)
		return decErr
	})
	return snap, err
}

// encode lays out info's fixed fields followed by the raw entries,
// length-prefixed so decode never has to guess a hook-array length.
func encode(info transport.Info, entries []byte) []byte {
	nHooks := len(info.HookEntry)
	buf := make([]byte, 4+4+4*nHooks+4+4*nHooks+4+4+4+len(entries))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], info.ValidHooks)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(nHooks))
	off += 4
	for _, v := range info.HookEntry {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	for _, v := range info.Underflow {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], info.NumEntries)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], info.Size)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(entries)))
	off += 4
	copy(buf[off:], entries)
	return buf
}

// Replay loads the snapshot stored for table at path into a fresh
// transport.Memory, seeded with zero counters for every existing rule.
// That is enough for table.Handle.Init to parse it, though Commit
// against the result won't reproduce real kernel counter deltas.
func Replay(path, table string) (*transport.Memory, error) {
	snap, err := LoadSnapshot(path, table)
	if err != nil {
		return nil, err
	}
	m := transport.NewMemory()
	m.Seed(table, snap.Info, snap.Entries, make([]transport.Counter, snap.Info.NumEntries))
	return m, nil
}

func decode(raw []byte) (RawSnapshot, error) {
	if len(raw) < 8 {
		return RawSnapshot{}, fmt.Errorf("xtcsnap: truncated snapshot record")
	}
	off := 0
	info := transport.Info{}
	info.ValidHooks = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	nHooks := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	if len(raw) < off+4*nHooks*2+12 {
		return RawSnapshot{}, fmt.Errorf("xtcsnap: truncated snapshot record")
	}
	info.HookEntry = make([]uint32, nHooks)
	for i := range info.HookEntry {
		info.HookEntry[i] = binary.LittleEndian.Uint32(raw[off:])
		off += 4
	}
	info.Underflow = make([]uint32, nHooks)
	for i := range info.Underflow {
		info.Underflow[i] = binary.LittleEndian.Uint32(raw[off:])
		off += 4
	}
	info.NumEntries = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	info.Size = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	entriesLen := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	if len(raw) < off+entriesLen {
		return RawSnapshot{}, fmt.Errorf("xtcsnap: truncated entries")
	}
	entries := make([]byte, entriesLen)
	copy(entries, raw[off:off+entriesLen])
	return RawSnapshot{Info: info, Entries: entries}, nil
}
