// Package blob implements the arithmetic on the packed byte array
// exchanged with the kernel: offset/index conversions, hook-entry
// recognition, and iteration over the variable-length entry records.
// It never interprets match or target payload bytes beyond their
// declared size and name; that stays the extension-loading mechanism's
// job, which this module treats as an external collaborator.
package blob

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// XTAlign is the kernel's own alignment requirement for every entry and
// embedded record.
const XTAlign = 8

// Align rounds n up to the next multiple of XTAlign.
func Align(n int) int {
	return (n + XTAlign - 1) &^ (XTAlign - 1)
}

// MaxNameLen is the declared size of a match/target record's name field
// (XT_FUNCTION_MAXNAMELEN in the real kernel ABI).
const MaxNameLen = 29

// ChainNameMax is the maximum length of a chain name, one byte shorter
// than MaxNameLen to leave room for the trailing NUL the kernel expects
// when a chain name is carried inside an ERROR target's payload.
const ChainNameMax = MaxNameLen - 1

// RecordHeaderLen is the fixed portion of every match/target record:
// u16 size + name[MaxNameLen] + u8 revision.
const RecordHeaderLen = 2 + MaxNameLen + 1

// ErrorPayloadLen is the fixed payload size of an ERROR target record:
// a chain-name buffer of ChainNameMax bytes plus its trailing NUL pair.
// Chain headers and the terminal sentinel always carry exactly this much
// payload, so a chain header's entry size never depends on the name's
// length.
const ErrorPayloadLen = ChainNameMax + 2

// StandardPayloadLen is the payload size of a standard (anonymous)
// target record after alignment: the 4-byte verdict plus pad.
const StandardPayloadLen = (RecordHeaderLen+4+XTAlign-1)&^(XTAlign-1) - RecordHeaderLen

// StandardTargetSize is the declared size of a standard target record,
// the value the parser insists on for every standard-target entry.
const StandardTargetSize = RecordHeaderLen + StandardPayloadLen

// Family selects which protocol-specific fixed header this blob uses.
// Only the header length changes between families; every algorithm in
// this module is family-agnostic.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// IPFieldsLen returns the length, in bytes, of the protocol-specific
// match fields embedded at the front of every entry (addresses, masks,
// interface names, protocol, flags) ahead of the counters and offsets.
func (f Family) IPFieldsLen() int {
	switch f {
	case FamilyIPv6:
		return 136
	default:
		return 84
	}
}

// HeaderLen is IPFieldsLen plus the 16-byte counters pair and the two
// u32 offsets (target_offset, next_offset).
func (f Family) HeaderLen() int {
	return f.IPFieldsLen() + 16 + 4 + 4
}

// Standard verdicts: negative sentinels for terminal actions, RETURN as
// a distinguished negative sentinel, JUMP/FALL-THROUGH as non-negative
// byte offsets.
const (
	nfAccept = 0
	nfDrop   = 1
	nfQueue  = 3
	nfRepeat = 4

	VerdictAccept = -(nfAccept + 1)
	VerdictDrop   = -(nfDrop + 1)
	VerdictQueue  = -(nfQueue + 1)
	VerdictReturn = -(nfRepeat + 1)
)

// ErrorTargetName is the literal target name of an ERROR pseudo-target:
// either the final sentinel entry, or a user-defined chain header.
const ErrorTargetName = "ERROR"

// Entry is a decoded view over one record in the blob. MatchBytes and
// the target payload stay opaque byte slices.
type Entry struct {
	Offset        uint32 // byte offset of this entry's start within the blob
	NextOffset    uint32
	TargetOffset  uint32
	Packets       uint64
	Bytes         uint64
	IPFields      []byte // raw protocol-specific header fields, compared byte-equal by delete_entry
	MatchBytes    []byte // raw, opaque match-list bytes
	TargetSize    uint16
	TargetName    string // NUL-trimmed
	TargetRev     uint8
	TargetPayload []byte
	Verdict       int32 // only meaningful when TargetName == ""
}

// IsStandard reports whether this entry's target is the kernel's
// anonymous "standard" target (empty name; verdict carries the meaning).
func (e Entry) IsStandard() bool { return e.TargetName == "" }

// EncodeEntry serializes e back into its raw byte form at the given
// family's header length. It is the single choke point both the parser's
// round-trip tests and the compiler use to emit bytes, so they can never
// drift apart on layout.
func EncodeEntry(fam Family, e Entry) []byte {
	hdrLen := fam.HeaderLen()
	ipLen := fam.IPFieldsLen()
	payloadLen := len(e.TargetPayload)
	if e.IsStandard() {
		payloadLen = StandardPayloadLen
	}
	targetRecLen := Align(RecordHeaderLen + payloadLen)
	total := Align(hdrLen + len(e.MatchBytes) + targetRecLen)

	buf := make([]byte, total)
	ip := e.IPFields
	if len(ip) != ipLen {
		ip = make([]byte, ipLen)
		copy(ip, e.IPFields)
	}
	copy(buf[0:ipLen], ip)
	binary.LittleEndian.PutUint64(buf[ipLen:ipLen+8], e.Packets)
	binary.LittleEndian.PutUint64(buf[ipLen+8:ipLen+16], e.Bytes)
	targetOffset := uint32(hdrLen + len(e.MatchBytes))
	binary.LittleEndian.PutUint32(buf[ipLen+16:ipLen+20], targetOffset)
	binary.LittleEndian.PutUint32(buf[ipLen+20:ipLen+24], uint32(total))

	copy(buf[hdrLen:hdrLen+len(e.MatchBytes)], e.MatchBytes)

	t := buf[targetOffset:]
	binary.LittleEndian.PutUint16(t[0:2], uint16(RecordHeaderLen+payloadLen))
	var name [MaxNameLen]byte
	copy(name[:], e.TargetName)
	copy(t[2:2+MaxNameLen], name[:])
	t[2+MaxNameLen] = e.TargetRev
	payload := t[RecordHeaderLen:]
	if e.IsStandard() {
		binary.LittleEndian.PutUint32(payload[0:4], uint32(int32(e.Verdict)))
	} else {
		copy(payload, e.TargetPayload)
	}
	return buf
}

// DecodeEntry decodes one entry starting at offset within blob. It
// returns an error if the entry's declared sizes would read past the
// end of blob, if next_offset is not a multiple of XTAlign, or if
// target_offset falls outside the entry.
// Such corruption is rejected, never recovered from.
func DecodeEntry(fam Family, data []byte, offset uint32) (Entry, error) {
	hdrLen := fam.HeaderLen()
	ipLen := fam.IPFieldsLen()
	if int(offset)+hdrLen > len(data) {
		return Entry{}, fmt.Errorf("blob: entry header at offset %d exceeds blob of length %d", offset, len(data))
	}
	raw := data[offset:]
	ip := make([]byte, ipLen)
	copy(ip, raw[:ipLen])
	packets := binary.LittleEndian.Uint64(raw[ipLen : ipLen+8])
	nbytes := binary.LittleEndian.Uint64(raw[ipLen+8 : ipLen+16])
	targetOffset := binary.LittleEndian.Uint32(raw[ipLen+16 : ipLen+20])
	nextOffset := binary.LittleEndian.Uint32(raw[ipLen+20 : ipLen+24])

	if nextOffset%XTAlign != 0 {
		return Entry{}, fmt.Errorf("blob: entry at offset %d has misaligned next_offset %d", offset, nextOffset)
	}
	if int(offset)+int(nextOffset) > len(data) {
		return Entry{}, fmt.Errorf("blob: entry at offset %d extends past end of blob", offset)
	}
	if targetOffset < uint32(hdrLen) || targetOffset > nextOffset {
		return Entry{}, fmt.Errorf("blob: entry at offset %d has out-of-range target_offset %d", offset, targetOffset)
	}

	matchBytes := make([]byte, targetOffset-uint32(hdrLen))
	copy(matchBytes, raw[hdrLen:targetOffset])

	if int(targetOffset)+RecordHeaderLen > len(raw) {
		return Entry{}, fmt.Errorf("blob: entry at offset %d has truncated target record", offset)
	}
	t := raw[targetOffset:]
	size := binary.LittleEndian.Uint16(t[0:2])
	var nameBuf [MaxNameLen]byte
	copy(nameBuf[:], t[2:2+MaxNameLen])
	name := cStr(nameBuf[:])
	rev := t[2+MaxNameLen]

	if int(size) < RecordHeaderLen {
		return Entry{}, fmt.Errorf("blob: entry at offset %d has target record size %d smaller than header", offset, size)
	}
	payloadLen := int(size) - RecordHeaderLen
	if int(targetOffset)+RecordHeaderLen+payloadLen > len(raw) {
		return Entry{}, fmt.Errorf("blob: entry at offset %d target payload exceeds blob", offset)
	}
	payload := make([]byte, payloadLen)
	copy(payload, t[RecordHeaderLen:RecordHeaderLen+payloadLen])

	e := Entry{
		Offset:        offset,
		NextOffset:    nextOffset,
		TargetOffset:  targetOffset,
		Packets:       packets,
		Bytes:         nbytes,
		IPFields:      ip,
		MatchBytes:    matchBytes,
		TargetSize:    size,
		TargetName:    name,
		TargetRev:     rev,
		TargetPayload: payload,
	}
	if name == "" {
		if payloadLen < 4 {
			return Entry{}, fmt.Errorf("blob: entry at offset %d has standard target payload of size %d, want at least 4", offset, payloadLen)
		}
		e.Verdict = int32(binary.LittleEndian.Uint32(payload))
	}
	return e, nil
}

func cStr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// HookOffsets is a small wrapper around a roaring bitmap of the byte
// offsets listed in the kernel's info block as valid hook entries,
// giving "is this entry a hook start" O(1) membership instead of a
// linear scan of HookEntry on every decoded record.
type HookOffsets struct {
	bm *roaring.Bitmap
}

// NewHookOffsets builds the bitmap from the valid-hook bitmask and the
// per-hook entry offsets returned by GetInfo.
func NewHookOffsets(validHooks uint32, hookEntry []uint32) HookOffsets {
	bm := roaring.New()
	for h := 0; h < len(hookEntry); h++ {
		if validHooks&(1<<uint(h)) != 0 {
			bm.Add(hookEntry[h])
		}
	}
	return HookOffsets{bm: bm}
}

// IsHookStart reports whether offset is the byte offset of a built-in
// chain's first entry.
func (h HookOffsets) IsHookStart(offset uint32) bool {
	if h.bm == nil {
		return false
	}
	return h.bm.Contains(offset)
}

// OffsetToIndex walks the blob from its start counting entries. It is
// O(N) and meant for diagnostics, never the hot path.
func OffsetToIndex(fam Family, data []byte, target uint32) (int, error) {
	var idx int
	var off uint32
	for off < uint32(len(data)) {
		if off == target {
			return idx, nil
		}
		e, err := DecodeEntry(fam, data, off)
		if err != nil {
			return 0, err
		}
		off += e.NextOffset
		idx++
	}
	return 0, fmt.Errorf("blob: offset %d does not land on any entry boundary", target)
}
