package table

import (
	"github.com/c2h5oh/datasize"

	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/transport"
)

// compiler converts the cache back into a kernel-ready replacement blob
// in two passes. Pass 1 (layout) assigns every chain and rule a new
// offset; pass 2 (emit) serializes bytes using blob.EncodeEntry, the
// same choke point the parser's decoder round-trips against.
type compiler struct {
	h     *Handle
	fam   blob.Family
	order []counterTarget
}

func newCompiler(h *Handle) *compiler { return &compiler{h: h, fam: h.family} }

// errorPayload lays name out in the fixed-width buffer an ERROR target
// carries, NUL-padded.
func errorPayload(name string) []byte {
	p := make([]byte, blob.ErrorPayloadLen)
	copy(p, name)
	return p
}

type compiledLayout struct {
	size       uint32
	numEntries uint32
}

// counterTarget names which cache object (if any) owns the counter slot
// at a given position in the new blob's add-counters vector; both fields
// nil means the slot belongs to a header or the terminal entry, which
// never carry meaningful counters.
type counterTarget struct {
	rule  *Rule
	chain *Chain
}

func (co *compiler) ruleSize(r *Rule) uint32 {
	hdrLen := co.fam.HeaderLen()
	targetRecLen := blob.Align(blob.StandardTargetSize)
	if r.kind == RuleModule {
		targetRecLen = blob.Align(blob.RecordHeaderLen + len(r.targetPayload))
	}
	return uint32(blob.Align(hdrLen + len(r.matchBytes) + targetRecLen))
}

// headerSize is the fixed size of a user-defined chain's ERROR-target
// header entry; the name rides in a fixed-width payload buffer, so the
// size never varies with the name's length.
func (co *compiler) headerSize() uint32 {
	return uint32(blob.Align(co.fam.HeaderLen() + blob.Align(blob.RecordHeaderLen+blob.ErrorPayloadLen)))
}

func (co *compiler) footerSize() uint32 {
	return uint32(blob.Align(co.fam.HeaderLen() + blob.Align(blob.StandardTargetSize)))
}

func (co *compiler) finalSize() uint32 {
	return co.headerSize()
}

// layout walks the chain list in order, reserving a header for every
// user-defined chain, the rule bytes, and a footer for every chain, then
// the one terminal ERROR entry. It leaves every Chain's headOffset/
// footOffset and every Rule's offset/size/index set for emit.
func (co *compiler) layout() compiledLayout {
	var offset uint32
	var numEntries uint32
	co.order = co.order[:0]
	for c := co.h.chainHead; c != nil; c = c.next {
		if c.kind == ChainUserDefined {
			offset += co.headerSize()
			numEntries++
			co.order = append(co.order, counterTarget{})
		}
		// headOffset is the chain's landing offset: its first real
		// rule, or its footer when it has none. A JUMP verdict
		// targeting this chain resolves directly to this value.
		c.headOffset = offset
		c.headOffsetValid = true

		i := 0
		for r := c.ruleHead; r != nil; r = r.next {
			r.offset = offset
			r.size = co.ruleSize(r)
			r.index = i
			offset += r.size
			numEntries++
			i++
			co.order = append(co.order, counterTarget{rule: r})
		}
		c.footOffset = offset
		offset += co.footerSize()
		numEntries++
		co.order = append(co.order, counterTarget{chain: c})
	}
	offset += co.finalSize()
	numEntries++
	co.order = append(co.order, counterTarget{})
	return compiledLayout{size: offset, numEntries: numEntries}
}

func (co *compiler) emitRule(r *Rule) blob.Entry {
	e := blob.Entry{
		Offset:     r.offset,
		NextOffset: r.size,
		IPFields:   r.ipFields,
		MatchBytes: r.matchBytes,
		TargetRev:  r.targetRevision,
		Packets:    r.counters.Packets,
		Bytes:      r.counters.Bytes,
	}
	switch r.kind {
	case RuleJump:
		e.Verdict = int32(r.jumpTarget.headOffset)
	case RuleFallThrough:
		e.Verdict = int32(r.offset + r.size)
	case RuleStandard:
		e.Verdict = r.verdict
	default: // RuleModule
		e.TargetName = r.targetName
		e.TargetPayload = r.targetPayload
	}
	return e
}

// emit runs layout then pass 2, producing a complete transport.Replacement.
func (co *compiler) emit() transport.Replacement {
	h := co.h
	layout := co.layout()
	buf := make([]byte, layout.size)
	ipLen := co.fam.IPFieldsLen()

	var hookEntry [NumHooks]uint32
	var underflow [NumHooks]uint32

	for c := h.chainHead; c != nil; c = c.next {
		if c.kind == ChainUserDefined {
			size := co.headerSize()
			hdr := blob.Entry{
				Offset:        c.headOffset - size,
				NextOffset:    size,
				IPFields:      make([]byte, ipLen),
				TargetName:    blob.ErrorTargetName,
				TargetPayload: errorPayload(c.name),
			}
			copy(buf[hdr.Offset:hdr.Offset+hdr.NextOffset], blob.EncodeEntry(co.fam, hdr))
		} else if c.hookNum >= 1 && c.hookNum <= NumHooks {
			hookEntry[c.hookNum-1] = c.headOffset
			underflow[c.hookNum-1] = c.footOffset
		}

		for r := c.ruleHead; r != nil; r = r.next {
			e := co.emitRule(r)
			copy(buf[r.offset:r.offset+r.size], blob.EncodeEntry(co.fam, e))
		}

		footVerdict := int32(blob.VerdictReturn)
		if c.kind == ChainBuiltin {
			footVerdict = c.policyVerdict
		}
		footSize := co.footerSize()
		foot := blob.Entry{
			Offset:     c.footOffset,
			NextOffset: footSize,
			IPFields:   make([]byte, ipLen),
			Verdict:    footVerdict,
			Packets:    c.counters.Packets,
			Bytes:      c.counters.Bytes,
		}
		copy(buf[c.footOffset:c.footOffset+footSize], blob.EncodeEntry(co.fam, foot))
	}

	finalSize := co.finalSize()
	finalOffset := layout.size - finalSize
	final := blob.Entry{
		Offset:        finalOffset,
		NextOffset:    finalSize,
		IPFields:      make([]byte, ipLen),
		TargetName:    blob.ErrorTargetName,
		TargetPayload: errorPayload(blob.ErrorTargetName),
	}
	copy(buf[finalOffset:finalOffset+finalSize], blob.EncodeEntry(co.fam, final))

	h.logger.Debug("compiled replacement", "size", datasize.ByteSize(layout.size), "entries", layout.numEntries)
	if h.sizeWarn > 0 && datasize.ByteSize(layout.size) > h.sizeWarn {
		h.logger.Warn("replacement blob exceeds soft size ceiling", "size", datasize.ByteSize(layout.size), "ceiling", h.sizeWarn)
	}

	return transport.Replacement{
		Name:        h.name,
		ValidHooks:  h.info.ValidHooks,
		HookEntry:   hookEntry[:],
		Underflow:   underflow[:],
		NumEntries:  layout.numEntries,
		Size:        layout.size,
		NumCounters: h.info.NumEntries,
		Entries:     buf,
	}
}
