package table

import (
	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/chainindex"
	"github.com/ledgerwatch/xtc/transport"
	"github.com/ledgerwatch/xtc/xtcmetrics"
	"github.com/ledgerwatch/xtc/xterr"
)

// findChainByLabel checks built-ins linearly first (there are only a
// handful), then uses the chain index to narrow the user-defined scan to
// at most K linear steps.
func (h *Handle) findChainByLabel(name string) *Chain {
	for c := h.chainHead; c != nil && c.kind == ChainBuiltin; c = c.next {
		if c.name == name {
			xtcmetrics.LookupTotal.WithLabelValues("builtin").Inc()
			return c
		}
	}
	if h.firstUserChain == nil {
		return nil
	}
	ref := h.index.LookupByName(name)
	xtcmetrics.LookupTotal.WithLabelValues("index").Inc()
	var cur *Chain
	if ref != nil {
		cur = ref.(*Chain)
	} else {
		cur = h.firstUserChain
	}
	for c := cur; c != nil; c = c.next {
		if c.name == name {
			return c
		}
		if c.name > name {
			break
		}
	}
	return nil
}

// findChainByOffset implements the offset variant of find_chain_by_label,
// using the index only while sortedOffsets holds.
func (h *Handle) findChainByOffset(offset uint32) *Chain {
	for c := h.chainHead; c != nil && c.kind == ChainBuiltin; c = c.next {
		if c.headOffsetValid && c.headOffset == offset {
			return c
		}
	}
	var first chainindex.ChainRef
	if h.firstUserChain != nil {
		first = h.firstUserChain
	}
	ref := h.index.LookupByOffset(offset, first)
	var cur *Chain
	if ref != nil {
		cur = ref.(*Chain)
	}
	for c := cur; c != nil; c = c.next {
		if c.headOffsetValid && c.headOffset == offset {
			return c
		}
	}
	return nil
}

// chainExists is the membership check CreateChain and RenameChain gate
// on: built-ins are checked linearly (there are only a handful), user
// chains through the index's name tree, so the answer never needs a
// bucket scan of the chain list.
func (h *Handle) chainExists(name string) bool {
	for c := h.chainHead; c != nil && c.kind == ChainBuiltin; c = c.next {
		if c.name == name {
			return true
		}
	}
	return h.index.HasName(name)
}

// IsChain reports whether name currently resolves to a chain, consulting
// the optional fastcache memo before falling back to the real lookup.
func (h *Handle) IsChain(name string) bool {
	if h.lookupCache != nil {
		if v, ok := h.lookupCache.HasGet(nil, []byte(name)); ok {
			xtcmetrics.LookupTotal.WithLabelValues("cache").Inc()
			return len(v) == 1 && v[0] == 1
		}
	}
	found := h.findChainByLabel(name) != nil
	if h.lookupCache != nil {
		if found {
			h.lookupCache.Set([]byte(name), []byte{1})
		} else {
			h.lookupCache.Set([]byte(name), []byte{0})
		}
	}
	return found
}

// Builtin returns c's 1-based hook number, or 0 if c is user-defined.
func (h *Handle) Builtin(c *Chain) int { return c.hookNum }

func verdictLabel(v int32) string {
	switch v {
	case blob.VerdictAccept:
		return LabelAccept
	case blob.VerdictDrop:
		return LabelDrop
	case blob.VerdictQueue:
		return LabelQueue
	case blob.VerdictReturn:
		return LabelReturn
	default:
		return ""
	}
}

// GetTarget implements get_target: the literal target label describing
// r's action.
func (h *Handle) GetTarget(r *Rule) string {
	switch r.kind {
	case RuleFallThrough:
		return ""
	case RuleJump:
		return r.jumpTarget.name
	case RuleStandard:
		return verdictLabel(r.verdict)
	default:
		return r.targetName
	}
}

// GetPolicy returns a built-in chain's policy label and counters.
func (h *Handle) GetPolicy(c *Chain) (string, transport.Counter, error) {
	if c.kind != ChainBuiltin {
		return "", transport.Counter{}, xterr.New(xterr.OpGetPolicy, xterr.KindBuiltinChain)
	}
	return verdictLabel(c.policyVerdict), c.counters, nil
}

// GetReferences returns c's current JUMP reference count.
func (h *Handle) GetReferences(c *Chain) int { return c.refCount }
