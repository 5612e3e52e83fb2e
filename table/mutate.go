package table

import (
	"bytes"

	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/transport"
	"github.com/ledgerwatch/xtc/xterr"
)

// All mutators are cache-local: they never talk to the transport, and
// every one that succeeds marks the handle changed.

// CreateChain allocates a new, empty user-defined chain and sort-inserts
// it into the chain list and index.
func (h *Handle) CreateChain(name string) (*Chain, error) {
	if len(name) > blob.ChainNameMax {
		return nil, xterr.New(xterr.OpCreateChain, xterr.KindNameTooLong)
	}
	if isReservedLabel(name) {
		return nil, xterr.New(xterr.OpCreateChain, xterr.KindReservedLabel)
	}
	if h.chainExists(name) {
		return nil, xterr.New(xterr.OpCreateChain, xterr.KindChainExists)
	}
	c := &Chain{name: name, kind: ChainUserDefined, counterTag: MapNoMap}
	h.insertChainSorted(c)
	h.invalidateLookupCache()
	h.markChanged()
	return c, nil
}

// RenameChain re-splices a user-defined chain under a new name, preserving
// its rules and reference count.
func (h *Handle) RenameChain(oldName, newName string) error {
	c := h.findChainByLabel(oldName)
	if c == nil {
		return xterr.New(xterr.OpRenameChain, xterr.KindNoSuchChain)
	}
	if c.kind != ChainUserDefined {
		return xterr.New(xterr.OpRenameChain, xterr.KindBuiltinChain)
	}
	if isReservedLabel(newName) {
		return xterr.New(xterr.OpRenameChain, xterr.KindReservedLabel)
	}
	if len(newName) > blob.ChainNameMax {
		return xterr.New(xterr.OpRenameChain, xterr.KindNameTooLong)
	}
	if h.chainExists(newName) {
		return xterr.New(xterr.OpRenameChain, xterr.KindChainExists)
	}
	if err := h.unlinkChainFromList(c); err != nil {
		return xterr.Wrap(xterr.OpRenameChain, xterr.KindOutOfMemory, err)
	}
	c.name = newName
	h.insertChainSorted(c)
	h.invalidateLookupCache()
	h.markChanged()
	return nil
}

// DeleteChain removes an empty, unreferenced, user-defined chain.
func (h *Handle) DeleteChain(c *Chain) error {
	if c.kind == ChainBuiltin {
		return xterr.New(xterr.OpDeleteChain, xterr.KindBuiltinChain)
	}
	if c.numRules > 0 {
		return xterr.New(xterr.OpDeleteChain, xterr.KindNotEmpty)
	}
	if c.refCount > 0 {
		return xterr.New(xterr.OpDeleteChain, xterr.KindStillReferenced)
	}
	h.adjustChainCursorForRemoval(c)
	if err := h.unlinkChainFromList(c); err != nil {
		return xterr.Wrap(xterr.OpDeleteChain, xterr.KindOutOfMemory, err)
	}
	h.invalidateLookupCache()
	h.markChanged()
	return nil
}

func specToRule(spec RuleSpec, kind RuleKind, jumpTarget *Chain, verdict int32) *Rule {
	return &Rule{
		kind:           kind,
		jumpTarget:     jumpTarget,
		verdict:        verdict,
		targetName:     spec.TargetName,
		targetRevision: spec.TargetRevision,
		ipFields:       append([]byte(nil), spec.IPFields...),
		matchBytes:     append([]byte(nil), spec.MatchBytes...),
		targetPayload:  append([]byte(nil), spec.TargetPayload...),
		counterTag:     MapNoMap,
	}
}

// InsertEntry splices a new rule into chain at 0-based rulenum (which may
// equal the chain's current length, i.e. append).
func (h *Handle) InsertEntry(c *Chain, spec RuleSpec, rulenum int) (*Rule, error) {
	return h.insertEntry(xterr.OpInsertEntry, c, spec, rulenum)
}

// AppendEntry is insert_entry(chain, entry, len(chain.rules)).
func (h *Handle) AppendEntry(c *Chain, spec RuleSpec) (*Rule, error) {
	return h.insertEntry(xterr.OpAppendEntry, c, spec, c.numRules)
}

func (h *Handle) insertEntry(op xterr.Op, c *Chain, spec RuleSpec, rulenum int) (*Rule, error) {
	if rulenum < 0 || rulenum > c.numRules {
		return nil, xterr.New(op, xterr.KindIndexOutOfRange)
	}
	kind, jumpTarget, verdict, kerr := h.mapTarget(spec)
	if kerr != xterr.KindNone {
		return nil, xterr.New(op, kerr)
	}
	r := specToRule(spec, kind, jumpTarget, verdict)
	linkRuleAt(c, r, rulenum)
	if kind == RuleJump {
		jumpTarget.refCount++
	}
	h.markChanged()
	return r, nil
}

// ReplaceEntry inserts a new rule in place of the rule at 0-based rulenum,
// then removes the old one, decrementing any old jump target's reference
// count.
func (h *Handle) ReplaceEntry(c *Chain, spec RuleSpec, rulenum int) (*Rule, error) {
	old := getRuleNum(c, rulenum)
	if old == nil {
		return nil, xterr.New(xterr.OpReplaceEntry, xterr.KindIndexOutOfRange)
	}
	kind, jumpTarget, verdict, kerr := h.mapTarget(spec)
	if kerr != xterr.KindNone {
		return nil, xterr.New(xterr.OpReplaceEntry, kerr)
	}
	r := specToRule(spec, kind, jumpTarget, verdict)
	linkRuleAt(c, r, old.index)
	if kind == RuleJump {
		jumpTarget.refCount++
	}
	h.unlinkRule(c, old)
	h.markChanged()
	return r, nil
}

// DeleteNumEntry removes the rule at 0-based rulenum.
func (h *Handle) DeleteNumEntry(c *Chain, rulenum int) error {
	r := getRuleNum(c, rulenum)
	if r == nil {
		return xterr.New(xterr.OpDeleteNum, xterr.KindIndexOutOfRange)
	}
	h.unlinkRule(c, r)
	h.markChanged()
	return nil
}

// FlushEntries removes every rule in c.
func (h *Handle) FlushEntries(c *Chain) error {
	for r := c.ruleHead; r != nil; r = r.next {
		if r.kind == RuleJump && r.jumpTarget != nil {
			r.jumpTarget.refCount--
		}
	}
	if h.curRuleChain == c {
		h.curRule = nil
		h.curRuleBeforeHead = true
	}
	c.ruleHead, c.ruleTail, c.numRules = nil, nil, 0
	h.markChanged()
	return nil
}

// ZeroEntries transitions every rule currently tagged NORMAL_MAP to
// ZEROED. NOMAP and SET rules are untouched: a counter fixed by
// SetCounter in the same mutation window stays fixed.
func (h *Handle) ZeroEntries(c *Chain) error {
	for r := c.ruleHead; r != nil; r = r.next {
		if r.counterTag == MapNormal {
			r.counterTag = MapZeroed
		}
	}
	if c.counterTag == MapNormal {
		c.counterTag = MapZeroed
	}
	h.markChanged()
	return nil
}

// ReadCounter returns the 1-based rulenum'th rule's counters.
func (h *Handle) ReadCounter(c *Chain, rulenum int) (transport.Counter, error) {
	r := getRuleNum(c, rulenum-1)
	if r == nil {
		return transport.Counter{}, xterr.New(xterr.OpReadCounter, xterr.KindIndexOutOfRange)
	}
	return r.counters, nil
}

// SetCounter overwrites the 1-based rulenum'th rule's counters and tags
// it SET.
func (h *Handle) SetCounter(c *Chain, rulenum int, v transport.Counter) error {
	r := getRuleNum(c, rulenum-1)
	if r == nil {
		return xterr.New(xterr.OpSetCounter, xterr.KindIndexOutOfRange)
	}
	r.counters = v
	r.counterTag = MapSet
	h.markChanged()
	return nil
}

// ZeroCounter is set_counter(chain, rulenum, {0, 0}).
func (h *Handle) ZeroCounter(c *Chain, rulenum int) error {
	r := getRuleNum(c, rulenum-1)
	if r == nil {
		return xterr.New(xterr.OpZeroCounter, xterr.KindIndexOutOfRange)
	}
	r.counters = transport.Counter{}
	r.counterTag = MapSet
	h.markChanged()
	return nil
}

// SetPolicy sets a built-in chain's terminal verdict, and optionally its
// counters (tagged SET; otherwise NOMAP).
func (h *Handle) SetPolicy(c *Chain, policy string, counters *transport.Counter) error {
	if c.kind != ChainBuiltin {
		return xterr.New(xterr.OpSetPolicy, xterr.KindBuiltinChain)
	}
	var v int32
	switch policy {
	case LabelAccept:
		v = blob.VerdictAccept
	case LabelDrop:
		v = blob.VerdictDrop
	default:
		return xterr.New(xterr.OpSetPolicy, xterr.KindInvalidRule)
	}
	c.policyVerdict = v
	if counters != nil {
		c.counters = *counters
		c.counterTag = MapSet
	} else {
		c.counterTag = MapNoMap
	}
	h.markChanged()
	return nil
}

// DeleteEntry removes the first rule in c whose header fields, masked
// match bytes, and target all compare equal to spec/matchMask.
func (h *Handle) DeleteEntry(c *Chain, spec RuleSpec, matchMask []byte) error {
	r, kerr := h.findMatchingRule(c, spec, matchMask)
	if kerr != xterr.KindNone {
		return xterr.New(xterr.OpDeleteEntry, kerr)
	}
	h.unlinkRule(c, r)
	h.markChanged()
	return nil
}

// CheckEntry is DeleteEntry's dry-run sibling.
func (h *Handle) CheckEntry(c *Chain, spec RuleSpec, matchMask []byte) error {
	if _, kerr := h.findMatchingRule(c, spec, matchMask); kerr != xterr.KindNone {
		return xterr.New(xterr.OpCheckEntry, kerr)
	}
	return nil
}

func (h *Handle) findMatchingRule(c *Chain, spec RuleSpec, matchMask []byte) (*Rule, xterr.Kind) {
	kind, jumpTarget, verdict, kerr := h.mapTarget(spec)
	if kerr != xterr.KindNone {
		return nil, kerr
	}
	for r := c.ruleHead; r != nil; r = r.next {
		if !bytes.Equal(r.ipFields, spec.IPFields) {
			continue
		}
		if !maskedEqual(r.matchBytes, spec.MatchBytes, matchMask) {
			continue
		}
		if !sameTarget(r, kind, jumpTarget, verdict, spec) {
			continue
		}
		return r, xterr.KindNone
	}
	return nil, xterr.KindNotFound
}

func sameTarget(r *Rule, kind RuleKind, jumpTarget *Chain, verdict int32, spec RuleSpec) bool {
	if r.kind != kind {
		return false
	}
	switch kind {
	case RuleFallThrough:
		return true
	case RuleJump:
		return r.jumpTarget == jumpTarget
	case RuleStandard:
		return r.verdict == verdict
	default: // RuleModule
		if len(r.targetPayload) != len(spec.TargetPayload) || r.targetName != spec.TargetName {
			return false
		}
		return maskedEqual(r.targetPayload, spec.TargetPayload, nil)
	}
}

func maskedEqual(a, b, mask []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		m := byte(0xff)
		if mask != nil && i < len(mask) {
			m = mask[i]
		}
		if a[i]&m != b[i]&m {
			return false
		}
	}
	return true
}
