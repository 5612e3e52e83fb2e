package table

import (
	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/chainindex"
	"github.com/ledgerwatch/xtc/transport"
	"github.com/ledgerwatch/xtc/xterr"
)

// parser converts a kernel blob into the handle's cache in two passes.
// Pass 1 streams the flat entry list, opening and closing chains as it
// goes; pass 2 resolves JUMP rules to their target chain by offset,
// which requires the chain index pass 1 just built.
type parser struct {
	h           *Handle
	hookOffsets blob.HookOffsets
	curChain    *Chain
	entryPos    int
	jumps       []jumpFixup
}

type jumpFixup struct {
	rule         *Rule
	targetOffset uint32
}

func newParser(h *Handle) *parser {
	return &parser{h: h, hookOffsets: blob.NewHookOffsets(h.info.ValidHooks, h.info.HookEntry)}
}

func (p *parser) parse(data []byte) error {
	total := uint32(len(data))
	var off uint32
	for {
		e, err := blob.DecodeEntry(p.h.family, data, off)
		if err != nil {
			return xterr.Wrap(xterr.OpParse, xterr.KindInvalidRule, err)
		}
		if err := checkStandardTargetSize(e); err != nil {
			return err
		}
		switch {
		case p.hookOffsets.IsHookStart(off):
			if err := p.startBuiltin(e); err != nil {
				return err
			}
		case e.TargetName == blob.ErrorTargetName && off+e.NextOffset != total:
			p.startUserChain(e)
		case off+e.NextOffset == total:
			// The blob's final entry must be the ERROR sentinel; anything
			// else means the transport violated the layout contract.
			if e.TargetName != blob.ErrorTargetName {
				return xterr.New(xterr.OpParse, xterr.KindInvalidRule)
			}
			p.finish()
			p.h.buildIndexAfterParse()
			return p.resolveJumps()
		default:
			if err := p.attachRule(e); err != nil {
				return err
			}
		}
		off += e.NextOffset
		p.entryPos++
	}
}

// checkStandardTargetSize rejects any standard-target entry whose
// declared size doesn't match the aligned header-plus-verdict size. No
// recovery is attempted.
func checkStandardTargetSize(e blob.Entry) error {
	if e.TargetName != "" {
		return nil
	}
	if int(e.TargetSize) != blob.StandardTargetSize {
		return xterr.New(xterr.OpParse, xterr.KindInvalidRule)
	}
	return nil
}

func (p *parser) startBuiltin(e blob.Entry) error {
	footer := p.popFooter()
	p.closeChain(footer)

	hookIdx := -1
	for i, off := range p.h.info.HookEntry {
		if p.h.info.ValidHooks&(1<<uint(i)) != 0 && off == e.Offset {
			hookIdx = i
			break
		}
	}
	name := ""
	if hookIdx >= 0 && hookIdx < len(p.h.hookNames) {
		name = p.h.hookNames[hookIdx]
	}
	c := &Chain{name: name, kind: ChainBuiltin, hookNum: hookIdx + 1}
	p.h.appendBuiltinChain(c)
	p.curChain = c
	return p.attachRule(e)
}

func (p *parser) startUserChain(e blob.Entry) {
	footer := p.popFooter()
	p.closeChain(footer)

	c := &Chain{name: trimNul(e.TargetPayload), kind: ChainUserDefined}
	p.h.appendUserChainKernelOrder(c)
	p.curChain = c
}

func (p *parser) finish() {
	footer := p.popFooter()
	p.closeChain(footer)
}

// popFooter detaches the current chain's last parsed rule; it is the
// policy/RETURN footer every chain ends with, never a real client-visible
// rule.
func (p *parser) popFooter() *Rule {
	c := p.curChain
	if c == nil || c.ruleTail == nil {
		return nil
	}
	footer := c.ruleTail
	c.ruleTail = footer.prev
	if c.ruleTail != nil {
		c.ruleTail.next = nil
	} else {
		c.ruleHead = nil
	}
	c.numRules--
	renumber(c)
	return footer
}

// closeChain folds footer's verdict and counters into the chain it
// terminates. The chain's head offset -- the offset a JUMP verdict
// targeting it must resolve to -- is its first real rule's offset, or the
// footer's own offset for an empty chain.
func (p *parser) closeChain(footer *Rule) {
	c := p.curChain
	if c == nil || footer == nil {
		return
	}
	c.counters = footer.counters
	c.snapshotCounters = footer.counters
	c.counterTag = MapNormal
	c.counterPos = footer.counterPos
	c.footOffset = footer.offset
	c.footIndex = footer.counterPos
	if c.kind == ChainBuiltin {
		c.policyVerdict = footer.verdict
	}
	if !c.headOffsetValid {
		c.headOffset = footer.offset
		c.headOffsetValid = true
		c.headIndex = footer.counterPos
	}
}

func (p *parser) attachRule(e blob.Entry) error {
	c := p.curChain
	if c == nil {
		return xterr.New(xterr.OpParse, xterr.KindInvalidRule)
	}
	counters := transport.Counter{Packets: e.Packets, Bytes: e.Bytes}
	r := &Rule{
		offset:           e.Offset,
		size:             e.NextOffset,
		ipFields:         e.IPFields,
		matchBytes:       e.MatchBytes,
		targetRevision:   e.TargetRev,
		counters:         counters,
		snapshotCounters: counters,
		counterTag:       MapNormal,
		counterPos:       p.entryPos,
	}
	switch {
	case e.IsStandard() && e.Verdict < 0:
		r.kind = RuleStandard
		r.verdict = e.Verdict
	case e.IsStandard() && uint32(e.Verdict) == e.Offset+e.NextOffset:
		r.kind = RuleFallThrough
	case e.IsStandard():
		r.kind = RuleJump
		p.jumps = append(p.jumps, jumpFixup{rule: r, targetOffset: uint32(e.Verdict)})
	default:
		r.kind = RuleModule
		r.targetName = e.TargetName
		r.targetPayload = e.TargetPayload
	}
	if c.numRules == 0 && !c.headOffsetValid {
		c.headOffset = e.Offset
		c.headOffsetValid = true
		c.headIndex = p.entryPos
	}
	linkRuleAt(c, r, c.numRules)
	return nil
}

func (p *parser) resolveJumps() error {
	for _, j := range p.jumps {
		target := p.h.findChainByOffset(j.targetOffset)
		if target == nil {
			return xterr.New(xterr.OpParse, xterr.KindInvalidRule)
		}
		j.rule.jumpTarget = target
		target.refCount++
	}
	return nil
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// buildIndexAfterParse builds the chain index once pass 1 is complete,
// so pass 2's offset resolution can use it.
func (h *Handle) buildIndexAfterParse() {
	var first chainindex.ChainRef
	if h.firstUserChain != nil {
		first = h.firstUserChain
	}
	h.index.Build(first, h.numUserChains)
}
