package table

import (
	"github.com/ledgerwatch/xtc/chainindex"
	"github.com/ledgerwatch/xtc/xtcmetrics"
)

func (h *Handle) onIndexRebuild() { xtcmetrics.ChainIndexRebuildsTotal.Inc() }

// appendBuiltinChain appends c after the last built-in chain and before
// any user-defined chains: built-ins always lead the list in
// table-natural order.
func (h *Handle) appendBuiltinChain(c *Chain) {
	c.kind = ChainBuiltin
	if h.firstUserChain == nil {
		// no user chains yet: append at the tail
		c.prev = h.chainTail
		if h.chainTail != nil {
			h.chainTail.next = c
		} else {
			h.chainHead = c
		}
		h.chainTail = c
		return
	}
	before := h.firstUserChain
	c.prev = before.prev
	c.next = before
	if before.prev != nil {
		before.prev.next = c
	} else {
		h.chainHead = c
	}
	before.prev = c
}

// appendUserChainKernelOrder appends c at the tail in kernel order, as
// pass 1 of the parser does. Kernels can report chains out of name order
// after an upgrade; when c's name precedes the current tail chain's
// name, c is spliced into sorted position instead and sortedOffsets is
// cleared.
func (h *Handle) appendUserChainKernelOrder(c *Chain) {
	c.kind = ChainUserDefined
	if h.chainTail == nil || h.chainTail.kind == ChainBuiltin {
		h.linkUserChainAfter(c, h.chainTail)
		h.firstUserChain = c
		h.numUserChains++
		h.index.NoteInsert(c.name)
		return
	}
	if c.name < h.chainTail.name {
		h.sortedOffsets = false
		h.index.SetSortedOffsets(false)
		h.insertChainSorted(c)
		return
	}
	h.linkUserChainAfter(c, h.chainTail)
	h.numUserChains++
	h.index.NoteInsert(c.name)
}

// linkUserChainAfter splices c into the combined chain list immediately
// after after (after may be nil, meaning the list is currently empty).
func (h *Handle) linkUserChainAfter(c *Chain, after *Chain) {
	if after == nil {
		c.prev, c.next = nil, nil
		h.chainHead, h.chainTail = c, c
		return
	}
	c.prev = after
	c.next = after.next
	if after.next != nil {
		after.next.prev = c
	} else {
		h.chainTail = c
	}
	after.next = c
}

// insertChainSorted inserts a newly created (or renamed) user-defined
// chain into its correct sorted position among the existing user-defined
// chains, updates firstUserChain/numUserChains, and maintains the chain
// index.
func (h *Handle) insertChainSorted(c *Chain) {
	c.kind = ChainUserDefined
	var after *Chain
	cur := h.firstUserChain
	for cur != nil && cur.name < c.name {
		after = cur
		cur = cur.next
	}
	switch {
	case after != nil:
		h.linkUserChainAfter(c, after)
	case h.firstUserChain != nil:
		// c becomes the new minimum: splice in front of the current first
		// user-defined chain, behind any built-ins.
		before := h.firstUserChain
		c.prev = before.prev
		c.next = before
		if before.prev != nil {
			before.prev.next = c
		} else {
			h.chainHead = c
		}
		before.prev = c
		h.firstUserChain = c
	default:
		// first user-defined chain overall: after the last built-in
		h.linkUserChainAfter(c, h.chainTail)
		h.firstUserChain = c
	}
	h.numUserChains++
	h.index.NoteInsert(c.name)
	if h.firstUserChain == c {
		h.index.PatchHead(c)
	}
	if h.index.NeedsRebuild() {
		h.rebuildIndex()
	}
}

func (h *Handle) rebuildIndex() {
	var first chainindex.ChainRef
	if h.firstUserChain != nil {
		first = h.firstUserChain
	}
	h.onIndexRebuild()
	h.index.Rebuild(first, h.numUserChains)
}

// unlinkChainFromList removes c from the combined chain list and the
// chain index. Callers are responsible for validating that c is safe to
// remove (empty, unreferenced, not built-in).
func (h *Handle) unlinkChainFromList(c *Chain) error {
	newFirst := h.firstUserChain
	if h.firstUserChain == c {
		if c.next != nil {
			newFirst = c.next
		} else {
			newFirst = nil
		}
	}
	var firstRef chainindex.ChainRef
	if newFirst != nil {
		firstRef = newFirst
	}
	rebuildFn := func(first chainindex.ChainRef, n int) error {
		h.onIndexRebuild()
		return h.index.Rebuild(first, n)
	}
	if err := h.index.DeleteChain(c, firstRef, rebuildFn); err != nil {
		return err
	}
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		h.chainHead = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		h.chainTail = c.prev
	}
	if h.firstUserChain == c {
		h.firstUserChain = newFirst
	}
	h.numUserChains--
	return nil
}

// getRuleNum returns the rule at 0-based position num within c, walking
// forward from the head when num is in the first half of the chain and
// backward from the tail otherwise.
func getRuleNum(c *Chain, num int) *Rule {
	if num < 0 || num >= c.numRules {
		return nil
	}
	if num <= c.numRules/2 {
		r := c.ruleHead
		for i := 0; i < num; i++ {
			r = r.next
		}
		return r
	}
	r := c.ruleTail
	for i := c.numRules - 1; i > num; i-- {
		r = r.prev
	}
	return r
}

// linkRuleAt splices r into c's rule list immediately before the rule
// currently at 0-based position pos (pos == c.numRules appends at the
// tail), then renumbers every rule's index field.
func linkRuleAt(c *Chain, r *Rule, pos int) {
	switch {
	case c.numRules == 0:
		r.prev, r.next = nil, nil
		c.ruleHead, c.ruleTail = r, r
	case pos == 0:
		r.prev = nil
		r.next = c.ruleHead
		c.ruleHead.prev = r
		c.ruleHead = r
	case pos == c.numRules:
		r.next = nil
		r.prev = c.ruleTail
		c.ruleTail.next = r
		c.ruleTail = r
	default:
		after := getRuleNum(c, pos)
		before := after.prev
		r.prev = before
		r.next = after
		before.next = r
		after.prev = r
	}
	c.numRules++
	r.chain = c
	renumber(c)
}

func renumber(c *Chain) {
	i := 0
	for r := c.ruleHead; r != nil; r = r.next {
		r.index = i
		i++
	}
}

// adjustCursorForRemoval rewinds the handle's rule cursor when it
// points at r, so that a subsequent NextRule call visits r's successor.
func (h *Handle) adjustCursorForRemoval(r *Rule) {
	if h.curRule != r {
		return
	}
	if r.prev != nil {
		h.curRule = r.prev
		h.curRuleBeforeHead = false
		return
	}
	h.curRule = nil
	h.curRuleBeforeHead = true
}

// adjustChainCursorForRemoval rewinds the chain cursor off of a chain
// about to be deleted, so the next NextChain call visits the deleted
// chain's successor.
func (h *Handle) adjustChainCursorForRemoval(c *Chain) {
	if h.curChain != c {
		return
	}
	if c.prev != nil {
		h.curChain = c.prev
		h.curChainBeforeHead = false
		return
	}
	h.curChain = nil
	h.curChainBeforeHead = true
}

// unlinkRule removes r from its chain's rule list, adjusts the rule
// cursor, decrements any jump target's reference count, and renumbers the
// remaining rules.
func (h *Handle) unlinkRule(c *Chain, r *Rule) {
	h.assert(r.chain == c, "rule being unlinked belongs to another chain")
	h.adjustCursorForRemoval(r)
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		c.ruleHead = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		c.ruleTail = r.prev
	}
	c.numRules--
	if r.kind == RuleJump && r.jumpTarget != nil {
		r.jumpTarget.refCount--
	}
	renumber(c)
}
