package table

// FirstChain and NextChain implement the stateful chain cursor stored on
// the handle. ChainIter below is a borrowing iterator that doesn't
// disturb the handle's own cursor, for callers that don't need
// cursor-relative delete semantics.
func (h *Handle) FirstChain() (*Chain, bool) {
	h.curChainBeforeHead = false
	h.curChain = h.chainHead
	if h.curChain == nil {
		return nil, false
	}
	return h.curChain, true
}

func (h *Handle) NextChain() (*Chain, bool) {
	if h.curChainBeforeHead {
		h.curChainBeforeHead = false
		h.curChain = h.chainHead
		if h.curChain == nil {
			return nil, false
		}
		return h.curChain, true
	}
	if h.curChain == nil {
		return nil, false
	}
	h.curChain = h.curChain.next
	if h.curChain == nil {
		return nil, false
	}
	return h.curChain, true
}

// FirstRule and NextRule implement the stateful rule cursor. Deleting
// the cursor's rule (via DeleteEntry, DeleteNumEntry, ReplaceEntry, or
// FlushEntries) rewinds the cursor so that the next NextRule call visits
// the deleted rule's successor.
func (h *Handle) FirstRule(c *Chain) (*Rule, bool) {
	h.curRuleChain = c
	h.curRuleBeforeHead = false
	h.curRule = c.ruleHead
	if h.curRule == nil {
		return nil, false
	}
	return h.curRule, true
}

func (h *Handle) NextRule() (*Rule, bool) {
	if h.curRuleBeforeHead {
		h.curRuleBeforeHead = false
		if h.curRuleChain == nil || h.curRuleChain.ruleHead == nil {
			return nil, false
		}
		h.curRule = h.curRuleChain.ruleHead
		return h.curRule, true
	}
	if h.curRule == nil {
		return nil, false
	}
	h.curRule = h.curRule.next
	if h.curRule == nil {
		return nil, false
	}
	return h.curRule, true
}

// ChainIter is a borrowing iterator over the chain list that does not
// touch the handle's own cursor.
type ChainIter struct {
	cur *Chain
}

// Chains returns a fresh ChainIter starting at the first chain.
func (h *Handle) Chains() *ChainIter { return &ChainIter{cur: h.chainHead} }

func (it *ChainIter) Next() (*Chain, bool) {
	if it.cur == nil {
		return nil, false
	}
	c := it.cur
	it.cur = it.cur.next
	return c, true
}

// RuleIter is a borrowing iterator over one chain's rule list.
type RuleIter struct {
	cur *Rule
}

// Rules returns a fresh RuleIter over c's rules.
func (c *Chain) Rules() *RuleIter { return &RuleIter{cur: c.ruleHead} }

func (it *RuleIter) Next() (*Rule, bool) {
	if it.cur == nil {
		return nil, false
	}
	r := it.cur
	it.cur = it.cur.next
	return r, true
}
