// Package table implements the cache model, parser, mutators, compiler,
// and commit driver: the in-memory representation of one kernel
// packet-filter table and every operation a client performs against it.
//
// The domain objects (Chain, Rule) are plain linked structs with
// back-references. Reference counts are maintained by hand because the
// count is a domain quantity (how many JUMP rules target a chain), not
// a memory-management one.
package table

import (
	"github.com/ledgerwatch/xtc/chainindex"
	"github.com/ledgerwatch/xtc/transport"
)

// ChainKind distinguishes a built-in (hook-attached) chain from a
// user-defined one.
type ChainKind int

const (
	ChainBuiltin ChainKind = iota
	ChainUserDefined
)

func (k ChainKind) String() string {
	if k == ChainBuiltin {
		return "builtin"
	}
	return "user-defined"
}

// RuleKind is the classification a rule receives during parsing or
// target mapping.
type RuleKind int

const (
	RuleStandard RuleKind = iota
	RuleModule
	RuleFallThrough
	RuleJump
)

func (k RuleKind) String() string {
	switch k {
	case RuleStandard:
		return "standard"
	case RuleModule:
		return "module"
	case RuleFallThrough:
		return "fall-through"
	case RuleJump:
		return "jump"
	default:
		return "unknown"
	}
}

// CounterMapTag records how a rule's (or a built-in chain's policy)
// post-commit counter is derived from the pre-replace read-back.
type CounterMapTag int

const (
	MapNoMap CounterMapTag = iota
	MapNormal
	MapZeroed
	MapSet
)

func (t CounterMapTag) String() string {
	switch t {
	case MapNoMap:
		return "nomap"
	case MapNormal:
		return "normal"
	case MapZeroed:
		return "zeroed"
	case MapSet:
		return "set"
	default:
		return "unknown"
	}
}

// Reserved verdict labels: no user-defined chain may take one of these
// names.
const (
	LabelAccept = "ACCEPT"
	LabelDrop   = "DROP"
	LabelQueue  = "QUEUE"
	LabelReturn = "RETURN"
)

func isReservedLabel(name string) bool {
	switch name {
	case LabelAccept, LabelDrop, LabelQueue, LabelReturn:
		return true
	}
	return false
}

// Chain is one named rule list: either a built-in attached to a hook, or
// a user-defined chain reachable only by JUMP.
type Chain struct {
	name    string
	kind    ChainKind
	hookNum int // 1..NumHooks for built-ins, 0 for user-defined

	policyVerdict    int32 // built-in only
	counters         transport.Counter
	counterTag       CounterMapTag
	counterPos       int
	snapshotCounters transport.Counter // counters at the moment this chain's footer was tagged NORMAL_MAP; used by the ZEROED reconciliation subtraction

	refCount int // number of JUMP rules targeting this chain

	ruleHead, ruleTail *Rule
	numRules           int

	prev, next *Chain // position in the table's combined chain list

	headOffset      uint32
	footOffset      uint32
	headOffsetValid bool
	headIndex       int
	footIndex       int
}

// Name returns the chain's name.
func (c *Chain) Name() string { return c.name }

// Kind reports whether c is built-in or user-defined.
func (c *Chain) Kind() ChainKind { return c.kind }

// IsBuiltin is a convenience shorthand for Kind() == ChainBuiltin.
func (c *Chain) IsBuiltin() bool { return c.kind == ChainBuiltin }

// HookNum returns the 1-based hook number for a built-in chain, 0 for a
// user-defined one.
func (c *Chain) HookNum() int { return c.hookNum }

// References returns the chain's current JUMP reference count.
func (c *Chain) References() int { return c.refCount }

// NumRules returns the number of rules currently in the chain.
func (c *Chain) NumRules() int { return c.numRules }

// ChainName, ChainOffset, and NextChain satisfy chainindex.ChainRef so a
// *Chain can be stored directly in the chain index without any adapter
// type.
func (c *Chain) ChainName() string { return c.name }

func (c *Chain) ChainOffset() (uint32, bool) { return c.headOffset, c.headOffsetValid }

func (c *Chain) NextChain() (chainindex.ChainRef, bool) {
	if c.next == nil {
		return nil, false
	}
	return c.next, true
}

// Rule is one entry of a chain.
type Rule struct {
	chain *Chain

	kind       RuleKind
	jumpTarget *Chain // only for RuleJump

	index  int    // 0-based position within chain
	offset uint32 // byte offset as of the last parse or compile
	size   uint32 // serialized entry size as of the last parse or compile

	counterTag       CounterMapTag
	counterPos       int
	counters         transport.Counter
	snapshotCounters transport.Counter // counters at the moment this rule was tagged NORMAL_MAP; used by the ZEROED reconciliation subtraction

	targetName     string // target name as supplied; read only for MODULE (parsed non-MODULE rules leave it "")
	targetRevision uint8
	verdict        int32 // meaningful for RuleStandard

	ipFields      []byte
	matchBytes    []byte
	targetPayload []byte // opaque, MODULE only

	prev, next *Rule
}

// Chain returns the owning chain.
func (r *Rule) Chain() *Chain { return r.chain }

// Kind returns the rule's classification.
func (r *Rule) Kind() RuleKind { return r.kind }

// Index returns the rule's current 0-based position within its chain.
func (r *Rule) Index() int { return r.index }

// Counters returns the rule's last-known packet/byte counters.
func (r *Rule) Counters() transport.Counter { return r.counters }

// JumpTarget returns the target chain for a RuleJump rule, nil otherwise.
func (r *Rule) JumpTarget() *Chain { return r.jumpTarget }

// RuleSpec is the caller-facing description of a rule's content, used by
// every mutator that creates or matches a rule (insert/append/replace/
// delete/check). It deliberately mirrors blob.Entry's shape minus the
// offset/size bookkeeping the cache itself derives.
type RuleSpec struct {
	IPFields       []byte
	MatchBytes     []byte
	TargetName     string // "" fall-through; ACCEPT/DROP/QUEUE/RETURN standard; an existing chain name for jump; anything else module
	TargetRevision uint8
	TargetPayload  []byte // opaque, consulted only for MODULE targets
}
