// Package chainindex implements a sorted sparse lookup structure over a
// table's user-defined chains: a vector of references, one per bucket of
// K chains, enabling O(log(N/K) + K) search by name or (when offsets are
// monotone) by offset.
//
// It never owns the chain list itself; that stays table.Handle's job.
// The index is purely a lookup aid over data that lives elsewhere.
package chainindex

import "github.com/petar/GoLLRB/llrb"

// DefaultBucketSize is K: one array slot per this many user-defined
// chains.
const DefaultBucketSize = 40

// RebuildTolerance is the number of inserts the index accepts without a
// full rebuild before forcing one.
const RebuildTolerance = 355

// ChainRef is the minimal view the index needs of a chain. table.Chain
// implements it directly; the index never needs to know any other chain
// field.
type ChainRef interface {
	ChainName() string
	// ChainOffset returns the chain's current head offset and whether
	// it is meaningful right now (false until a parse or compile has
	// placed the chain in a blob layout).
	ChainOffset() (offset uint32, ok bool)
	// NextChain returns the next user-defined chain in sorted order,
	// or ok=false at the end of the list.
	NextChain() (next ChainRef, ok bool)
}

// Index is the bucketed array plus its GoLLRB name accelerator.
type Index struct {
	k int

	slots []ChainRef // slots[i] is the first user-defined chain of bucket i

	sortedOffsets bool

	insertsSinceBuild int
	numUserChains     int

	names *llrb.LLRB // auxiliary O(log n) exact-name membership test
}

type nameItem string

func (n nameItem) Less(than llrb.Item) bool { return string(n) < string(than.(nameItem)) }

// New returns an empty index with the given bucket size (use
// DefaultBucketSize unless a test specifically wants to exercise
// rebuild/bucket-boundary behavior at a different granularity).
func New(k int) *Index {
	if k <= 0 {
		k = DefaultBucketSize
	}
	return &Index{k: k, names: llrb.New(), sortedOffsets: true}
}

// SetSortedOffsets toggles whether the offset-based search path is
// trusted. The parser clears this the first time it has to splice a
// chain into sorted-by-name position out of kernel order.
func (ix *Index) SetSortedOffsets(v bool) { ix.sortedOffsets = v }

func (ix *Index) SortedOffsets() bool { return ix.sortedOffsets }

// Alloc sizes the slot array to ceil(numUserChains / K) slots; it does
// not populate it. Call Build for that.
func (ix *Index) Alloc(numUserChains int) {
	n := (numUserChains + ix.k - 1) / ix.k
	if n < 0 {
		n = 0
	}
	ix.slots = make([]ChainRef, 0, n)
}

// Build walks the full user-defined chain list (in sorted order,
// starting from first) and fills every Kth chain into the slot array.
func (ix *Index) Build(first ChainRef, numUserChains int) {
	ix.Alloc(numUserChains)
	ix.names = llrb.New()
	cur := first
	i := 0
	for {
		if cur == nil {
			break
		}
		if i%ix.k == 0 {
			ix.slots = append(ix.slots, cur)
		}
		ix.names.InsertNoReplace(nameItem(cur.ChainName()))
		i++
		next, ok := cur.NextChain()
		if !ok {
			break
		}
		cur = next
	}
	ix.numUserChains = numUserChains
	ix.insertsSinceBuild = 0
}

// HasName reports whether name is currently a known user-defined chain,
// via the O(log n) GoLLRB accelerator rather than a bucket scan.
func (ix *Index) HasName(name string) bool {
	return ix.names.Has(nameItem(name))
}

// NoteInsert records that a new user-defined chain was added, for the
// rebuild-tolerance bookkeeping. It also keeps the name accelerator
// current; it does not touch the bucket array.
func (ix *Index) NoteInsert(name string) {
	ix.names.InsertNoReplace(nameItem(name))
	ix.numUserChains++
	ix.insertsSinceBuild++
}

// noteDeleteName removes name from the accelerator and decrements the
// user-chain count; bucket-array bookkeeping for a deletion goes through
// DeleteChain.
func (ix *Index) noteDeleteName(name string) {
	ix.names.Delete(nameItem(name))
	ix.numUserChains--
}

// NeedsRebuild reports whether more than RebuildTolerance inserts have
// accumulated since the last Build/Rebuild.
func (ix *Index) NeedsRebuild() bool {
	return ix.insertsSinceBuild > RebuildTolerance
}

// search implements the binary search shared by LookupByName and
// LookupByOffset: cmp(i) is expected to return <0 when slots[i] sorts
// before the target ("not far enough"), >0 when slots[i] sorts after it
// ("too far"), 0 on an exact hit (which short-circuits immediately). It
// returns the largest i with slots[i] <= target, or 0 if every slot is
// already past the target or the index is empty -- ties are broken
// toward the lower index.
func search(n int, cmp func(i int) int) int {
	if n == 0 {
		return 0
	}
	lo, hi := 0, n-1
	best := 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		c := cmp(mid)
		switch {
		case c == 0:
			return mid
		case c < 0:
			best = mid
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return best
}

// LookupByName returns the chain to begin a forward linear scan from in
// order to reach name (if present) within at most K steps. Names compare
// using plain byte ordering, case-sensitive.
func (ix *Index) LookupByName(name string) ChainRef {
	if len(ix.slots) == 0 {
		return nil
	}
	i := search(len(ix.slots), func(i int) int {
		sn := ix.slots[i].ChainName()
		switch {
		case sn == name:
			return 0
		case sn < name:
			return -1
		default:
			return 1
		}
	})
	return ix.slots[i]
}

// LookupByOffset is the same shape as LookupByName but keyed by byte
// offset, and only trustworthy while SortedOffsets holds; otherwise it
// returns the list head.
func (ix *Index) LookupByOffset(offset uint32, first ChainRef) ChainRef {
	if !ix.sortedOffsets || len(ix.slots) == 0 {
		return first
	}
	i := search(len(ix.slots), func(i int) int {
		so, ok := ix.slots[i].ChainOffset()
		if !ok {
			return -1
		}
		switch {
		case so == offset:
			return 0
		case so < offset:
			return -1
		default:
			return 1
		}
	})
	return ix.slots[i]
}

// DeleteChain removes c (identified by name) from the index. Slots hold
// chain references rather than raw positions, so patching a slot that
// referenced c to c's successor stays correct regardless of which bucket
// that successor nominally belongs to. Only the trailing slot, when c
// was the last chain in the whole list, forces a rebuild (the array must
// shrink by one slot). Callers must still relink the chain list itself;
// DeleteChain only maintains the index.
//
// rebuild is invoked (with the new first chain and user-chain count) only
// when a full rebuild is required; its error is propagated rather than
// swallowed.
func (ix *Index) DeleteChain(c ChainRef, newFirst ChainRef, rebuild func(first ChainRef, n int) error) error {
	name := c.ChainName()
	ix.noteDeleteName(name)

	for i, s := range ix.slots {
		if s.ChainName() != name {
			continue
		}
		next, ok := c.NextChain()
		if !ok {
			return rebuild(newFirst, ix.numUserChains)
		}
		ix.slots[i] = next
		return nil
	}
	// c wasn't a bucket head: no structural change to the array needed.
	_ = newFirst
	return nil
}

// PatchHead updates the first slot in place when a newly inserted chain
// becomes the new minimum of the sorted user-defined chain list. It is a
// no-op when the index has no slots yet.
func (ix *Index) PatchHead(c ChainRef) {
	if len(ix.slots) == 0 {
		return
	}
	ix.slots[0] = c
}

// Rebuild discards the current slot array and name accelerator, then
// rebuilds from scratch starting at first.
func (ix *Index) Rebuild(first ChainRef, numUserChains int) error {
	ix.Build(first, numUserChains)
	return nil
}

// Len reports how many bucket-head slots are currently populated.
func (ix *Index) Len() int { return len(ix.slots) }
