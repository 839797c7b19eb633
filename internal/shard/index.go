package shard

import (
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

// FilterOp is one of the filter kinds the inverted index supports.
type FilterOp int

const (
	FilterEquals FilterOp = iota
	FilterNotEquals
	FilterRegexMatch
	FilterRegexNotMatch
)

// LabelFilter selects partitions whose label Name satisfies Op against
// Value (a literal for Equals/NotEquals, a regular expression otherwise).
type LabelFilter struct {
	Name  string
	Value string
	Op    FilterOp
}

// indexSnapshot is an immutable view of the inverted index: label name ->
// label value -> roaring bitmap of partition ids. Queries read a snapshot
// taken at query start, satisfying the copy-on-write requirement.
type indexSnapshot struct {
	postings map[string]map[string]*roaring.Bitmap
	universe *roaring.Bitmap // every partition id known to the index
}

func emptySnapshot() *indexSnapshot {
	return &indexSnapshot{postings: map[string]map[string]*roaring.Bitmap{}, universe: roaring.New()}
}

// InvertedIndex maps label (name, value) pairs to roaring-bitmap sets of
// partition ids, with the teacher's rotation-policy-style "pure snapshot,
// mutate a staging area, commit explicitly" discipline generalized from
// chunk rotation decisions to index visibility. Grounded on
// internal/index/memory.Manager's "commit makes new entries searchable"
// lifecycle and chunk/rotation.go's pluggable-policy idiom.
type InvertedIndex struct {
	snapshot atomic.Pointer[indexSnapshot]

	mu      sync.Mutex
	pending map[string]map[string][]uint32 // staged, not yet committed
}

// NewInvertedIndex returns an empty index.
func NewInvertedIndex() *InvertedIndex {
	idx := &InvertedIndex{pending: map[string]map[string][]uint32{}}
	idx.snapshot.Store(emptySnapshot())
	return idx
}

// Add stages a partition id under each of its labels. Not visible to
// Query/LabelValues until the next Commit.
func (idx *InvertedIndex) Add(partitionID uint32, labels map[string]string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for name, value := range labels {
		values, ok := idx.pending[name]
		if !ok {
			values = map[string][]uint32{}
			idx.pending[name] = values
		}
		values[value] = append(values[value], partitionID)
	}
}

// Commit merges staged additions into a new immutable snapshot and
// atomically swaps it in. Reads between commits observe the prior
// snapshot, matching the "may see a slightly stale index" allowance.
func (idx *InvertedIndex) Commit() {
	idx.mu.Lock()
	pending := idx.pending
	idx.pending = map[string]map[string][]uint32{}
	idx.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	prev := idx.snapshot.Load()
	next := &indexSnapshot{
		postings: make(map[string]map[string]*roaring.Bitmap, len(prev.postings)),
		universe: prev.universe.Clone(),
	}
	for name, values := range prev.postings {
		cp := make(map[string]*roaring.Bitmap, len(values))
		for v, bm := range values {
			cp[v] = bm.Clone()
		}
		next.postings[name] = cp
	}
	for name, values := range pending {
		cur, ok := next.postings[name]
		if !ok {
			cur = map[string]*roaring.Bitmap{}
			next.postings[name] = cur
		}
		for value, ids := range values {
			bm, ok := cur[value]
			if !ok {
				bm = roaring.New()
				cur[value] = bm
			}
			for _, id := range ids {
				bm.Add(id)
				next.universe.Add(id)
			}
		}
	}
	idx.snapshot.Store(next)
}

// Snapshot returns the index's current committed view, for queries that
// need a stable point-in-time read across several filter evaluations.
func (idx *InvertedIndex) Snapshot() *indexSnapshot {
	return idx.snapshot.Load()
}

// Query evaluates a conjunction ("AND" across filters; each LabelFilter is
// itself a flat match) against a snapshot and returns matching partition
// ids. An empty filter list matches every known partition.
func (s *indexSnapshot) Query(filters []LabelFilter) *roaring.Bitmap {
	if len(filters) == 0 {
		return s.universe.Clone()
	}
	var result *roaring.Bitmap
	for _, f := range filters {
		m := s.matchFilter(f)
		if result == nil {
			result = m
		} else {
			result = roaring.And(result, m)
		}
	}
	return result
}

// Or returns the union of two filter groups' results (the index-level "OR"
// composition operator).
func (s *indexSnapshot) Or(a, b []LabelFilter) *roaring.Bitmap {
	return roaring.Or(s.Query(a), s.Query(b))
}

func (s *indexSnapshot) matchFilter(f LabelFilter) *roaring.Bitmap {
	values, ok := s.postings[f.Name]
	switch f.Op {
	case FilterEquals:
		if !ok {
			return roaring.New()
		}
		if bm, ok := values[f.Value]; ok {
			return bm.Clone()
		}
		return roaring.New()
	case FilterNotEquals:
		if !ok {
			return s.universe.Clone()
		}
		if bm, ok := values[f.Value]; ok {
			return roaring.AndNot(s.universe, bm)
		}
		return s.universe.Clone()
	case FilterRegexMatch, FilterRegexNotMatch:
		re, err := regexp.Compile(f.Value)
		if err != nil {
			return roaring.New()
		}
		matched := roaring.New()
		if ok {
			for v, bm := range values {
				if re.MatchString(v) {
					matched.Or(bm)
				}
			}
		}
		if f.Op == FilterRegexMatch {
			return matched
		}
		return roaring.AndNot(s.universe, matched)
	default:
		return roaring.New()
	}
}

// LabelValues returns every distinct value observed for label name.
func (s *indexSnapshot) LabelValues(name string) []string {
	values, ok := s.postings[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	return out
}
