package rangevector

import "math"

// ErrDuplicateOneToOneMatch marks a 1:1 BinaryJoin where more than one
// right-hand series joined to the same key, a query error rather than a
// panic per the design notes' failure-semantics table.
type ErrDuplicateOneToOneMatch struct{ Key string }

func (e *ErrDuplicateOneToOneMatch) Error() string {
	return "rangevector: multiple matches for join key " + e.Key + " in a 1:1 join"
}

// BinaryJoinConfig configures BinaryJoin: on/ignoring select the join
// key's label subset (on wins if both are set, matching PromQL), and
// include carries extra labels from the "one" side of a 1:N or N:1 join
// into the result.
type BinaryJoinConfig struct {
	On          []string
	Ignoring    []string
	Include     []string
	OneToMany   bool // rhs is the "many" side
	ManyToOne   bool // lhs is the "many" side
	Op          func(l, r float64) float64
}

// BinaryJoin matches lhs against rhs by join key and applies op
// pointwise per timestamp. One-to-one joins reject a join key matched by
// more than one rhs series; duplicate lhs keys are not rejected.
// One-to-many/many-to-one carry the "one" side's Include labels into the
// result and do not check either side for duplicates.
func BinaryJoin(lhs, rhs []RangeVector, cfg BinaryJoinConfig) ([]RangeVector, error) {
	rhsByKey := map[string][]RangeVector{}
	for _, rv := range rhs {
		k := JoinKey(rv.Labels, cfg.On, cfg.Ignoring)
		rhsByKey[k] = append(rhsByKey[k], rv)
	}
	oneToOne := !cfg.OneToMany && !cfg.ManyToOne
	if oneToOne {
		for k, group := range rhsByKey {
			if len(group) > 1 {
				return nil, &ErrDuplicateOneToOneMatch{Key: k}
			}
		}
	}

	var out []RangeVector
	for _, l := range lhs {
		k := JoinKey(l.Labels, cfg.On, cfg.Ignoring)
		group := rhsByKey[k]
		if len(group) == 0 {
			continue
		}
		if oneToOne && len(group) != 1 {
			return nil, &ErrDuplicateOneToOneMatch{Key: k}
		}
		for _, r := range group {
			out = append(out, joinPair(l, r, cfg))
		}
	}
	return out, nil
}

func joinPair(l, r RangeVector, cfg BinaryJoinConfig) RangeVector {
	labels := make(map[string]string, len(l.Labels))
	for k, v := range l.Labels {
		labels[k] = v
	}
	includeFrom := r.Labels
	if cfg.OneToMany {
		includeFrom = l.Labels
		labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			labels[k] = v
		}
	}
	for _, name := range cfg.Include {
		if v, ok := includeFrom[name]; ok {
			labels[name] = v
		}
	}

	rByTS := make(map[int64]float64, len(r.Samples))
	for _, s := range r.Samples {
		rByTS[s.Timestamp] = s.Value
	}
	samples := make([]Sample, 0, len(l.Samples))
	for _, s := range l.Samples {
		rv, ok := rByTS[s.Timestamp]
		if !ok {
			samples = append(samples, Sample{Timestamp: s.Timestamp, Value: math.NaN()})
			continue
		}
		samples = append(samples, Sample{Timestamp: s.Timestamp, Value: cfg.Op(s.Value, rv)})
	}
	return RangeVector{Labels: labels, Samples: samples}
}

// SetOp is one of the three PromQL set operators.
type SetOp int

const (
	SetAnd SetOp = iota
	SetOr
	SetUnless
)

// SetOperator applies AND/OR/UNLESS set semantics between lhs and rhs,
// matched by the on/ignoring join key (metric name is always excluded
// from the key, per PromQL's vector-matching rules).
func SetOperator(lhs, rhs []RangeVector, op SetOp, on, ignoring []string) []RangeVector {
	if len(on) == 0 {
		ignoring = append(append([]string{}, ignoring...), "__name__")
	}
	rhsKeys := map[string][]RangeVector{}
	for _, rv := range rhs {
		k := JoinKey(rv.Labels, on, ignoring)
		rhsKeys[k] = append(rhsKeys[k], rv)
	}
	lhsKeys := map[string]bool{}
	for _, rv := range lhs {
		lhsKeys[JoinKey(rv.Labels, on, ignoring)] = true
	}

	switch op {
	case SetAnd:
		var out []RangeVector
		for _, l := range lhs {
			k := JoinKey(l.Labels, on, ignoring)
			group, ok := rhsKeys[k]
			if !ok {
				continue
			}
			out = append(out, maskAgainst(l, group))
		}
		return out
	case SetUnless:
		var out []RangeVector
		for _, l := range lhs {
			k := JoinKey(l.Labels, on, ignoring)
			if _, ok := rhsKeys[k]; !ok {
				out = append(out, l)
			}
		}
		return out
	case SetOr:
		out := append([]RangeVector{}, lhs...)
		for _, r := range rhs {
			k := JoinKey(r.Labels, on, ignoring)
			if !lhsKeys[k] {
				out = append(out, r)
			}
		}
		return out
	default:
		return nil
	}
}

// maskAgainst returns l with every sample whose timestamp has no matching
// rhs sample (across any series in group) turned to NaN, the AND
// operator's "bound to rhs' time presence" semantics (spec invariant 8).
func maskAgainst(l RangeVector, group []RangeVector) RangeVector {
	present := map[int64]bool{}
	for _, rv := range group {
		for _, s := range rv.Samples {
			if !math.IsNaN(s.Value) {
				present[s.Timestamp] = true
			}
		}
	}
	out := l.Clone()
	for i, s := range out.Samples {
		if !present[s.Timestamp] {
			out.Samples[i].Value = math.NaN()
		}
	}
	return out
}

// Stitch merges RangeVectors sharing an identical label set into one,
// concatenating and time-sorting their samples — the "OR of same-labeled
// partials from different shards" case SetOperator's caller resolves
// after gathering results from multiple ExecPlan children.
func Stitch(vectors []RangeVector) []RangeVector {
	byKey := map[string]*RangeVector{}
	var order []string
	for _, rv := range vectors {
		k := JoinKey(rv.Labels, nil, nil)
		if existing, ok := byKey[k]; ok {
			existing.Samples = append(existing.Samples, rv.Samples...)
			continue
		}
		clone := rv.Clone()
		byKey[k] = &clone
		order = append(order, k)
	}
	out := make([]RangeVector, 0, len(order))
	for _, k := range order {
		rv := *byKey[k]
		samples := rv.Samples
		for i := 1; i < len(samples); i++ {
			for j := i; j > 0 && samples[j-1].Timestamp > samples[j].Timestamp; j-- {
				samples[j-1], samples[j] = samples[j], samples[j-1]
			}
		}
		out = append(out, rv)
	}
	return out
}
