package roomenv

import (
	"github.com/guregu/null"
)

type fieldSum struct {
	sum float64
	n   int
}

type groupSum struct {
	count  int
	fields [len(Fields)]fieldSum
}

// Accumulator groups readings by the label a GroupingRule assigns and keeps
// per-field sums. Nulls are excluded from each field's mean. Feed readings
// in a stable order to get bit-identical results across runs.
type Accumulator struct {
	rule   GroupingRule
	groups map[string]*groupSum
}

// NewAccumulator returns an empty Accumulator for rule.
func NewAccumulator(rule GroupingRule) *Accumulator {
	return &Accumulator{
		rule:   rule,
		groups: make(map[string]*groupSum),
	}
}

// Add files r under its label.
func (a *Accumulator) Add(r Reading) {
	label := a.rule.LabelOf(r.Timestamp)
	g, ok := a.groups[label]
	if !ok {
		g = &groupSum{}
		a.groups[label] = g
	}
	g.count++
	for i, f := range Fields {
		v := r.Get(f)
		if !v.Valid {
			continue
		}
		g.fields[i].sum += v.Float64
		g.fields[i].n++
	}
}

// Result returns the mean of every field per label. A field with no
// non-null contribution stays null.
func (a *Accumulator) Result() map[string]Averages {
	out := make(map[string]Averages, len(a.groups))
	for label, g := range a.groups {
		avg := Averages{Count: g.count}
		for i, f := range Fields {
			fs := g.fields[i]
			if fs.n == 0 {
				continue
			}
			avg.Set(f, null.FloatFrom(fs.sum/float64(fs.n)))
		}
		out[label] = avg
	}
	return out
}
