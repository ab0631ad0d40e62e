package forest

import (
	"encoding/json"
	"fmt"
	"math"

	"Go2NetSentinel/internal/features"
	"Go2NetSentinel/internal/model"
)

// LeafSentinel marks a leaf in the feature array.
const LeafSentinel = -2

// Tree is one decision tree stored as parallel node arrays.
type Tree struct {
	Feature       []int
	Threshold     []float64
	ChildrenLeft  []int
	ChildrenRight []int
	// Values holds the per-class counts of each node.
	Values [][]float64
}

type treeJSON struct {
	Feature       []int             `json:"feature"`
	Threshold     []float64         `json:"threshold"`
	ChildrenLeft  []int             `json:"children_left"`
	ChildrenRight []int             `json:"children_right"`
	Values        []json.RawMessage `json:"values"`
}

// UnmarshalJSON accepts node values either flat ([a, b]) or nested ([[a, b]]).
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw treeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	values := make([][]float64, len(raw.Values))
	for i, v := range raw.Values {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return fmt.Errorf("values[%d]: %w", i, err)
		}
		counts, err := flatten(decoded, nil)
		if err != nil {
			return fmt.Errorf("values[%d]: %w", i, err)
		}
		values[i] = counts
	}
	*t = Tree{
		Feature:       raw.Feature,
		Threshold:     raw.Threshold,
		ChildrenLeft:  raw.ChildrenLeft,
		ChildrenRight: raw.ChildrenRight,
		Values:        values,
	}
	return nil
}

// MarshalJSON writes node values flat.
func (t Tree) MarshalJSON() ([]byte, error) {
	values := make([]json.RawMessage, len(t.Values))
	for i, v := range t.Values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		values[i] = b
	}
	return json.Marshal(treeJSON{
		Feature:       t.Feature,
		Threshold:     t.Threshold,
		ChildrenLeft:  t.ChildrenLeft,
		ChildrenRight: t.ChildrenRight,
		Values:        values,
	})
}

func flatten(v any, out []float64) ([]float64, error) {
	switch x := v.(type) {
	case float64:
		return append(out, x), nil
	case []any:
		var err error
		for _, e := range x {
			if out, err = flatten(e, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected value of type %T", v)
	}
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.Feature) }

// Validate checks that the arrays agree in length, that every internal node
// points at in-range children and features, and that the nodes reachable
// from the root form a tree. A valid tree always reaches a leaf.
func (t *Tree) Validate() error {
	n := len(t.Feature)
	if n == 0 {
		return fmt.Errorf("%w: tree has no nodes", model.ErrModel)
	}
	if len(t.Threshold) != n || len(t.ChildrenLeft) != n || len(t.ChildrenRight) != n || len(t.Values) != n {
		return fmt.Errorf("%w: node arrays differ in length (feature=%d threshold=%d left=%d right=%d values=%d)",
			model.ErrModel, n, len(t.Threshold), len(t.ChildrenLeft), len(t.ChildrenRight), len(t.Values))
	}

	for i, f := range t.Feature {
		if f == LeafSentinel {
			if len(t.Values[i]) == 0 {
				return fmt.Errorf("%w: leaf %d has no class counts", model.ErrModel, i)
			}
			continue
		}
		if f < 0 || f >= features.VectorWidth {
			return fmt.Errorf("%w: node %d uses feature %d, model expects %d features", model.ErrModel, i, f, features.VectorWidth)
		}
		if math.IsNaN(t.Threshold[i]) {
			return fmt.Errorf("%w: node %d has a NaN threshold", model.ErrModel, i)
		}
		for _, c := range []int{t.ChildrenLeft[i], t.ChildrenRight[i]} {
			if c < 0 || c >= n {
				return fmt.Errorf("%w: node %d has child %d outside [0,%d)", model.ErrModel, i, c, n)
			}
		}
	}

	// Every node reachable from the root must be entered exactly once.
	seen := make([]bool, n)
	stack := []int{0}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[node] {
			return fmt.Errorf("%w: node %d is reachable twice, tree contains a cycle or shared subtree", model.ErrModel, node)
		}
		seen[node] = true
		if t.Feature[node] != LeafSentinel {
			stack = append(stack, t.ChildrenLeft[node], t.ChildrenRight[node])
		}
	}
	return nil
}

// Predict walks the tree for v and returns the leaf's class. Indices are
// checked on every step so an unvalidated tree fails with a model error
// instead of panicking or looping.
func (t *Tree) Predict(v *features.Vector) (int, error) {
	n := len(t.Feature)
	node := 0
	for steps := 0; ; steps++ {
		if node < 0 || node >= n || node >= len(t.Threshold) || node >= len(t.ChildrenLeft) || node >= len(t.ChildrenRight) {
			return 0, fmt.Errorf("%w: node index %d outside tree of %d nodes", model.ErrModel, node, n)
		}
		if steps > n {
			return 0, fmt.Errorf("%w: traversal did not reach a leaf within %d steps", model.ErrModel, n)
		}
		f := t.Feature[node]
		if f == LeafSentinel {
			break
		}
		if f < 0 || f >= len(v) {
			return 0, fmt.Errorf("%w: node %d uses feature %d outside vector of %d", model.ErrModel, node, f, len(v))
		}
		// NaN compares false, so undefined features descend right.
		if v[f] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	if node >= len(t.Values) {
		return 0, fmt.Errorf("%w: leaf %d has no class counts", model.ErrModel, node)
	}
	return argmax(t.Values[node])
}

// argmax returns the index of the largest count. Ties go to the lowest index.
func argmax(counts []float64) (int, error) {
	if len(counts) == 0 {
		return 0, fmt.Errorf("%w: empty class counts", model.ErrModel)
	}
	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return best, nil
}
