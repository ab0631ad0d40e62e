package forest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/features"
	"Go2NetSentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stump splits on one feature: value <= threshold votes left, otherwise right.
func stump(feature int, threshold float64, left, right int) Tree {
	return Tree{
		Feature:       []int{feature, LeafSentinel, LeafSentinel},
		Threshold:     []float64{threshold, -2, -2},
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Values:        [][]float64{{5, 5}, oneHot(left), oneHot(right)},
	}
}

func oneHot(class int) []float64 {
	v := []float64{0, 0}
	v[class] = 10
	return v
}

// randomTree builds a complete tree of the given depth. Thresholds sit on
// half-integers so integer inputs never land on a boundary.
func randomTree(rng *rand.Rand, depth int) Tree {
	var t Tree
	var build func(d int) int
	build = func(d int) int {
		idx := len(t.Feature)
		t.Feature = append(t.Feature, 0)
		t.Threshold = append(t.Threshold, 0)
		t.ChildrenLeft = append(t.ChildrenLeft, -1)
		t.ChildrenRight = append(t.ChildrenRight, -1)
		t.Values = append(t.Values, nil)
		if d == 0 {
			t.Feature[idx] = LeafSentinel
			t.Threshold[idx] = -2
			t.Values[idx] = []float64{float64(rng.Intn(20)), float64(rng.Intn(20) + 1)}
			return idx
		}
		t.Feature[idx] = rng.Intn(features.VectorWidth)
		t.Threshold[idx] = float64(rng.Intn(100)) + 0.5
		t.Values[idx] = []float64{1, 1}
		l := build(d - 1)
		r := build(d - 1)
		t.ChildrenLeft[idx] = l
		t.ChildrenRight[idx] = r
		return idx
	}
	build(depth)
	return t
}

func vectorWith(index int, value float64) features.Vector {
	var v features.Vector
	v[index] = value
	return v
}

func TestTree_Predict(t *testing.T) {
	tree := stump(8, 10, model.LabelBenign, model.LabelMalicious)
	require.NoError(t, tree.Validate())

	v := vectorWith(8, 32)
	label, err := tree.Predict(&v)
	require.NoError(t, err)
	assert.Equal(t, model.LabelMalicious, label)

	v = vectorWith(8, 10)
	label, err = tree.Predict(&v)
	require.NoError(t, err)
	assert.Equal(t, model.LabelBenign, label, "values equal to the threshold go left")

	v = vectorWith(8, math.NaN())
	label, err = tree.Predict(&v)
	require.NoError(t, err)
	assert.Equal(t, model.LabelMalicious, label, "undefined values go right")
}

func TestTree_LeafTieGoesToLowestClass(t *testing.T) {
	tree := Tree{
		Feature:       []int{LeafSentinel},
		Threshold:     []float64{-2},
		ChildrenLeft:  []int{-1},
		ChildrenRight: []int{-1},
		Values:        [][]float64{{7, 7}},
	}
	require.NoError(t, tree.Validate())
	var v features.Vector
	label, err := tree.Predict(&v)
	require.NoError(t, err)
	assert.Equal(t, 0, label)
}

func TestTree_TraversalTerminates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		tree := randomTree(rng, 1+rng.Intn(6))
		require.NoError(t, tree.Validate())
		var v features.Vector
		for j := range v {
			v[j] = float64(rng.Intn(100))
		}
		_, err := tree.Predict(&v)
		require.NoError(t, err)
	}
}

func TestTree_PredictRejectsBadIndices(t *testing.T) {
	var v features.Vector

	badChild := stump(0, 1, 0, 1)
	badChild.ChildrenRight[0] = 9
	v[0] = 5
	_, err := badChild.Predict(&v)
	assert.True(t, errors.Is(err, model.ErrModel))

	badFeature := stump(11, 1, 0, 1)
	_, err = badFeature.Predict(&v)
	assert.True(t, errors.Is(err, model.ErrModel))

	// Without validation a cycle must still fail rather than spin forever.
	cycle := stump(0, 1, 0, 1)
	cycle.ChildrenRight[0] = 0
	_, err = cycle.Predict(&v)
	assert.True(t, errors.Is(err, model.ErrModel))
}

func TestTree_Validate(t *testing.T) {
	cases := map[string]func(*Tree){
		"length mismatch": func(tr *Tree) { tr.Threshold = tr.Threshold[:2] },
		"child range":     func(tr *Tree) { tr.ChildrenLeft[0] = 3 },
		"feature range":   func(tr *Tree) { tr.Feature[0] = features.VectorWidth },
		"cycle":           func(tr *Tree) { tr.ChildrenRight[0] = 0 },
		"shared subtree":  func(tr *Tree) { tr.ChildrenRight[0] = 1 },
		"empty leaf":      func(tr *Tree) { tr.Values[1] = nil },
		"no nodes":        func(tr *Tree) { *tr = Tree{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tree := stump(0, 1, 0, 1)
			mutate(&tree)
			err := tree.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrModel))
		})
	}
}

func TestMajority(t *testing.T) {
	assert.Equal(t, 1, majority([]int{1, 0, 1}))
	assert.Equal(t, 0, majority([]int{0, 0, 1}))
	// Ties go to the label seen first.
	assert.Equal(t, 1, majority([]int{1, 0}))
	assert.Equal(t, 0, majority([]int{0, 1}))
	assert.Equal(t, 0, majority([]int{0, 1, 1, 0}))
}

func TestForest_PermutationInvariance(t *testing.T) {
	trees := []Tree{
		stump(8, 10, 0, 1),
		stump(9, 0, 0, 1),
		stump(1, 100, 0, 1),
	}
	v := vectorWith(8, 32)
	v[9] = 5
	v[1] = 50

	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		f := &Forest{Trees: []Tree{trees[p[0]], trees[p[1]], trees[p[2]]}}
		label, err := f.Predict(v)
		require.NoError(t, err)
		assert.Equal(t, model.LabelMalicious, label, "permutation %v", p)
	}
}

func TestParseForest(t *testing.T) {
	data := []byte(`[
	  {"feature": [8, -2, -2], "threshold": [10.0, -2.0, -2.0],
	   "children_left": [1, -1, -1], "children_right": [2, -1, -1],
	   "values": [[[4.0, 4.0]], [[9.0, 1.0]], [[0.0, 12.0]]]},
	  {"feature": [-2], "threshold": [-2.0],
	   "children_left": [-1], "children_right": [-1],
	   "values": [[1, 3]]}
	]`)
	f, err := ParseForest(data)
	require.NoError(t, err)
	require.Len(t, f.Trees, 2)
	assert.Equal(t, []float64{0, 12}, f.Trees[0].Values[2])

	label, err := f.Predict(vectorWith(8, 32))
	require.NoError(t, err)
	assert.Equal(t, model.LabelMalicious, label)

	// First tree votes benign, second malicious: the tie goes to the first.
	label, err = f.Predict(vectorWith(8, 1))
	require.NoError(t, err)
	assert.Equal(t, model.LabelBenign, label)
}

func TestParseForest_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"not a list":      `{"feature": [0]}`,
		"empty forest":    `[]`,
		"missing key":     `[{"feature": [-2], "threshold": [-2], "children_left": [-1], "values": [[1, 0]]}]`,
		"string feature":  `[{"feature": ["a"], "threshold": [-2], "children_left": [-1], "children_right": [-1], "values": [[1, 0]]}]`,
		"float feature":   `[{"feature": [0.5, -2, -2], "threshold": [1, -2, -2], "children_left": [1, -1, -1], "children_right": [2, -1, -1], "values": [[1], [1], [1]]}]`,
		"feature too big": `[{"feature": [11, -2, -2], "threshold": [1, -2, -2], "children_left": [1, -1, -1], "children_right": [2, -1, -1], "values": [[1], [1], [1]]}]`,
		"cycle":           `[{"feature": [0, -2], "threshold": [1, -2], "children_left": [1, -1], "children_right": [0, -1], "values": [[1], [1]]}]`,
		"short arrays":    `[{"feature": [0, -2, -2], "threshold": [1, -2], "children_left": [1, -1, -1], "children_right": [2, -1, -1], "values": [[1], [1], [1]]}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseForest([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrModel), "got %v", err)
		})
	}
}

func testScaler() *Scaler {
	s := &Scaler{
		Mean:  make([]float64, features.VectorWidth),
		Scale: make([]float64, features.VectorWidth),
	}
	for i := range s.Mean {
		s.Mean[i] = float64(i*3) + 0.25
		s.Scale[i] = float64(i) + 1.5
	}
	return s
}

func TestExportArtifact_AgreesWithTrees(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := &Forest{}
	for i := 0; i < 7; i++ {
		f.Trees = append(f.Trees, randomTree(rng, 4))
	}
	s := testScaler()

	a, err := ExportArtifact(f, s)
	require.NoError(t, err)
	ac, err := NewArtifactClassifier(a, s)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		var v features.Vector
		for j := range v {
			v[j] = float64(rng.Intn(100))
		}
		if i%10 == 0 {
			v[rng.Intn(features.VectorWidth)] = math.NaN()
		}
		want, err := f.Predict(v)
		require.NoError(t, err)
		got, err := ac.Predict(v)
		require.NoError(t, err)
		require.Equal(t, want, got, "vector %v", v)
	}
}

func TestBackends_FromFiles(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(3))
	f := &Forest{Trees: []Tree{randomTree(rng, 3), randomTree(rng, 3), randomTree(rng, 2)}}
	s := testScaler()

	modelPath := filepath.Join(dir, "forest_model.json")
	data, err := json.Marshal(f.Trees)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(modelPath, data, 0o644))

	scalerPath := filepath.Join(dir, "scaler_params.json")
	data, err = json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(scalerPath, data, 0o644))

	a, err := ExportArtifact(f, s)
	require.NoError(t, err)
	artifactPath := filepath.Join(dir, "forest_model.gob")
	require.NoError(t, WriteArtifactFile(artifactPath, a))

	treeBackend, err := New(config.ModelConfig{Backend: "tree", Path: modelPath})
	require.NoError(t, err)
	artifactBackend, err := New(config.ModelConfig{Backend: "artifact", Path: artifactPath, ScalerPath: scalerPath})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		var v features.Vector
		for j := range v {
			v[j] = float64(rng.Intn(100))
		}
		want, err := treeBackend.Predict(v)
		require.NoError(t, err)
		got, err := artifactBackend.Predict(v)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err = New(config.ModelConfig{Backend: "svm", Path: modelPath})
	assert.True(t, errors.Is(err, model.ErrModel))
	assert.Equal(t, []string{"artifact", "tree"}, Backends())
}

func TestScaler_Validate(t *testing.T) {
	s := testScaler()
	s.Scale[4] = 0
	assert.True(t, errors.Is(s.Validate(), model.ErrModel))

	short := &Scaler{Mean: []float64{1}, Scale: []float64{1}}
	assert.True(t, errors.Is(short.Validate(), model.ErrModel))

	_, err := short.Transform(features.Vector{})
	assert.True(t, errors.Is(err, model.ErrModel))
}

func TestReadArtifact_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gob")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err := LoadArtifact(path)
	assert.True(t, errors.Is(err, model.ErrModel))

	a := &Artifact{Format: "other", Features: features.VectorWidth}
	require.NoError(t, WriteArtifactFile(path, a))
	_, err = LoadArtifact(path)
	assert.True(t, errors.Is(err, model.ErrModel))

	_, err = (&Artifact{Format: ArtifactFormat, Features: 3, Trees: []ArtifactTree{{}}}).Predict(make([]float64, 11))
	assert.True(t, errors.Is(err, model.ErrModel))
}

func TestClassifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.csv")
	out, err := os.Create(path)
	require.NoError(t, err)
	w := features.NewWriter(out, true)
	require.NoError(t, w.WriteHeader())

	for i, ratio := range []float64{1, 32, 5, 64} {
		rec := features.Record{ID: int64(i + 1), SourceIP: "10.0.0.1", TTLRatio: features.Float(ratio)}
		// The label column is ignored during classification.
		rec.Label = features.Int(0)
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, out.Close())

	f := &Forest{Trees: []Tree{stump(8, 10, 0, 1)}}
	results, err := ClassifyFile(context.Background(), f, path)
	require.NoError(t, err)
	require.Len(t, results, 4)

	var labels []int
	for _, r := range results {
		labels = append(labels, r.Label)
	}
	assert.Equal(t, []int{0, 1, 0, 1}, labels)
	assert.True(t, results[1].Malicious())
}

func TestClassifyFile_BadInput(t *testing.T) {
	dir := t.TempDir()
	f := &Forest{Trees: []Tree{stump(8, 10, 0, 1)}}

	_, err := ClassifyFile(context.Background(), f, filepath.Join(dir, "missing.csv"))
	assert.True(t, errors.Is(err, model.ErrInput))

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("id,source_ip\n1,10.0.0.1\n"), 0o644))
	_, err = ClassifyFile(context.Background(), f, bad)
	assert.True(t, errors.Is(err, model.ErrInput))
}

func TestShippedModel(t *testing.T) {
	f, err := LoadForest(filepath.Join("..", "..", "configs", "forest_model.json"))
	require.NoError(t, err)
	s, err := LoadScaler(filepath.Join("..", "..", "configs", "scaler_params.json"))
	require.NoError(t, err)
	a, err := ExportArtifact(f, s)
	require.NoError(t, err)
	ac, err := NewArtifactClassifier(a, s)
	require.NoError(t, err)

	// SYN with a zero window from a default-TTL host.
	syn := features.Vector{1, 1.7e9, 1, 64, 0, 1000, 0, 1 / 1.7e9, 64 / 1.7e9, -1000, 0}
	// Established flow with a wide window.
	established := features.Vector{2, 1.7e9, 1, 64, 65535, 1000, 1001000, 1 / 1.7e9, 64 / 1.7e9, 1000000, 65535000}

	for _, c := range []Classifier{f, ac} {
		got, err := c.Predict(syn)
		require.NoError(t, err)
		assert.Equal(t, model.LabelMalicious, got)

		got, err = c.Predict(established)
		require.NoError(t, err)
		assert.Equal(t, model.LabelBenign, got)
	}
}
