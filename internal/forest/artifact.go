package forest

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"Go2NetSentinel/internal/features"
	"Go2NetSentinel/internal/model"
)

// ArtifactFormat identifies the gob layout written by SaveArtifact.
const ArtifactFormat = "go2netsentinel/forest-artifact/v1"

// ArtifactNode is one node of a compiled tree. Leaves carry their class
// directly; internal nodes compare against a standardized threshold.
type ArtifactNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Class     int
}

// ArtifactTree is a compiled tree.
type ArtifactTree struct {
	Nodes []ArtifactNode
}

// Artifact is a trained forest in compiled form. It expects standardized input.
type Artifact struct {
	Format   string
	Features int
	Trees    []ArtifactTree
}

// ExportArtifact compiles a tree-array forest into an artifact that gives
// the same labels on standardized input.
func ExportArtifact(f *Forest, s *Scaler) (*Artifact, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	a := &Artifact{Format: ArtifactFormat, Features: features.VectorWidth}
	for ti := range f.Trees {
		t := &f.Trees[ti]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tree %d: %w", ti, err)
		}
		nodes := make([]ArtifactNode, t.Len())
		for i, feat := range t.Feature {
			if feat == LeafSentinel {
				class, err := argmax(t.Values[i])
				if err != nil {
					return nil, fmt.Errorf("tree %d leaf %d: %w", ti, i, err)
				}
				nodes[i] = ArtifactNode{Feature: LeafSentinel, Class: class}
				continue
			}
			nodes[i] = ArtifactNode{
				Feature:   feat,
				Threshold: (t.Threshold[i] - s.Mean[feat]) / s.Scale[feat],
				Left:      t.ChildrenLeft[i],
				Right:     t.ChildrenRight[i],
			}
		}
		a.Trees = append(a.Trees, ArtifactTree{Nodes: nodes})
	}
	return a, nil
}

// Predict runs the compiled forest on standardized input x.
func (a *Artifact) Predict(x []float64) (int, error) {
	if len(x) != a.Features {
		return 0, fmt.Errorf("%w: artifact expects %d features, got %d", model.ErrModel, a.Features, len(x))
	}
	if len(a.Trees) == 0 {
		return 0, fmt.Errorf("%w: artifact has no trees", model.ErrModel)
	}
	votes := make([]int, len(a.Trees))
	for ti, t := range a.Trees {
		label, err := t.predict(x)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", ti, err)
		}
		votes[ti] = label
	}
	return majority(votes), nil
}

func (t ArtifactTree) predict(x []float64) (int, error) {
	n := len(t.Nodes)
	node := 0
	for steps := 0; steps <= n; steps++ {
		if node < 0 || node >= n {
			return 0, fmt.Errorf("%w: node index %d outside tree of %d nodes", model.ErrModel, node, n)
		}
		nd := t.Nodes[node]
		if nd.Feature == LeafSentinel {
			return nd.Class, nil
		}
		if nd.Feature < 0 || nd.Feature >= len(x) {
			return 0, fmt.Errorf("%w: node %d uses feature %d outside input of %d", model.ErrModel, node, nd.Feature, len(x))
		}
		if x[nd.Feature] <= nd.Threshold {
			node = nd.Left
		} else {
			node = nd.Right
		}
	}
	return 0, fmt.Errorf("%w: traversal did not reach a leaf within %d steps", model.ErrModel, n)
}

// SaveArtifact gob-encodes a to w.
func SaveArtifact(w io.Writer, a *Artifact) error {
	return gob.NewEncoder(w).Encode(a)
}

// WriteArtifactFile writes a to path through a temporary file.
func WriteArtifactFile(path string, a *Artifact) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := SaveArtifact(tmp, a); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadArtifact decodes an artifact from r and checks its format.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: failed to decode artifact: %v", model.ErrModel, err)
	}
	if a.Format != ArtifactFormat {
		return nil, fmt.Errorf("%w: unsupported artifact format '%s'", model.ErrModel, a.Format)
	}
	if a.Features != features.VectorWidth {
		return nil, fmt.Errorf("%w: artifact trained on %d features, model expects %d", model.ErrModel, a.Features, features.VectorWidth)
	}
	return &a, nil
}

// LoadArtifact reads an artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open artifact: %v", model.ErrModel, err)
	}
	defer f.Close()
	return ReadArtifact(f)
}

// ArtifactClassifier standardizes each vector and runs the artifact.
type ArtifactClassifier struct {
	artifact *Artifact
	scaler   *Scaler
}

// NewArtifactClassifier pairs an artifact with the scaler it was trained with.
func NewArtifactClassifier(a *Artifact, s *Scaler) (*ArtifactClassifier, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &ArtifactClassifier{artifact: a, scaler: s}, nil
}

// Predict implements Classifier.
func (c *ArtifactClassifier) Predict(v features.Vector) (int, error) {
	x, err := c.scaler.Transform(v)
	if err != nil {
		return 0, err
	}
	return c.artifact.Predict(x)
}
