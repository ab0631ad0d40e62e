// Package forest classifies feature vectors with a decision forest.
//
// Two backends are provided. The tree-array backend walks trees exported as
// parallel JSON arrays. The artifact backend runs a compiled forest whose
// thresholds live in standardized space and therefore needs the scaler the
// forest was trained with.
package forest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"Go2NetSentinel/internal/features"
	"Go2NetSentinel/internal/model"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Classifier predicts a label for one feature vector. Implementations are
// immutable after load and safe for concurrent use.
type Classifier interface {
	Predict(v features.Vector) (int, error)
}

//go:embed forest.schema.json
var schemaJSON []byte

const schemaURL = "https://go2netsentinel.local/schema/forest.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func forestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Forest is an ordered list of trees.
type Forest struct {
	Trees []Tree
}

// ParseForest decodes and validates a tree-array model.
func ParseForest(data []byte) (*Forest, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: model is not valid JSON: %v", model.ErrModel, err)
	}
	schema, err := forestSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: model does not match the tree-array schema: %v", model.ErrModel, err)
	}

	var trees []Tree
	if err := json.Unmarshal(data, &trees); err != nil {
		return nil, fmt.Errorf("%w: failed to decode trees: %v", model.ErrModel, err)
	}
	for i := range trees {
		if err := trees[i].Validate(); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &Forest{Trees: trees}, nil
}

// LoadForest reads a tree-array model from disk.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read model: %v", model.ErrModel, err)
	}
	return ParseForest(data)
}

// Predict returns the majority vote of the trees.
func (f *Forest) Predict(v features.Vector) (int, error) {
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("%w: forest has no trees", model.ErrModel)
	}
	votes := make([]int, len(f.Trees))
	for i := range f.Trees {
		label, err := f.Trees[i].Predict(&v)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		votes[i] = label
	}
	return majority(votes), nil
}

// majority returns the most frequent vote. Among equally frequent labels the
// one that appears first in votes wins.
func majority(votes []int) int {
	counts := make(map[int]int, 2)
	var order []int
	for _, v := range votes {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[best] {
			best = label
		}
	}
	return best
}
