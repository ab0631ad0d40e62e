package forest

import (
	"fmt"
	"sort"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
)

// BackendFactory builds a classifier from the model configuration.
type BackendFactory func(cfg config.ModelConfig) (Classifier, error)

// registry holds the mapping of backend names to their factory functions.
var registry = make(map[string]BackendFactory)

// RegisterBackend registers a classifier backend under name.
func RegisterBackend(name string, factory BackendFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("classifier backend '%s' already registered", name))
	}
	registry[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New loads the classifier selected by cfg.Backend.
func New(cfg config.ModelConfig) (Classifier, error) {
	factory, ok := registry[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: unknown classifier backend '%s'", model.ErrModel, cfg.Backend)
	}
	c, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating classifier backend '%s': %w", cfg.Backend, err)
	}
	return c, nil
}

func init() {
	RegisterBackend("tree", func(cfg config.ModelConfig) (Classifier, error) {
		return LoadForest(cfg.Path)
	})
	RegisterBackend("artifact", func(cfg config.ModelConfig) (Classifier, error) {
		a, err := LoadArtifact(cfg.Path)
		if err != nil {
			return nil, err
		}
		s, err := LoadScaler(cfg.ScalerPath)
		if err != nil {
			return nil, err
		}
		return NewArtifactClassifier(a, s)
	})
}
