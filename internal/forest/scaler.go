package forest

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"Go2NetSentinel/internal/features"
	"Go2NetSentinel/internal/model"
)

// Scaler holds the per-feature standardization parameters, in vector order.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// LoadScaler reads scaler parameters from a JSON file.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read scaler: %v", model.ErrModel, err)
	}
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: failed to decode scaler: %v", model.ErrModel, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the parameter count and that every scale is positive.
func (s *Scaler) Validate() error {
	if len(s.Mean) != features.VectorWidth || len(s.Scale) != features.VectorWidth {
		return fmt.Errorf("%w: scaler has %d means and %d scales, model expects %d features",
			model.ErrModel, len(s.Mean), len(s.Scale), features.VectorWidth)
	}
	for i := range s.Scale {
		if math.IsNaN(s.Mean[i]) || math.IsInf(s.Mean[i], 0) {
			return fmt.Errorf("%w: scaler mean %d (%s) is not finite", model.ErrModel, i, features.VectorColumns[i])
		}
		if !(s.Scale[i] > 0) || math.IsInf(s.Scale[i], 0) {
			return fmt.Errorf("%w: scaler scale %d (%s) must be positive, got %v", model.ErrModel, i, features.VectorColumns[i], s.Scale[i])
		}
	}
	return nil
}

// Transform standardizes v as (v - mean) / scale.
func (s *Scaler) Transform(v features.Vector) ([]float64, error) {
	if len(s.Mean) != len(v) || len(s.Scale) != len(v) {
		return nil, fmt.Errorf("%w: scaler width %d does not match vector width %d", model.ErrModel, len(s.Mean), len(v))
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = (x - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}
