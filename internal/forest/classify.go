package forest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"Go2NetSentinel/internal/features"
	"Go2NetSentinel/internal/model"
)

// Result pairs a record with its predicted label.
type Result struct {
	Record features.Record
	Label  int
}

// Malicious reports whether the record was classified as malicious.
func (r Result) Malicious() bool { return r.Label == model.LabelMalicious }

// ClassifyFile reads a feature table and predicts a label for every row.
// A label column in the table is ignored.
func ClassifyFile(ctx context.Context, c Classifier, path string) ([]Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open table: %v", model.ErrInput, err)
	}
	defer f.Close()

	reader, err := features.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var results []Result
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		label, err := c.Predict(rec.Vector())
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, rec.ID, err)
		}
		results = append(results, Result{Record: rec, Label: label})
	}
}
