package pipeline

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aluiziolira/go-scrape-phones/models"
)

// DualWriter outputs to both CSV and JSON Lines.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter creates a writer staging both files.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Discard()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes rows to both outputs.
func (dw *DualWriter) Write(rows []*models.Row) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(rows); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	if err := dw.jsonWriter.Write(rows); err != nil {
		return fmt.Errorf("json write: %w", err)
	}
	return nil
}

// Close stages both files and then publishes them as a pair: when either one
// cannot be put in place, both destinations keep their previous content.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.stage(); err != nil {
		dw.jsonWriter.Discard()
		return fmt.Errorf("csv close: %w", err)
	}
	if err := dw.jsonWriter.stage(); err != nil {
		dw.csvWriter.file.remove()
		return fmt.Errorf("json close: %w", err)
	}
	return publishPair(dw.csvWriter.file, dw.jsonWriter.file)
}

// publishPair renames two prepared files into place. The first destination is
// moved aside beforehand and restored if the second rename fails.
func publishPair(first, second *atomicFile) error {
	backup := first.tmp.Name() + ".prev"
	hadPrevious := true
	if err := os.Rename(first.dest, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			first.remove()
			second.remove()
			return fmt.Errorf("back up %q: %w", first.dest, err)
		}
		hadPrevious = false
	}
	restore := func() {
		if hadPrevious {
			os.Rename(backup, first.dest)
			return
		}
		os.Remove(first.dest)
	}

	if err := first.publish(); err != nil {
		second.remove()
		restore()
		return err
	}
	if err := second.publish(); err != nil {
		restore()
		return err
	}
	if hadPrevious {
		os.Remove(backup)
	}
	return nil
}

// Discard drops both staged files.
func (dw *DualWriter) Discard() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return errors.Join(dw.csvWriter.Discard(), dw.jsonWriter.Discard())
}

// Validate validates both outputs.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.csvWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("csv: %w", err))
	}
	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("json: %w", err))
	}
	return errors.Join(errs...)
}
