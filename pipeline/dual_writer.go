package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

type namedWriter struct {
	format string
	w      OutputWriter
}

// FanoutWriter sends every batch to several writers, e.g. the JSON array
// consumers read plus a CSV copy for spreadsheets.
type FanoutWriter struct {
	writers []namedWriter
}

// NewDualWriter writes the same products to csvPath and jsonPath.
func NewDualWriter(csvPath, jsonPath string) (*FanoutWriter, error) {
	jw, err := NewJSONWriter(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("create json writer: %w", err)
	}
	cw, err := NewCSVWriter(csvPath)
	if err != nil {
		_ = jw.Close()
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	return &FanoutWriter{writers: []namedWriter{{"json", jw}, {"csv", cw}}}, nil
}

// Write stops at the first failing writer; the output is then invalid anyway.
func (f *FanoutWriter) Write(products []*models.Product) error {
	for _, nw := range f.writers {
		if err := nw.w.Write(products); err != nil {
			return fmt.Errorf("%s write: %w", nw.format, err)
		}
	}
	return nil
}

func (f *FanoutWriter) Close() error {
	return f.each("close", OutputWriter.Close)
}

func (f *FanoutWriter) Validate() error {
	return f.each("validate", OutputWriter.Validate)
}

func (f *FanoutWriter) each(op string, fn func(OutputWriter) error) error {
	var errs []error
	for _, nw := range f.writers {
		if err := fn(nw.w); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", nw.format, op, err))
		}
	}
	return errors.Join(errs...)
}
