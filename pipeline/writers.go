package pipeline

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

// CSVWriter writes records to CSV.
type CSVWriter struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

var csvHeader = []string{
	"id", "title", "category", "price", "promo_price", "price_per_unit", "unit",
	"image", "link", "available", "promo_start", "promo_end", "source",
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		path:   filename,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends products to the CSV output.
func (cw *CSVWriter) Write(products []*models.Product) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, p := range products {
		record := []string{
			p.ID,
			p.Title,
			p.Category,
			formatPrice(&p.Price),
			formatPrice(p.PromoPrice),
			formatPrice(p.PricePerUnit),
			p.Unit,
			p.Image,
			p.Link,
			strconv.FormatBool(p.Available),
			deref(p.PromoStart),
			deref(p.PromoEnd),
			p.Source,
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.path)
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter streams products into a single indented JSON array.
type JSONWriter struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	count  int
	closed bool
	mu     sync.Mutex
}

// NewJSONWriter initialises the JSON writer and opens the array.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	if _, err := buffer.WriteString("["); err != nil {
		f.Close()
		return nil, fmt.Errorf("write json array start: %w", err)
	}
	return &JSONWriter{
		path:   filename,
		file:   f,
		writer: buffer,
	}, nil
}

// Write appends products as array elements.
func (jw *JSONWriter) Write(products []*models.Product) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, p := range products {
		data, err := json.MarshalIndent(p, "  ", "  ")
		if err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		sep := ",\n  "
		if jw.count == 0 {
			sep = "\n  "
		}
		if _, err := jw.writer.WriteString(sep); err != nil {
			return fmt.Errorf("write json record: %w", err)
		}
		if _, err := jw.writer.Write(data); err != nil {
			return fmt.Errorf("write json record: %w", err)
		}
		jw.count++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close terminates the array, flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return nil
	}
	jw.closed = true

	end := "\n]\n"
	if jw.count == 0 {
		end = "]\n"
	}
	if _, err := jw.writer.WriteString(end); err != nil {
		jw.file.Close()
		return fmt.Errorf("write json array end: %w", err)
	}
	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the closed file holds a well-formed JSON array.
func (jw *JSONWriter) Validate() error {
	data, err := os.ReadFile(jw.path)
	if err != nil {
		return fmt.Errorf("read json file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("json file is empty")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("json file is not an array: %w", err)
	}
	return nil
}

// outputPaths lists the files format produces for dir/<name>.
func outputPaths(format, dir, name string) ([]string, error) {
	jsonPath := filepath.Join(dir, name+".json")
	csvPath := filepath.Join(dir, name+".csv")
	switch format {
	case "", "json":
		return []string{jsonPath}, nil
	case "csv":
		return []string{csvPath}, nil
	case "dual":
		return []string{jsonPath, csvPath}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// RemoveOutput deletes the files format would write for dir/<name>.
// Missing files are not an error.
func RemoveOutput(format, dir, name string) error {
	paths, err := outputPaths(format, dir, name)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewWriter creates the writer for format ("json", "csv" or "dual") rooted at
// dir/<name>. It returns the primary output path.
func NewWriter(format, dir, name string) (OutputWriter, string, error) {
	jsonPath := filepath.Join(dir, name+".json")
	csvPath := filepath.Join(dir, name+".csv")
	switch format {
	case "", "json":
		w, err := NewJSONWriter(jsonPath)
		return w, jsonPath, err
	case "csv":
		w, err := NewCSVWriter(csvPath)
		return w, csvPath, err
	case "dual":
		w, err := NewDualWriter(csvPath, jsonPath)
		return w, jsonPath, err
	default:
		return nil, "", fmt.Errorf("unsupported format: %s", format)
	}
}

// WriteOutput writes products through a fresh writer and validates the result.
func WriteOutput(format, dir, name string, products []models.Product) (string, error) {
	w, path, err := NewWriter(format, dir, name)
	if err != nil {
		return "", err
	}
	ptrs := make([]*models.Product, len(products))
	for i := range products {
		ptrs[i] = &products[i]
	}
	if err := w.Write(ptrs); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	if err := w.Validate(); err != nil {
		return "", err
	}
	return path, nil
}

func formatPrice(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
