package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-scrape-phones/models"
)

var errWriterDone = errors.New("writer already closed")

// atomicFile stages output in a temporary file next to the destination and
// renames it into place on commit.
type atomicFile struct {
	dest string
	tmp  *os.File
	done bool
}

func newAtomicFile(dest string) (*atomicFile, error) {
	if err := ensureDir(dest); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %q: %w", dest, err)
	}
	return &atomicFile{dest: dest, tmp: tmp}, nil
}

func (a *atomicFile) commit() error {
	if err := a.prepare(); err != nil {
		return err
	}
	return a.publish()
}

// prepare syncs and closes the staged file. After it returns nil the file is
// ready to publish and can no longer be written.
func (a *atomicFile) prepare() error {
	if a.done {
		return errWriterDone
	}
	a.done = true
	if err := a.tmp.Chmod(0o644); err != nil {
		a.cleanup()
		return fmt.Errorf("chmod %q: %w", a.tmp.Name(), err)
	}
	if err := a.tmp.Sync(); err != nil {
		a.cleanup()
		return fmt.Errorf("sync %q: %w", a.tmp.Name(), err)
	}
	if err := a.tmp.Close(); err != nil {
		os.Remove(a.tmp.Name())
		return fmt.Errorf("close %q: %w", a.tmp.Name(), err)
	}
	return nil
}

// publish renames a prepared file over the destination.
func (a *atomicFile) publish() error {
	if err := os.Rename(a.tmp.Name(), a.dest); err != nil {
		a.remove()
		return fmt.Errorf("replace %q: %w", a.dest, err)
	}
	return nil
}

// remove deletes a prepared file that will not be published.
func (a *atomicFile) remove() {
	os.Remove(a.tmp.Name())
}

func (a *atomicFile) discard() error {
	if a.done {
		return nil
	}
	a.done = true
	return a.cleanup()
}

func (a *atomicFile) cleanup() error {
	a.tmp.Close()
	if err := os.Remove(a.tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", a.tmp.Name(), err)
	}
	return nil
}

// CSVWriter writes rows to CSV using the fixed output column order.
type CSVWriter struct {
	file   *atomicFile
	writer *csv.Writer
	mu     sync.Mutex
	rows   int
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	f, err := newAtomicFile(filename)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(f.tmp)
	if err := writer.Write(models.Columns); err != nil {
		f.discard()
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends rows to the staged CSV output.
func (cw *CSVWriter) Write(rows []*models.Row) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.file.done {
		return errWriterDone
	}

	for _, row := range rows {
		if err := cw.writer.Write(row.Record()); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.rows++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and moves the file into its destination.
func (cw *CSVWriter) Close() error {
	if err := cw.stage(); err != nil {
		return err
	}
	return cw.file.publish()
}

func (cw *CSVWriter) stage() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.discard()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.prepare()
}

// Discard removes the staged file, leaving the destination untouched.
func (cw *CSVWriter) Discard() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.file.discard()
}

// Validate ensures at least one row besides the header was written.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.rows == 0 {
		return fmt.Errorf("csv output has no records")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *atomicFile
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
	rows    int
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := newAtomicFile(filename)
	if err != nil {
		return nil, err
	}

	buffer := bufio.NewWriter(f.tmp)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends rows in JSONL format.
func (jw *JSONWriter) Write(rows []*models.Row) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.file.done {
		return errWriterDone
	}

	for _, row := range rows {
		if err := jw.encoder.Encode(row); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		jw.rows++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and moves the file into its destination.
func (jw *JSONWriter) Close() error {
	if err := jw.stage(); err != nil {
		return err
	}
	return jw.file.publish()
}

func (jw *JSONWriter) stage() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.discard()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.prepare()
}

// Discard removes the staged file.
func (jw *JSONWriter) Discard() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.file.discard()
}

// Validate ensures the JSON output has data.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.rows == 0 {
		return fmt.Errorf("json output has no records")
	}
	return nil
}

// NewWriter picks the writer for format ("csv", "json" or "dual"). For dual
// output the JSON file sits next to filename with a .jsonl extension.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "", "csv":
		return NewCSVWriter(filename)
	case "json":
		return NewJSONWriter(filename)
	case "dual":
		return NewDualWriter(filename, JSONSibling(filename))
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// JSONSibling returns filename with its extension replaced by .jsonl.
func JSONSibling(filename string) string {
	ext := filepath.Ext(filename)
	return filename[:len(filename)-len(ext)] + ".jsonl"
}

// ReadCSV loads every row of a CSV produced by CSVWriter. The header decides
// the column layout, so files holding only the extraction-stage subset load
// with category_id 0 and empty source_data.
func ReadCSV(filename string) ([]*models.Row, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv file %q is empty", filename)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var rows []*models.Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row, err := models.RowFromRecord(header, record)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
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
