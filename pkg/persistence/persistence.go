// Package persistence writes command reports and other values as JSON files.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	dm "github.com/andrej220/clusterexec/pkg/shared-models"
)

const (
	Indent = "    "
	Prefix = ""
)

var ErrReportNotFound = errors.New("report not found")

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter replaces the target in one rename, so readers never observe a
// half-written file.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !errors.Is(err, os.ErrNotExist) && !w.Overwrite {
		return os.ErrExist
	}
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

// WriteJSONToFile persists data as JSON to a destination using the provided Serializer and Writer.
func WriteJSONToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}
	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteJSON persists data as JSON to a file with default settings (overwrite enabled, 4-space indent).
func WriteJSON(data any, filename string) error {
	return WriteJSONToFile(data, filename, JSONSerializer{Prefix: Prefix, Indent: Indent}, FileWriter{Overwrite: true})
}

// ReportStore keeps one <id>.json file per command under Dir.
type ReportStore struct {
	Dir        string
	Serializer Serializer
	Writer     Writer

	mu sync.RWMutex
}

func NewReportStore(dir string) *ReportStore {
	return &ReportStore{
		Dir:        dir,
		Serializer: JSONSerializer{Prefix: Prefix, Indent: Indent},
		Writer:     FileWriter{Overwrite: true},
	}
}

func (s *ReportStore) Path(id uuid.UUID) string {
	return filepath.Join(s.Dir, id.String()+".json")
}

// Save writes rep, replacing an earlier report of the same command.
func (s *ReportStore) Save(rep dm.Report) error {
	if rep.ExecutionUID == uuid.Nil {
		return fmt.Errorf("save report: missing execution id: %w", os.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteJSONToFile(rep, s.Path(rep.ExecutionUID), s.Serializer, s.Writer)
}

func (s *ReportStore) Load(id uuid.UUID) (dm.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rep dm.Report
	raw, err := os.ReadFile(s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return rep, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	if err != nil {
		return rep, fmt.Errorf("read report %s: %w", id, err)
	}
	if err := json.Unmarshal(raw, &rep); err != nil {
		return rep, fmt.Errorf("decode report %s: %w", id, err)
	}
	return rep, nil
}
