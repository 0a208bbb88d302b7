// Package checkpoint persists run snapshots so a crashed or stopped run can
// be resumed. Records are plain JSON files gated by a schema on load, so a
// corrupt or foreign file degrades to a log line instead of a crash.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// SchemaVersion is the only record version this loader accepts.
const SchemaVersion = 1

// Record is one run snapshot.
type Record struct {
	ID             string            `json:"id"`
	Timestamp      string            `json:"timestamp"`
	Objective      string            `json:"objective"`
	Iteration      int               `json:"iteration"`
	CompletedSteps []string          `json:"completed_steps"`
	PendingSteps   []string          `json:"pending_steps"`
	ProjectPath    string            `json:"project_path"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SchemaVersion  int               `json:"schema_version"`
}

const recordSchema = `{
  "type": "object",
  "required": ["id", "timestamp", "objective", "iteration", "schema_version"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "minLength": 1},
    "objective": {"type": "string"},
    "iteration": {"type": "integer", "minimum": 0},
    "completed_steps": {"type": ["array", "null"], "items": {"type": "string"}},
    "pending_steps": {"type": ["array", "null"], "items": {"type": "string"}},
    "project_path": {"type": "string"},
    "metadata": {"type": ["object", "null"]},
    "schema_version": {"type": "integer"}
  }
}`

// Store reads and writes checkpoint files in one directory.
type Store struct {
	dir    string
	keep   int
	schema *jsonschema.Schema
	logger *zap.Logger
}

// New builds a store rooted at dir, retaining the newest keep records.
func New(dir string, keep int, logger *zap.Logger) (*Store, error) {
	if keep <= 0 {
		keep = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("checkpoint.json", strings.NewReader(recordSchema)); err != nil {
		return nil, fmt.Errorf("add checkpoint schema: %w", err)
	}
	schema, err := c.Compile("checkpoint.json")
	if err != nil {
		return nil, fmt.Errorf("compile checkpoint schema: %w", err)
	}

	return &Store{dir: dir, keep: keep, schema: schema, logger: logger.Named("checkpoint")}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, "checkpoint_"+id+".json")
}

// Save writes a record atomically and trims the directory to the retention
// limit. The record's ID and timestamp are assigned when empty.
func (s *Store) Save(rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	rec.SchemaVersion = SchemaVersion

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "checkpoint_*.tmp")
	if err != nil {
		return Record{}, fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Record{}, fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Record{}, fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Record{}, fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path(rec.ID)); err != nil {
		os.Remove(tmpName)
		return Record{}, fmt.Errorf("rename checkpoint: %w", err)
	}

	s.trim()
	return rec, nil
}

// trim deletes the oldest records beyond the retention limit. ULIDs sort
// lexicographically by creation time, so name order is age order.
func (s *Store) trim() {
	ids := s.ids()
	if len(ids) <= s.keep {
		return
	}
	for _, id := range ids[:len(ids)-s.keep] {
		if err := os.Remove(s.path(id)); err != nil {
			s.logger.Warn("trim failed", zap.String("id", id), zap.Error(err))
		}
	}
}

// ids lists checkpoint IDs on disk, oldest first.
func (s *Store) ids() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "checkpoint_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint_"), ".json"))
	}
	sort.Strings(ids)
	return ids
}

// load reads and validates one record. Invalid records return an error; the
// callers decide whether that is fatal.
func (s *Store) load(id string) (Record, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return Record{}, fmt.Errorf("read checkpoint %s: %w", id, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("parse checkpoint %s: %w", id, err)
	}
	if err := s.schema.Validate(raw); err != nil {
		return Record{}, fmt.Errorf("checkpoint %s fails schema: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	if rec.SchemaVersion != SchemaVersion {
		return Record{}, fmt.Errorf("checkpoint %s has schema_version %d, want %d", id, rec.SchemaVersion, SchemaVersion)
	}
	return rec, nil
}

// ByID returns one validated record.
func (s *Store) ByID(id string) (Record, error) {
	return s.load(id)
}

// Latest returns the newest valid record. ok is false when none exists.
func (s *Store) Latest() (Record, bool) {
	ids := s.ids()
	for i := len(ids) - 1; i >= 0; i-- {
		rec, err := s.load(ids[i])
		if err != nil {
			s.logger.Warn("skipping invalid checkpoint", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		return rec, true
	}
	return Record{}, false
}

// List returns all valid records, newest first. Invalid files are skipped
// with a log line.
func (s *Store) List() []Record {
	ids := s.ids()
	out := make([]Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		rec, err := s.load(ids[i])
		if err != nil {
			s.logger.Warn("skipping invalid checkpoint", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Delete removes one record.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}

// Clear removes all records.
func (s *Store) Clear() error {
	for _, id := range s.ids() {
		if err := os.Remove(s.path(id)); err != nil {
			return fmt.Errorf("clear checkpoint %s: %w", id, err)
		}
	}
	return nil
}
