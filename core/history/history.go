// Package history implements the HistoryStore collaborator (spec §6):
// persisting the audit trail of one planning/execution event
// ({uuid, changes, started_at, finished_at?, error?}) to durable
// storage, the way core/plan's Serialize/Deserialize persist plan.json.
package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/kaizengarden/sdcadm/api"
)

// DefaultDir is where history records live when a caller doesn't
// override it: one JSON file per record, named by its uuid.
const DefaultDir = "/var/sdcadm/history"

// FileStore is the on-disk api.HistoryStore: every record is its own
// 4-space-indented JSON file, matching plan.json's on-disk shape (spec
// §6) so an operator can inspect either with the same expectations.
type FileStore struct {
	// Dir is the directory records are written to. Defaults to
	// DefaultDir.
	Dir string
}

func (s FileStore) dir() string {
	if s.Dir != "" {
		return s.Dir
	}
	return DefaultDir
}

func (s FileStore) path(uuid string) string {
	return filepath.Join(s.dir(), uuid+".json")
}

// NewUUID generates the record id the caller stamps onto a fresh
// HistoryRecord before the first SaveHistory call.
func NewUUID() string { return uuid.NewString() }

// SaveHistory writes rec as a new file. It fails if a record with the
// same uuid already exists, since a given planning/execution event is
// recorded exactly once via Save and then amended via Update.
func (s FileStore) SaveHistory(ctx context.Context, rec api.HistoryRecord) error {
	if rec.UUID == "" {
		return api.NewValidationError("history record has no uuid")
	}
	path := s.path(rec.UUID)
	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return api.NewInternalError(err, "creating history directory %s", s.dir())
	}
	if _, err := os.Stat(path); err == nil {
		return api.NewInternalError(errors.AlreadyExistsf("history record %s", rec.UUID), "saving history record")
	}
	return s.write(path, rec)
}

// UpdateHistory overwrites an existing record, e.g. to attach
// FinishedAt and Error once execution concludes.
func (s FileStore) UpdateHistory(ctx context.Context, rec api.HistoryRecord) error {
	if rec.UUID == "" {
		return api.NewValidationError("history record has no uuid")
	}
	return s.write(s.path(rec.UUID), rec)
}

func (s FileStore) write(path string, rec api.HistoryRecord) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return api.NewInternalError(err, "marshalling history record %s", rec.UUID)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return api.NewInternalError(err, "writing history record %s", path)
	}
	return nil
}

// Load reads back a single record, for operator-facing history listing
// (spec GLOSSARY "History record" is read-facing as well as write-facing).
func (s FileStore) Load(uuid string) (api.HistoryRecord, error) {
	data, err := os.ReadFile(s.path(uuid))
	if err != nil {
		return api.HistoryRecord{}, api.NewInternalError(err, "reading history record %s", uuid)
	}
	var rec api.HistoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return api.HistoryRecord{}, api.NewInternalError(err, "unmarshalling history record %s", uuid)
	}
	return rec, nil
}
