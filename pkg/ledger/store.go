package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/puntosalud/vitaledger/pkg/common/logger"
)

// Store owns the local working copy of the ledger. The file is treated as
// exclusively owned by this process for the duration of each read-modify-write
// cycle; the remote copy is the cross-process shared resource and is handled
// by the synchronizer.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// EnsureExists materializes an empty canonical ledger when no local artifact
// exists yet. This is the bootstrap case, not an error.
func (s *Store) EnsureExists() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	return s.Rewrite(nil)
}

// Load reads every row of the local ledger. Content that does not conform to
// the canonical schema is never surfaced as a hard failure: the artifact is
// reinitialized to the empty canonical ledger and recovered=true tells the
// caller that sync did not bring fresh data. I/O faults do propagate.
func (s *Store) Load() (records []Record, recovered bool, err error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		logger.Log.WithError(err).Warn("ledger unreadable, reinitializing empty canonical ledger")
		return nil, true, s.Rewrite(nil)
	}
	if len(rows) == 0 {
		logger.Log.Warn("ledger empty, reinitializing empty canonical ledger")
		return nil, true, s.Rewrite(nil)
	}

	header := rows[0]
	out := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := reconcile(header, row)
		if err != nil {
			logger.Log.WithError(err).WithField("row", i+2).
				Warn("ledger row does not conform to schema, reinitializing empty canonical ledger")
			return nil, true, s.Rewrite(nil)
		}
		out = append(out, rec)
	}
	return out, false, nil
}

// Append adds one record. Rows already flagged deactivated are purged on the
// way through (the caller gated the deactivation in a prior step), text fields
// are sanitized, and the artifact is replaced atomically so a concurrent local
// reader never sees a partial file. Purged keys are recorded in the purge
// marker sidecar so the next sync removes them from the remote copy instead of
// resurrecting them from it.
func (s *Store) Append(rec Record) error {
	existing, _, err := s.Load()
	if err != nil {
		return err
	}

	kept := existing[:0]
	var purged []Key
	for _, r := range existing {
		if r.Status == StatusDeactivated {
			purged = append(purged, r.Key())
			continue
		}
		kept = append(kept, r)
	}

	kept = append(kept, sanitize(rec))
	if err := s.Rewrite(kept); err != nil {
		return err
	}

	if len(purged) > 0 {
		if err := s.recordPurged(purged); err != nil {
			return err
		}
		logger.Log.WithField("rows", len(purged)).Info("purged deactivated ledger rows")
	}
	return nil
}

// MarkDeactivated soft-deletes the rows matching keys. The rows stay in the
// artifact until a later append purges them, so an accidental deactivation is
// reversible by editing the status back before any write lands.
func (s *Store) MarkDeactivated(keys []Key) (int, error) {
	records, _, err := s.Load()
	if err != nil {
		return 0, err
	}

	wanted := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}

	changed := 0
	for i := range records {
		if _, ok := wanted[records[i].Key()]; ok && records[i].Status != StatusDeactivated {
			records[i].Status = StatusDeactivated
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.Rewrite(records)
}

// SetNotified flips the notified flag to 1 for every row of the patient. The
// notification unit is the patient, not the single observation, and the call
// is idempotent.
func (s *Store) SetNotified(patientID string) (int, error) {
	records, _, err := s.Load()
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range records {
		if records[i].PatientID == patientID && !records[i].Notified {
			records[i].Notified = true
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.Rewrite(records)
}

// PatientHistory returns the patient's rows sorted by timestamp ascending.
// This is the tabular extract handed to the notification collaborator.
func (s *Store) PatientHistory(patientID string) ([]Record, error) {
	records, _, err := s.Load()
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, r := range records {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// purgePath is the sidecar listing rows purged locally but not yet removed
// from the remote copy.
func (s *Store) purgePath() string {
	return s.path + ".purged"
}

func (s *Store) recordPurged(keys []Key) error {
	f, err := os.OpenFile(s.purgePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("recording purged rows: %w", err)
	}
	writer := csv.NewWriter(f)
	for _, k := range keys {
		if err := writer.Write([]string{k.Timestamp, k.PatientID}); err != nil {
			f.Close()
			return fmt.Errorf("recording purged rows: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("recording purged rows: %w", err)
	}
	return f.Close()
}

// PurgedKeys returns the rows purged locally whose removal has not yet reached
// the remote ledger. An absent sidecar means nothing is pending.
func (s *Store) PurgedKeys() ([]Key, error) {
	f, err := os.Open(s.purgePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading purge markers: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading purge markers: %w", err)
	}
	keys := make([]Key, 0, len(rows))
	for _, row := range rows {
		if len(row) == 2 {
			keys = append(keys, Key{Timestamp: row[0], PatientID: row[1]})
		}
	}
	return keys, nil
}

// ClearPurged drops the purge markers once the removals landed remotely.
func (s *Store) ClearPurged() error {
	if err := os.Remove(s.purgePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing purge markers: %w", err)
	}
	return nil
}

// Rewrite replaces the artifact with the canonical rendering of records using
// write-temp-then-rename semantics.
func (s *Store) Rewrite(records []Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpName := tmp.Name()

	writer := csv.NewWriter(tmp)
	if err := writer.Write(Columns()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing ledger header: %w", err)
	}
	for _, r := range records {
		if err := writer.Write(toRow(sanitize(r))); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing ledger row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp ledger: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
