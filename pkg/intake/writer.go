package intake

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/ledger"
	"github.com/puntosalud/vitaledger/pkg/ledgersync"
	"github.com/puntosalud/vitaledger/pkg/observability/metrics"
)

// Outcome is the terminal state of one submission. It is the only thing the
// UI collaborator sees; raw transport errors never cross this boundary.
type Outcome string

const (
	// OutcomeCommitted: ledger and attachment (when present) both reached the
	// remote store.
	OutcomeCommitted Outcome = "committed"
	// OutcomePartiallyCommitted: local persistence succeeded but something
	// did not reach the remote store; the next sync pass repairs it.
	OutcomePartiallyCommitted Outcome = "partially_committed"
	// OutcomeRejected: validation failed before any I/O occurred.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed: the local ledger write itself failed; the observation is
	// not recorded anywhere.
	OutcomeFailed Outcome = "failed"
)

// Uploader is the slice of the remote channel the writer needs for the
// attachment phase.
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// Syncer runs the full reconciliation pass after the ledger append.
type Syncer interface {
	Sync(ctx context.Context) (ledgersync.Result, error)
}

// Writer drives one submission end to end: attachment persist, attachment
// upload, ledger append, full sync.
type Writer struct {
	validator *Validator
	store     *ledger.Store
	uploader  Uploader
	syncer    Syncer
	paths     ledgersync.Paths
	now       func() time.Time
}

func NewWriter(validator *Validator, store *ledger.Store, uploader Uploader, syncer Syncer, paths ledgersync.Paths) *Writer {
	return &Writer{
		validator: validator,
		store:     store,
		uploader:  uploader,
		syncer:    syncer,
		paths:     paths,
		now:       time.Now,
	}
}

// Submit records one observation. attachment is the raw ECG PDF, nil when the
// submission has none.
func (w *Writer) Submit(ctx context.Context, sub Submission, attachment []byte) (Outcome, *ledger.Record, error) {
	if err := w.validator.Validate(&sub); err != nil {
		metrics.IncRecordRejected()
		return OutcomeRejected, nil, err
	}

	rec := ledger.Record{
		Timestamp:        w.now().Truncate(time.Second),
		PatientID:        sub.PatientID,
		PatientName:      sub.PatientName,
		AssetTag:         sub.AssetTag,
		BloodPressure:    sub.BloodPressure,
		Temperature:      sub.Temperature,
		OxygenSaturation: sub.OxygenSaturation,
		Status:           ledger.StatusNoAttachment,
	}

	attachmentRemote := true
	if attachment != nil {
		rec.Status = w.persistAndUploadAttachment(ctx, rec, attachment)
		attachmentRemote = rec.Status == ledger.StatusWithAttachment
	}

	if err := w.store.Append(rec); err != nil {
		metrics.IncRecordFailed()
		return OutcomeFailed, nil, err
	}

	if _, err := w.syncer.Sync(ctx); err != nil {
		logger.Log.WithError(err).Warn("record persisted locally, remote sync failed")
		metrics.IncRecordPartial()
		return OutcomePartiallyCommitted, &rec, nil
	}

	if !attachmentRemote {
		// The row is on the remote ledger but its ECG is not; the status
		// column says so and the next sync re-attempts the upload.
		metrics.IncRecordPartial()
		return OutcomePartiallyCommitted, &rec, nil
	}

	metrics.IncRecordCommitted()
	return OutcomeCommitted, &rec, nil
}

// persistAndUploadAttachment writes the ECG under its deterministic name and
// pushes it to the remote store. An upload failure is recorded as the explicit
// attachment-failed status, never silently downgraded to "no attachment".
func (w *Writer) persistAndUploadAttachment(ctx context.Context, rec ledger.Record, attachment []byte) ledger.Status {
	name := rec.AttachmentName()
	localPath := filepath.Join(w.paths.LocalECGDir, name)

	if err := os.MkdirAll(w.paths.LocalECGDir, 0o755); err != nil {
		logger.Log.WithError(err).Error("failed to create local attachment directory")
		return ledger.StatusAttachmentFailed
	}
	if err := os.WriteFile(localPath, attachment, 0o644); err != nil {
		logger.Log.WithError(err).WithField("attachment", name).Error("failed to persist attachment locally")
		return ledger.StatusAttachmentFailed
	}

	remotePath := path.Join(w.paths.RemoteECGDir, name)
	if err := w.uploader.Upload(ctx, localPath, remotePath); err != nil {
		logger.Log.WithError(err).WithField("attachment", name).
			Warn("attachment upload failed, marking record for repair")
		return ledger.StatusAttachmentFailed
	}
	return ledger.StatusWithAttachment
}
