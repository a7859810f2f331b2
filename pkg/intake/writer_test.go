package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/puntosalud/vitaledger/pkg/ledger"
	"github.com/puntosalud/vitaledger/pkg/ledgersync"
)

type fakeUploader struct {
	uploads []string
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, _, remotePath string) error {
	u.uploads = append(u.uploads, remotePath)
	return u.err
}

type fakeSyncer struct {
	calls  int
	result ledgersync.Result
	err    error
}

func (s *fakeSyncer) Sync(_ context.Context) (ledgersync.Result, error) {
	s.calls++
	return s.result, s.err
}

func testWriter(t *testing.T, uploader *fakeUploader, syncer *fakeSyncer) (*Writer, *ledger.Store) {
	t.Helper()
	dir := t.TempDir()
	paths := ledgersync.Paths{
		LocalLedger:  filepath.Join(dir, "signos_vitales.csv"),
		LocalECGDir:  filepath.Join(dir, "ecgs"),
		RemoteLedger: "/clinica/signos_vitales.csv",
		RemoteECGDir: "/clinica/ecgs",
	}
	store := ledger.NewStore(paths.LocalLedger)
	w := NewWriter(NewValidator(), store, uploader, syncer, paths)
	w.now = func() time.Time {
		ts, _ := time.Parse(ledger.TimeLayout, "2026-03-01 10:15:00")
		return ts
	}
	return w, store
}

func TestSubmitRejectsBeforeAnyIO(t *testing.T) {
	uploader := &fakeUploader{}
	syncer := &fakeSyncer{}
	w, store := testWriter(t, uploader, syncer)

	sub := validSubmission()
	sub.Temperature = 12

	outcome, rec, err := w.Submit(context.Background(), sub, []byte("pdf"))
	if outcome != OutcomeRejected {
		t.Fatalf("expected rejected, got %s", outcome)
	}
	if !IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if rec != nil {
		t.Fatal("rejected submission must not produce a record")
	}
	if syncer.calls != 0 || len(uploader.uploads) != 0 {
		t.Fatal("rejected submission must not touch the remote store")
	}
	if _, statErr := os.Stat(store.Path()); !os.IsNotExist(statErr) {
		t.Fatal("rejected submission must not create the ledger")
	}
}

func TestSubmitCommittedWithoutAttachment(t *testing.T) {
	uploader := &fakeUploader{}
	syncer := &fakeSyncer{}
	w, store := testWriter(t, uploader, syncer)

	outcome, rec, err := w.Submit(context.Background(), validSubmission(), nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if outcome != OutcomeCommitted {
		t.Fatalf("expected committed, got %s", outcome)
	}
	if rec.Status != ledger.StatusNoAttachment {
		t.Fatalf("expected status N, got %s", rec.Status)
	}
	if syncer.calls != 1 {
		t.Fatalf("expected one sync pass, got %d", syncer.calls)
	}

	records, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].PatientID != "5512345678" {
		t.Fatalf("unexpected ledger contents: %+v", records)
	}
}

func TestSubmitCommittedWithAttachment(t *testing.T) {
	uploader := &fakeUploader{}
	syncer := &fakeSyncer{}
	w, _ := testWriter(t, uploader, syncer)

	outcome, rec, err := w.Submit(context.Background(), validSubmission(), []byte("%PDF fake"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if outcome != OutcomeCommitted {
		t.Fatalf("expected committed, got %s", outcome)
	}
	if rec.Status != ledger.StatusWithAttachment {
		t.Fatalf("expected status A, got %s", rec.Status)
	}
	if len(uploader.uploads) != 1 || uploader.uploads[0] != "/clinica/ecgs/"+rec.AttachmentName() {
		t.Fatalf("unexpected uploads: %v", uploader.uploads)
	}

	// The ECG stays locally for the next sync pass to reuse.
	data, err := os.ReadFile(filepath.Join(w.paths.LocalECGDir, rec.AttachmentName()))
	if err != nil {
		t.Fatalf("local attachment missing: %v", err)
	}
	if string(data) != "%PDF fake" {
		t.Fatal("local attachment content mismatch")
	}
}

func TestSubmitAttachmentUploadFailureIsPartial(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("connection reset")}
	syncer := &fakeSyncer{}
	w, store := testWriter(t, uploader, syncer)

	outcome, rec, err := w.Submit(context.Background(), validSubmission(), []byte("pdf"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if outcome != OutcomePartiallyCommitted {
		t.Fatalf("expected partial, got %s", outcome)
	}
	if rec.Status != ledger.StatusAttachmentFailed {
		t.Fatalf("expected status E, got %s", rec.Status)
	}

	// The failed state is persisted so the next sync pass can repair it.
	records, _, loadErr := store.Load()
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if len(records) != 1 || records[0].Status != ledger.StatusAttachmentFailed {
		t.Fatalf("unexpected ledger contents: %+v", records)
	}
}

func TestSubmitFailedWhenLocalWriteFails(t *testing.T) {
	uploader := &fakeUploader{}
	syncer := &fakeSyncer{}
	w, _ := testWriter(t, uploader, syncer)

	// Point the store at a directory so the ledger rewrite cannot land.
	w.store = ledger.NewStore(t.TempDir())

	outcome, rec, err := w.Submit(context.Background(), validSubmission(), nil)
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}
	if err == nil {
		t.Fatal("a failed write must surface its cause")
	}
	if rec != nil {
		t.Fatal("nothing was recorded, no record must be returned")
	}
	if syncer.calls != 0 {
		t.Fatalf("failed write must not trigger a sync, got %d calls", syncer.calls)
	}
}

func TestSubmitSyncFailureIsPartial(t *testing.T) {
	uploader := &fakeUploader{}
	syncer := &fakeSyncer{err: errors.New("no route to host")}
	w, store := testWriter(t, uploader, syncer)

	outcome, _, err := w.Submit(context.Background(), validSubmission(), nil)
	if err != nil {
		t.Fatalf("sync failure must not surface as an error: %v", err)
	}
	if outcome != OutcomePartiallyCommitted {
		t.Fatalf("expected partial, got %s", outcome)
	}

	// The row is safe locally despite the failed pass.
	records, _, loadErr := store.Load()
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if len(records) != 1 {
		t.Fatalf("expected one local row, got %d", len(records))
	}
}
