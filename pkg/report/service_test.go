package report

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

type fakeDownloader struct {
	names   []string
	listErr error
	content map[string][]byte
}

func (d *fakeDownloader) List(_ context.Context, _ string) ([]string, error) {
	return d.names, d.listErr
}

func (d *fakeDownloader) Download(_ context.Context, remotePath, localPath string) error {
	data, ok := d.content[remotePath]
	if !ok {
		return errors.New("no such file")
	}
	return os.WriteFile(localPath, data, 0o644)
}

func row(ts, patientID string, status ledger.Status) ledger.Record {
	parsed, _ := time.Parse(ledger.TimeLayout, ts)
	return ledger.Record{
		Timestamp:        parsed,
		PatientID:        patientID,
		PatientName:      "Maria Lopez",
		BloodPressure:    "120/80",
		Temperature:      36.5,
		OxygenSaturation: 98,
		Status:           status,
	}
}

func testService(t *testing.T, downloader *fakeDownloader, records ...ledger.Record) *Service {
	t.Helper()
	store := ledger.NewStore(filepath.Join(t.TempDir(), "signos_vitales.csv"))
	if err := store.Rewrite(records); err != nil {
		t.Fatal(err)
	}
	paths := ledgersync.Paths{RemoteECGDir: "/clinica/ecgs"}
	return NewService(store, downloader, paths, nil)
}

func TestRecordsFiltersDeactivatedAndSortsNewestFirst(t *testing.T) {
	svc := testService(t, &fakeDownloader{},
		row("2026-03-01 10:00:00", "5512345678", ledger.StatusNoAttachment),
		row("2026-03-01 11:00:00", "5598765432", ledger.StatusDeactivated),
		row("2026-03-01 12:00:00", "5512345678", ledger.StatusWithAttachment),
	)

	records, err := svc.Records(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 visible rows, got %d", len(records))
	}
	if !records[0].Timestamp.After(records[1].Timestamp) {
		t.Fatal("rows must be newest first")
	}
	for _, r := range records {
		if r.Status == ledger.StatusDeactivated {
			t.Fatal("deactivated rows must be hidden")
		}
	}
}

func TestAggregatesLatestPerPatient(t *testing.T) {
	svc := testService(t, &fakeDownloader{},
		row("2026-03-01 10:00:00", "5512345678", ledger.StatusNoAttachment),
		row("2026-03-01 12:00:00", "5512345678", ledger.StatusNoAttachment),
		row("2026-03-01 11:00:00", "5598765432", ledger.StatusNoAttachment),
	)

	agg, err := svc.Aggregates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if agg.TotalRecords != 3 || agg.Patients != 2 {
		t.Fatalf("unexpected aggregates: %+v", agg)
	}
	if len(agg.Latest) != 2 {
		t.Fatalf("expected one latest row per patient, got %d", len(agg.Latest))
	}
	want, _ := time.Parse(ledger.TimeLayout, "2026-03-01 12:00:00")
	if !agg.Latest[0].Timestamp.Equal(want) {
		t.Fatalf("latest row for first patient mismatch: %v", agg.Latest[0].Timestamp)
	}
}

func TestECGsFiltersByPatientAndSortsNewestFirst(t *testing.T) {
	downloader := &fakeDownloader{names: []string{
		"2026-03-01_10-00-00_5512345678.pdf",
		"2026-03-01_12-00-00_5512345678.pdf",
		"2026-03-01_11-00-00_5598765432.pdf",
		"notas_5512345678.txt",
	}}
	svc := testService(t, downloader)

	refs, err := svc.ECGs(context.Background(), "5512345678")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 ECGs, got %d: %+v", len(refs), refs)
	}
	if refs[0].Filename != "2026-03-01_12-00-00_5512345678.pdf" {
		t.Fatalf("expected newest first, got %s", refs[0].Filename)
	}
}

func TestFetchECGRejectsPathTraversal(t *testing.T) {
	svc := testService(t, &fakeDownloader{})
	for _, name := range []string{"../secreto.pdf", "a/b.pdf", `a\b.pdf`} {
		if _, err := svc.FetchECG(context.Background(), name); err == nil {
			t.Fatalf("expected rejection for %q", name)
		}
	}
}

func TestFetchECGDownloadsToTempFile(t *testing.T) {
	downloader := &fakeDownloader{content: map[string][]byte{
		"/clinica/ecgs/2026-03-01_10-00-00_5512345678.pdf": []byte("%PDF fake"),
	}}
	svc := testService(t, downloader)

	path, err := svc.FetchECG(context.Background(), "2026-03-01_10-00-00_5512345678.pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "%PDF fake" {
		t.Fatal("downloaded content mismatch")
	}
}
