package report

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/puntosalud/vitaledger/pkg/ledger"
	"github.com/puntosalud/vitaledger/pkg/ledgersync"
)

// Downloader is the slice of the remote channel the viewer needs.
type Downloader interface {
	Download(ctx context.Context, remotePath, localPath string) error
	List(ctx context.Context, remoteDir string) ([]string, error)
}

// ECGRef is one remote attachment belonging to a patient, newest first.
type ECGRef struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregates are the simple roll-ups the viewer's header shows.
type Aggregates struct {
	TotalRecords int             `json:"total_records"`
	Patients     int             `json:"patients"`
	Latest       []ledger.Record `json:"latest_per_patient"`
}

// Service consumes the materialized, synced ledger as already-parsed tabular
// data and resolves ECG attachments straight from the remote directory.
type Service struct {
	store   *ledger.Store
	channel Downloader
	paths   ledgersync.Paths
	cache   *Cache
}

func NewService(store *ledger.Store, channel Downloader, paths ledgersync.Paths, cache *Cache) *Service {
	return &Service{store: store, channel: channel, paths: paths, cache: cache}
}

// Records returns the display rows: deactivated rows filtered out, sorted by
// timestamp descending.
func (s *Service) Records(ctx context.Context) ([]ledger.Record, error) {
	if cached, ok := s.cache.GetRecords(ctx); ok {
		return cached, nil
	}

	all, _, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Record, 0, len(all))
	for _, r := range all {
		if r.Status != ledger.StatusDeactivated {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	s.cache.SetRecords(ctx, out)
	return out, nil
}

func (s *Service) PatientExtract(patientID string) ([]ledger.Record, error) {
	return s.store.PatientHistory(patientID)
}

func (s *Service) Aggregates(ctx context.Context) (Aggregates, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return Aggregates{}, err
	}

	latest := make(map[string]ledger.Record)
	for _, r := range records {
		if cur, ok := latest[r.PatientID]; !ok || r.Timestamp.After(cur.Timestamp) {
			latest[r.PatientID] = r
		}
	}

	agg := Aggregates{TotalRecords: len(records), Patients: len(latest)}
	for _, r := range latest {
		agg.Latest = append(agg.Latest, r)
	}
	sort.Slice(agg.Latest, func(i, j int) bool { return agg.Latest[i].PatientID < agg.Latest[j].PatientID })
	return agg, nil
}

// ECGs lists the patient's attachments in the remote directory, newest first.
// The match is the original contract: file contains the patient id and ends
// in .pdf.
func (s *Service) ECGs(ctx context.Context, patientID string) ([]ECGRef, error) {
	names, err := s.channel.List(ctx, s.paths.RemoteECGDir)
	if err != nil {
		return nil, err
	}

	var out []ECGRef
	for _, name := range names {
		if !strings.Contains(name, patientID) || !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			continue
		}
		ts, parseErr := ledger.ParseAttachmentTime(name)
		if parseErr != nil {
			ts = time.Time{}
		}
		out = append(out, ECGRef{Filename: name, Timestamp: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// FetchECG downloads one attachment to a temp file and returns its path. The
// caller removes the file when done streaming it.
func (s *Service) FetchECG(ctx context.Context, name string) (string, error) {
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid attachment name %q", name)
	}

	tmp, err := os.CreateTemp("", "ecg-*.pdf")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	tmp.Close()

	remotePath := path.Join(s.paths.RemoteECGDir, name)
	if err := s.channel.Download(ctx, remotePath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

func (s *Service) Invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx)
}
