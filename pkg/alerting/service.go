package alerting

import (
	"context"

	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/ledger"
	"github.com/puntosalud/vitaledger/pkg/ledgersync"
	"github.com/puntosalud/vitaledger/pkg/observability/metrics"
)

type Syncer interface {
	Sync(ctx context.Context) (ledgersync.Result, error)
}

// Service runs the variation analysis pass. The durable correo column is the
// only dedup state: a patient whose rows already carry the flag is skipped,
// so repeated passes and independent client processes agree on what has been
// sent.
type Service struct {
	store    *ledger.Store
	detector *Detector
	notifier Notifier
	syncer   Syncer
}

func NewService(store *ledger.Store, detector *Detector, notifier Notifier, syncer Syncer) *Service {
	return &Service{store: store, detector: detector, notifier: notifier, syncer: syncer}
}

// Run scans the ledger and notifies once per not-yet-notified patient with at
// least one variation. Returns the number of alerts handed to the notifier.
func (s *Service) Run(ctx context.Context) (int, error) {
	records, _, err := s.store.Load()
	if err != nil {
		return 0, err
	}

	variations := s.detector.Scan(records)
	if len(variations) == 0 {
		return 0, nil
	}

	byPatient := make(map[string][]Variation)
	var order []string
	for _, v := range variations {
		if _, seen := byPatient[v.PatientID]; !seen {
			order = append(order, v.PatientID)
		}
		byPatient[v.PatientID] = append(byPatient[v.PatientID], v)
	}

	notified := make(map[string]bool)
	for _, r := range records {
		if r.Notified {
			notified[r.PatientID] = true
		}
	}

	sent := 0
	for _, patientID := range order {
		if notified[patientID] {
			continue
		}

		history, err := s.store.PatientHistory(patientID)
		if err != nil {
			return sent, err
		}

		alert := NewAlert(patientID, byPatient[patientID], history)
		if err := s.notifier.Notify(ctx, alert); err != nil {
			// Leave the flag untouched so the next pass retries this patient.
			logger.Log.WithError(err).WithField("patient_id", patientID).
				Warn("alert delivery failed, will retry next pass")
			continue
		}

		if _, err := s.store.SetNotified(patientID); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		metrics.ObserveAlertsSent(sent)
		if s.syncer != nil {
			// Push the flipped flags so other clients do not re-alert.
			if _, err := s.syncer.Sync(ctx); err != nil {
				logger.Log.WithError(err).Warn("failed to sync notified flags, remote peers may re-alert")
			}
		}
	}
	return sent, nil
}
