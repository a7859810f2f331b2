package alerting

import (
	"testing"
	"time"

	"github.com/puntosalud/vitaledger/pkg/ledger"
)

func obs(ts, patientID, bp string, temp, oxi float64) ledger.Record {
	parsed, _ := time.Parse(ledger.TimeLayout, ts)
	return ledger.Record{
		Timestamp:        parsed,
		PatientID:        patientID,
		PatientName:      "Maria Lopez",
		BloodPressure:    bp,
		Temperature:      temp,
		OxygenSaturation: oxi,
		Status:           ledger.StatusNoAttachment,
	}
}

func TestScanFlagsOnlyThresholdCrossings(t *testing.T) {
	detector := NewDetector(DefaultRules())

	// Pressure moves 120->124 (below the 15 systolic threshold), temperature
	// moves 36.4->37.0 (at/over the 0.5 threshold): exactly one variation.
	records := []ledger.Record{
		obs("2026-03-01 10:00:00", "5512345678", "120/80", 36.4, 98),
		obs("2026-03-01 10:10:00", "5512345678", "124/82", 37.0, 98),
	}

	variations := detector.Scan(records)
	if len(variations) != 1 {
		t.Fatalf("expected exactly 1 variation, got %d: %+v", len(variations), variations)
	}
	v := variations[0]
	if v.Vital != VitalTemperature {
		t.Fatalf("expected temperature variation, got %s", v.Vital)
	}
	if v.From != 36.4 || v.To != 37.0 {
		t.Fatalf("unexpected endpoints: %+v", v)
	}
}

func TestScanComparesConsecutivePairsPerPatient(t *testing.T) {
	detector := NewDetector(DefaultRules())

	// Rows deliberately out of order; the detector sorts per patient. The jump
	// only exists between non-adjacent rows of different patients, so nothing
	// is flagged.
	records := []ledger.Record{
		obs("2026-03-01 11:00:00", "5512345678", "120/80", 36.4, 98),
		obs("2026-03-01 10:00:00", "5598765432", "150/95", 38.2, 91),
		obs("2026-03-01 10:00:00", "5512345678", "121/81", 36.5, 97),
	}

	if variations := detector.Scan(records); len(variations) != 0 {
		t.Fatalf("expected no variations, got %+v", variations)
	}
}

func TestScanOximetryOnlyFlagsDrops(t *testing.T) {
	detector := NewDetector(DefaultRules())

	rising := []ledger.Record{
		obs("2026-03-01 10:00:00", "5512345678", "120/80", 36.5, 90),
		obs("2026-03-01 10:10:00", "5512345678", "120/80", 36.5, 97),
	}
	if variations := detector.Scan(rising); len(variations) != 0 {
		t.Fatalf("a saturation recovery must not alert: %+v", variations)
	}

	falling := []ledger.Record{
		obs("2026-03-01 10:00:00", "5512345678", "120/80", 36.5, 97),
		obs("2026-03-01 10:10:00", "5512345678", "120/80", 36.5, 90),
	}
	variations := detector.Scan(falling)
	if len(variations) != 1 || variations[0].Vital != VitalOximetry {
		t.Fatalf("expected one oximetry variation, got %+v", variations)
	}
	if variations[0].Delta != -7 {
		t.Fatalf("expected delta -7, got %v", variations[0].Delta)
	}
}

func TestScanFlagsSystolicJump(t *testing.T) {
	detector := NewDetector(DefaultRules())

	records := []ledger.Record{
		obs("2026-03-01 10:00:00", "5512345678", "120/80", 36.5, 98),
		obs("2026-03-01 10:10:00", "5512345678", "140/90", 36.5, 98),
	}
	variations := detector.Scan(records)
	if len(variations) != 1 || variations[0].Vital != VitalSystolic {
		t.Fatalf("expected one systolic variation, got %+v", variations)
	}
	if variations[0].From != 120 || variations[0].To != 140 {
		t.Fatalf("unexpected endpoints: %+v", variations[0])
	}
}

func TestScanSkipsDeactivatedRows(t *testing.T) {
	detector := NewDetector(DefaultRules())

	spike := obs("2026-03-01 10:10:00", "5512345678", "180/110", 39.5, 85)
	spike.Status = ledger.StatusDeactivated
	records := []ledger.Record{
		obs("2026-03-01 10:00:00", "5512345678", "120/80", 36.5, 98),
		spike,
	}
	if variations := detector.Scan(records); len(variations) != 0 {
		t.Fatalf("deactivated rows must be excluded from the scan: %+v", variations)
	}
}

func TestScanHonorsDisabledRules(t *testing.T) {
	detector := NewDetector([]Rule{
		{Vital: VitalTemperature, Threshold: 0.5, Enabled: false},
		{Vital: VitalOximetry, Threshold: 3, Enabled: true},
	})

	records := []ledger.Record{
		obs("2026-03-01 10:00:00", "5512345678", "120/80", 36.0, 98),
		obs("2026-03-01 10:10:00", "5512345678", "120/80", 39.0, 98),
	}
	if variations := detector.Scan(records); len(variations) != 0 {
		t.Fatalf("disabled rule must not fire: %+v", variations)
	}
}
