package alerting

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/puntosalud/vitaledger/pkg/ledger"
)

// Variation is one detected change between two consecutive observations of
// the same patient exceeding the configured threshold.
type Variation struct {
	PatientID   string    `json:"id_paciente"`
	PatientName string    `json:"nombre_paciente"`
	Vital       string    `json:"vital"`
	From        float64   `json:"from"`
	To          float64   `json:"to"`
	Delta       float64   `json:"delta"`
	Observed    time.Time `json:"observed"`
}

type Detector struct {
	thresholds map[string]float64
}

func NewDetector(rules []Rule) *Detector {
	thresholds := make(map[string]float64, len(rules))
	for _, r := range rules {
		if r.Enabled && r.Threshold > 0 {
			thresholds[r.Vital] = r.Threshold
		}
	}
	return &Detector{thresholds: thresholds}
}

// Scan walks each patient's history in timestamp order and compares
// consecutive observations. Deactivated rows are excluded.
func (d *Detector) Scan(records []ledger.Record) []Variation {
	byPatient := make(map[string][]ledger.Record)
	for _, r := range records {
		if r.Status == ledger.StatusDeactivated {
			continue
		}
		byPatient[r.PatientID] = append(byPatient[r.PatientID], r)
	}

	ids := make([]string, 0, len(byPatient))
	for id := range byPatient {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Variation
	for _, id := range ids {
		history := byPatient[id]
		sort.Slice(history, func(i, j int) bool { return history[i].Timestamp.Before(history[j].Timestamp) })
		for i := 1; i < len(history); i++ {
			out = append(out, d.compare(history[i-1], history[i])...)
		}
	}
	return out
}

func (d *Detector) compare(prev, curr ledger.Record) []Variation {
	var out []Variation

	if threshold, ok := d.thresholds[VitalTemperature]; ok {
		if delta := curr.Temperature - prev.Temperature; math.Abs(delta) >= threshold {
			out = append(out, variation(curr, VitalTemperature, prev.Temperature, curr.Temperature, delta))
		}
	}

	if threshold, ok := d.thresholds[VitalOximetry]; ok {
		// Only a drop in saturation is clinically alarming.
		if drop := prev.OxygenSaturation - curr.OxygenSaturation; drop >= threshold {
			out = append(out, variation(curr, VitalOximetry, prev.OxygenSaturation, curr.OxygenSaturation, -drop))
		}
	}

	if threshold, ok := d.thresholds[VitalSystolic]; ok {
		prevSys, okPrev := systolic(prev.BloodPressure)
		currSys, okCurr := systolic(curr.BloodPressure)
		if okPrev && okCurr {
			if delta := currSys - prevSys; math.Abs(delta) >= threshold {
				out = append(out, variation(curr, VitalSystolic, prevSys, currSys, delta))
			}
		}
	}

	return out
}

func variation(rec ledger.Record, vital string, from, to, delta float64) Variation {
	return Variation{
		PatientID:   rec.PatientID,
		PatientName: rec.PatientName,
		Vital:       vital,
		From:        from,
		To:          to,
		Delta:       delta,
		Observed:    rec.Timestamp,
	}
}

func systolic(bp string) (float64, bool) {
	parts := strings.SplitN(bp, "/", 2)
	if len(parts) != 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
