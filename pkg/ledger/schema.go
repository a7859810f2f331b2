package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Canonical column set of the shared CSV. numero_economico and correo were
// added after the first deployments, so older remote snapshots may lack them;
// reconcile back-fills the defaults on load and every rewrite emits the full
// set.
const (
	colTimestamp     = "timestamp"
	colPatientID     = "id_paciente"
	colPatientName   = "nombre_paciente"
	colAssetTag      = "numero_economico"
	colBloodPressure = "presion_arterial"
	colTemperature   = "temperatura"
	colOximetry      = "oximetria"
	colStatus        = "estado"
	colNotified      = "correo"
)

// Columns is the canonical ordered header.
func Columns() []string {
	return []string{
		colTimestamp, colPatientID, colPatientName, colAssetTag,
		colBloodPressure, colTemperature, colOximetry, colStatus, colNotified,
	}
}

// reconcile maps one observed row onto the canonical schema. It is a pure
// function of the observed header and row: columns absent from the header get
// their defaults ("" for text, 0 for correo), unknown extra columns are
// ignored and therefore dropped on the next rewrite.
func reconcile(header, row []string) (Record, error) {
	if len(row) > len(header) {
		return Record{}, fmt.Errorf("row has %d fields, header has %d", len(row), len(header))
	}

	byName := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(row) {
			byName[strings.TrimSpace(strings.ToLower(name))] = strings.TrimSpace(row[i])
		}
	}

	ts, err := time.Parse(TimeLayout, byName[colTimestamp])
	if err != nil {
		// Older intake variants wrote minute precision.
		ts, err = time.Parse("2006-01-02 15:04", byName[colTimestamp])
		if err != nil {
			return Record{}, fmt.Errorf("parsing timestamp %q: %w", byName[colTimestamp], err)
		}
	}

	temp, err := parseDecimal(byName[colTemperature])
	if err != nil {
		return Record{}, fmt.Errorf("parsing temperatura %q: %w", byName[colTemperature], err)
	}
	oxi, err := parseDecimal(byName[colOximetry])
	if err != nil {
		return Record{}, fmt.Errorf("parsing oximetria %q: %w", byName[colOximetry], err)
	}

	return Record{
		Timestamp:        ts,
		PatientID:        byName[colPatientID],
		PatientName:      byName[colPatientName],
		AssetTag:         byName[colAssetTag],
		BloodPressure:    byName[colBloodPressure],
		Temperature:      temp,
		OxygenSaturation: oxi,
		Status:           Status(byName[colStatus]),
		Notified:         byName[colNotified] == "1",
	}, nil
}

func toRow(r Record) []string {
	notified := "0"
	if r.Notified {
		notified = "1"
	}
	return []string{
		r.Timestamp.Format(TimeLayout),
		r.PatientID,
		r.PatientName,
		r.AssetTag,
		r.BloodPressure,
		formatDecimal(r.Temperature),
		formatDecimal(r.OxygenSaturation),
		string(r.Status),
		notified,
	}
}

func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// sanitizeText collapses embedded newline sequences to a single space and
// trims, keeping the tabular artifact free of record separators.
func sanitizeText(s string) string {
	replacer := strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")
	return strings.TrimSpace(replacer.Replace(s))
}

func sanitize(r Record) Record {
	r.PatientID = sanitizeText(r.PatientID)
	r.PatientName = sanitizeText(r.PatientName)
	r.AssetTag = sanitizeText(r.AssetTag)
	r.BloodPressure = sanitizeText(r.BloodPressure)
	return r
}
