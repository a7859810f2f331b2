package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Status is the estado column of the shared ledger. The single-letter codes
// are the wire contract with every other client reading the CSV.
type Status string

const (
	// StatusWithAttachment marks a record whose ECG reached the remote store.
	StatusWithAttachment Status = "A"
	// StatusNoAttachment marks a record submitted without an ECG.
	StatusNoAttachment Status = "N"
	// StatusAttachmentFailed marks a record whose ECG persisted locally but
	// failed to upload. The next sync pass re-attempts the upload and
	// promotes the row to StatusWithAttachment.
	StatusAttachmentFailed Status = "E"
	// StatusDeactivated is the soft-delete marker. Rows carrying it are
	// purged on the next append.
	StatusDeactivated Status = "X"
)

// TimeLayout is the second-precision timestamp format used in the ledger.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one vital-sign observation event. The JSON names mirror the CSV
// column names so API consumers and the shared artifact speak one vocabulary.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	PatientID        string    `json:"id_paciente"` // 10-digit numeric string
	PatientName      string    `json:"nombre_paciente"`
	AssetTag         string    `json:"numero_economico,omitempty"` // site-specific equipment/bed identifier
	BloodPressure    string    `json:"presion_arterial"`           // "systolic/diastolic"
	Temperature      float64   `json:"temperatura"`
	OxygenSaturation float64   `json:"oximetria"`
	Status           Status    `json:"estado"`
	Notified         bool      `json:"correo"`
}

// Key identifies a row: the ledger has no surrogate ids, a row is its
// (timestamp, patient) pair.
type Key struct {
	Timestamp string `json:"timestamp"` // TimeLayout-formatted
	PatientID string `json:"id_paciente"`
}

func (r Record) Key() Key {
	return Key{Timestamp: r.Timestamp.Format(TimeLayout), PatientID: r.PatientID}
}

// AttachmentName derives the ECG file name from the key alone; the timestamp
// is already TimeLayout-formatted so no parse is needed.
func (k Key) AttachmentName() string {
	s := strings.ReplaceAll(k.Timestamp, ":", "-")
	return strings.ReplaceAll(s, " ", "_") + "_" + k.PatientID + ".pdf"
}

// AttachmentName is the deterministic ECG file name tied to this record:
// colons and spaces in the timestamp are replaced so the name is safe on every
// filesystem involved.
func (r Record) AttachmentName() string {
	return fmt.Sprintf("%s_%s.pdf", SafeTimestamp(r.Timestamp), r.PatientID)
}

func SafeTimestamp(t time.Time) string {
	s := t.Format(TimeLayout)
	s = strings.ReplaceAll(s, ":", "-")
	return strings.ReplaceAll(s, " ", "_")
}

// ParseAttachmentTime recovers the record timestamp from an attachment file
// name produced by AttachmentName.
func ParseAttachmentTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, ".pdf")
	idx := strings.LastIndex(base, "_")
	if idx <= 0 {
		return time.Time{}, fmt.Errorf("attachment name %q has no timestamp component", name)
	}
	stamp := strings.Replace(base[:idx], "_", " ", 1)
	stamp = strings.ReplaceAll(stamp, "-", ":")
	// Undo the colon substitution in the date part.
	if len(stamp) >= 10 {
		stamp = strings.ReplaceAll(stamp[:10], ":", "-") + stamp[10:]
	}
	return time.Parse(TimeLayout, stamp)
}
