package intake

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	errInvalidPatientID = errors.New("invalid patient id")
	errMissingField     = errors.New("missing required field")
	errInvalidVital     = errors.New("vital reading out of range")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Submission is the validated field set a UI collaborator hands to the writer.
type Submission struct {
	PatientID        string  `json:"id_paciente"`
	PatientName      string  `json:"nombre_paciente"`
	AssetTag         string  `json:"numero_economico,omitempty"`
	BloodPressure    string  `json:"presion_arterial"`
	Temperature      float64 `json:"temperatura"`
	OxygenSaturation float64 `json:"oximetria"`
}

var (
	nonDigits = regexp.MustCompile(`[\s\-()]`)
	bpPattern = regexp.MustCompile(`^\d{2,3}/\d{2,3}$`)
	digitsRE  = regexp.MustCompile(`^\d{10}$`)
)

// NormalizePatientID strips the separators people type into phone-style
// identifiers. The result must be exactly 10 digits to pass validation.
func NormalizePatientID(id string) string {
	return nonDigits.ReplaceAllString(strings.TrimSpace(id), "")
}

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate enforces the contract the writer relies on: a 10-digit patient id
// and non-empty, in-range readings. It normalizes the patient id in place.
func (v *Validator) Validate(sub *Submission) error {
	sub.PatientID = NormalizePatientID(sub.PatientID)
	if !digitsRE.MatchString(sub.PatientID) {
		return ValidationError{reason: fmt.Errorf("patient id must be exactly 10 digits: %w", errInvalidPatientID)}
	}

	if strings.TrimSpace(sub.PatientName) == "" {
		return ValidationError{reason: fmt.Errorf("nombre_paciente required: %w", errMissingField)}
	}

	if !bpPattern.MatchString(strings.TrimSpace(sub.BloodPressure)) {
		return ValidationError{reason: fmt.Errorf("presion_arterial must look like 120/80: %w", errInvalidVital)}
	}

	if sub.Temperature < 30 || sub.Temperature > 45 {
		return ValidationError{reason: fmt.Errorf("temperatura %.1f out of range [30,45]: %w", sub.Temperature, errInvalidVital)}
	}

	if sub.OxygenSaturation < 50 || sub.OxygenSaturation > 100 {
		return ValidationError{reason: fmt.Errorf("oximetria %.1f out of range [50,100]: %w", sub.OxygenSaturation, errInvalidVital)}
	}

	return nil
}
