package intake

import "testing"

func validSubmission() Submission {
	return Submission{
		PatientID:        "5512345678",
		PatientName:      "Maria Lopez",
		BloodPressure:    "120/80",
		Temperature:      36.5,
		OxygenSaturation: 98,
	}
}

func TestValidateAcceptsWellFormedSubmission(t *testing.T) {
	sub := validSubmission()
	if err := NewValidator().Validate(&sub); err != nil {
		t.Fatalf("expected valid submission, got %v", err)
	}
}

func TestValidateNormalizesPatientID(t *testing.T) {
	sub := validSubmission()
	sub.PatientID = " (55) 1234-5678 "
	if err := NewValidator().Validate(&sub); err != nil {
		t.Fatalf("expected normalized id to validate, got %v", err)
	}
	if sub.PatientID != "5512345678" {
		t.Fatalf("id not normalized: %q", sub.PatientID)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Submission)
	}{
		{"short patient id", func(s *Submission) { s.PatientID = "55123" }},
		{"alphabetic patient id", func(s *Submission) { s.PatientID = "55123456ab" }},
		{"empty name", func(s *Submission) { s.PatientName = "   " }},
		{"malformed blood pressure", func(s *Submission) { s.BloodPressure = "120-80" }},
		{"temperature too low", func(s *Submission) { s.Temperature = 25 }},
		{"temperature too high", func(s *Submission) { s.Temperature = 46 }},
		{"oxygen too low", func(s *Submission) { s.OxygenSaturation = 40 }},
		{"oxygen above 100", func(s *Submission) { s.OxygenSaturation = 101 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := validSubmission()
			tc.mutate(&sub)
			err := NewValidator().Validate(&sub)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !IsValidationError(err) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}
