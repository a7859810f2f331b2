package alerting

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Vitals a rule can watch. Thresholds are deltas between two consecutive
// observations of the same patient.
const (
	VitalTemperature = "temperatura"
	VitalOximetry    = "oximetria"
	VitalSystolic    = "sistolica"
)

type Rule struct {
	Vital     string  `yaml:"vital" json:"vital"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Enabled   bool    `yaml:"enabled" json:"enabled"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

func DefaultRules() []Rule {
	return []Rule{
		{Vital: VitalTemperature, Threshold: 0.5, Enabled: true},
		{Vital: VitalOximetry, Threshold: 3, Enabled: true},
		{Vital: VitalSystolic, Threshold: 15, Enabled: true},
	}
}

// LoadRules reads the threshold rules from a YAML file; an empty path yields
// the defaults.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading alert rules: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(content, &rf); err != nil {
		return nil, fmt.Errorf("parsing alert rules: %w", err)
	}
	if len(rf.Rules) == 0 {
		return DefaultRules(), nil
	}
	return rf.Rules, nil
}
