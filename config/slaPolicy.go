package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"gopkg.in/yaml.v3"
)

// slaPolicyFile mirrors the YAML layout:
//
//	default: 168h
//	priorities:
//	  urgent: 24h
//	  high: 72h
type slaPolicyFile struct {
	Default    string            `yaml:"default"`
	Priorities map[string]string `yaml:"priorities"`
}

// LoadSLAPolicy reads SLA_POLICY_FILE. Without it the uniform 7-day window applies.
func LoadSLAPolicy() (aftersales.SLAPolicy, error) {
	path := strings.TrimSpace(os.Getenv("SLA_POLICY_FILE"))
	if path == "" {
		return aftersales.UniformSLA{Window: aftersales.DefaultSLAWindow}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sla policy %s: %w", path, err)
	}
	return ParseSLAPolicy(raw)
}

func ParseSLAPolicy(raw []byte) (aftersales.SLAPolicy, error) {
	var f slaPolicyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sla policy: %w", err)
	}

	policy := aftersales.PrioritySLA{
		Default:    aftersales.DefaultSLAWindow,
		ByPriority: map[aftersales.Priority]time.Duration{},
	}
	if strings.TrimSpace(f.Default) != "" {
		d, err := parsePositiveDuration(f.Default)
		if err != nil {
			return nil, fmt.Errorf("sla default: %w", err)
		}
		policy.Default = d
	}
	for name, v := range f.Priorities {
		p, err := aftersales.ParsePriority(name)
		if err != nil {
			return nil, fmt.Errorf("sla priorities: unknown priority %q", name)
		}
		d, err := parsePositiveDuration(v)
		if err != nil {
			return nil, fmt.Errorf("sla priority %s: %w", name, err)
		}
		policy.ByPriority[p] = d
	}
	return policy, nil
}

func parsePositiveDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", v)
	}
	return d, nil
}
