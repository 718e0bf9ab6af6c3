package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy defines admission parameters for a group of keys.
type Policy struct {
	// Capacity is the maximum number of tokens (burst size)
	Capacity int64 `yaml:"capacity"`

	// RefillRate is the number of tokens added per second
	RefillRate float64 `yaml:"refill_rate"`
}

// PolicyFile maps key prefixes to admission policies.
// Example: "api:" -> lenient, "login:" -> strict.
type PolicyFile struct {
	// Defaults apply to keys matching no prefix
	Defaults Policy `yaml:"defaults"`

	// Policies maps a key prefix to its policy
	Policies map[string]Policy `yaml:"policies,omitempty"`
}

// LoadPolicyFile loads and validates a YAML policy file.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return &pf, nil
}

// Validate checks every policy in the file.
func (pf *PolicyFile) Validate() error {
	if err := pf.Defaults.Validate(); err != nil {
		return fmt.Errorf("invalid defaults: %w", err)
	}
	for prefix, policy := range pf.Policies {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("invalid policy for prefix %q: %w", prefix, err)
		}
	}
	return nil
}

// Validate checks a single policy.
func (p Policy) Validate() error {
	if p.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", p.Capacity)
	}
	if p.RefillRate < 0 {
		return fmt.Errorf("refill rate cannot be negative, got %g", p.RefillRate)
	}
	return nil
}

// PolicyFor returns the policy for key: the longest matching prefix wins,
// falling back to Defaults.
func (pf *PolicyFile) PolicyFor(key string) Policy {
	best := pf.Defaults
	bestLen := -1
	for prefix, policy := range pf.Policies {
		if strings.HasPrefix(key, prefix) && len(prefix) > bestLen {
			best = policy
			bestLen = len(prefix)
		}
	}
	return best
}
