// Package ratelimit implements per-subject token-bucket admission control
// with escalating backoff on repeated violations.
package ratelimit

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Rule defines one token-bucket policy
type Rule struct {
	ID string `yaml:"id" json:"id"`

	// Limit is the bucket capacity (burst size)
	Limit int `yaml:"limit" json:"limit"`

	// RefillRate is tokens added per second
	RefillRate float64 `yaml:"refillRate" json:"refillRate"`

	// Backoff settings; disabled when BackoffEnabled is false
	BackoffEnabled  bool          `yaml:"backoffEnabled" json:"backoffEnabled"`
	BaseBackoff     time.Duration `yaml:"baseBackoff" json:"baseBackoff"`
	MaxBackoff      time.Duration `yaml:"maxBackoff" json:"maxBackoff"`
	MaxBackoffLevel int           `yaml:"maxBackoffLevel" json:"maxBackoffLevel"`
}

// Validate checks the rule for validity
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Limit <= 0 {
		return fmt.Errorf("rule %s: limit must be greater than 0", r.ID)
	}
	if r.RefillRate <= 0 {
		return fmt.Errorf("rule %s: refillRate must be greater than 0", r.ID)
	}
	if r.BackoffEnabled {
		if r.BaseBackoff <= 0 {
			return fmt.Errorf("rule %s: baseBackoff must be greater than 0", r.ID)
		}
		if r.MaxBackoff < r.BaseBackoff {
			return fmt.Errorf("rule %s: maxBackoff must be at least baseBackoff", r.ID)
		}
	}
	return nil
}

// BackoffDuration returns the capped exponential backoff for a level
func (r *Rule) BackoffDuration(level int) time.Duration {
	if level < 1 {
		level = 1
	}
	d := r.BaseBackoff
	for i := 1; i < level; i++ {
		d *= 2
		if d >= r.MaxBackoff {
			return r.MaxBackoff
		}
	}
	if d > r.MaxBackoff {
		return r.MaxBackoff
	}
	return d
}

// Config holds rate limiter configuration
type Config struct {
	// Rules indexed by id, for explicit-rule checks
	Rules map[string]*Rule `yaml:"rules" json:"rules"`

	// ClassRules maps a resource class to a rule id
	ClassRules map[string]string `yaml:"classRules" json:"classRules"`

	// SensitiveClasses get SensitiveRuleID when no class rule matches
	SensitiveClasses []string `yaml:"sensitiveClasses" json:"sensitiveClasses"`
	SensitiveRuleID  string   `yaml:"sensitiveRuleId" json:"sensitiveRuleId"`

	// DefaultRuleID applies when nothing else matches
	DefaultRuleID string `yaml:"defaultRuleId" json:"defaultRuleId"`

	// KeyPrefix namespaces bucket keys in the shared store
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`

	// BucketTTL bounds how long idle buckets persist
	BucketTTL time.Duration `yaml:"bucketTTL" json:"bucketTTL"`
}

// DefaultConfig returns the built-in rule set
func DefaultConfig() *Config {
	rules := []*Rule{
		{
			ID:              "default",
			Limit:           100,
			RefillRate:      10,
			BackoffEnabled:  true,
			BaseBackoff:     time.Second,
			MaxBackoff:      5 * time.Minute,
			MaxBackoffLevel: 8,
		},
		{
			ID:              "sensitive",
			Limit:           20,
			RefillRate:      2,
			BackoffEnabled:  true,
			BaseBackoff:     2 * time.Second,
			MaxBackoff:      10 * time.Minute,
			MaxBackoffLevel: 8,
		},
		{
			ID:              "role-management",
			Limit:           10,
			RefillRate:      0.5,
			BackoffEnabled:  true,
			BaseBackoff:     5 * time.Second,
			MaxBackoff:      15 * time.Minute,
			MaxBackoffLevel: 6,
		},
		{
			ID:              "delegation",
			Limit:           10,
			RefillRate:      0.5,
			BackoffEnabled:  true,
			BaseBackoff:     5 * time.Second,
			MaxBackoff:      15 * time.Minute,
			MaxBackoffLevel: 6,
		},
		{
			ID:              "emergency",
			Limit:           5,
			RefillRate:      0.1,
			BackoffEnabled:  true,
			BaseBackoff:     10 * time.Second,
			MaxBackoff:      30 * time.Minute,
			MaxBackoffLevel: 6,
		},
		{
			ID:              "admin",
			Limit:           20,
			RefillRate:      1,
			BackoffEnabled:  true,
			BaseBackoff:     5 * time.Second,
			MaxBackoff:      15 * time.Minute,
			MaxBackoffLevel: 6,
		},
	}

	ruleMap := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		ruleMap[r.ID] = r
	}

	return &Config{
		Rules:            ruleMap,
		ClassRules:       map[string]string{},
		SensitiveClasses: []string{"medical_record", "location", "financial", "emergency_override"},
		SensitiveRuleID:  "sensitive",
		DefaultRuleID:    "default",
		KeyPrefix:        "careaccess:ratelimit:",
		BucketTTL:        time.Hour,
	}
}

// LoadConfigFromEnv applies environment overrides to the defaults
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if v := os.Getenv("RATE_LIMIT_DEFAULT_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			config.Rules["default"].Limit = limit
		}
	}
	if v := os.Getenv("RATE_LIMIT_DEFAULT_REFILL_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			config.Rules["default"].RefillRate = rate
		}
	}
	if v := os.Getenv("RATE_LIMIT_BUCKET_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.BucketTTL = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_KEY_PREFIX"); v != "" {
		config.KeyPrefix = v
	}

	return config
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if len(c.Rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}
	for id, rule := range c.Rules {
		if rule.ID == "" {
			rule.ID = id
		}
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	if _, ok := c.Rules[c.DefaultRuleID]; !ok {
		return fmt.Errorf("default rule %q is not defined", c.DefaultRuleID)
	}
	if c.SensitiveRuleID != "" {
		if _, ok := c.Rules[c.SensitiveRuleID]; !ok {
			return fmt.Errorf("sensitive rule %q is not defined", c.SensitiveRuleID)
		}
	}
	for class, id := range c.ClassRules {
		if _, ok := c.Rules[id]; !ok {
			return fmt.Errorf("class %q references undefined rule %q", class, id)
		}
	}
	return nil
}

// ResolveRule picks the rule for a check: explicit rule id, then the
// per-class rule, then the sensitive rule for allowlisted classes, then
// the default rule.
func (c *Config) ResolveRule(ruleID, resourceClass string) *Rule {
	if ruleID != "" {
		if rule, ok := c.Rules[ruleID]; ok {
			return rule
		}
	}
	if id, ok := c.ClassRules[resourceClass]; ok {
		if rule, ok := c.Rules[id]; ok {
			return rule
		}
	}
	if c.SensitiveRuleID != "" {
		for _, class := range c.SensitiveClasses {
			if class == resourceClass {
				return c.Rules[c.SensitiveRuleID]
			}
		}
	}
	return c.Rules[c.DefaultRuleID]
}
