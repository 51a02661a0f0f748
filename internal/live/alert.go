package live

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const alertTTL = 10 * time.Second

// AlertRule defines a threshold on feed stats that raises a notification.
type AlertRule struct {
	Name      string  `yaml:"name"`
	Metric    string  `yaml:"metric"` // errors, error_rate, malformed, rate_limited, reconnects, disconnected_seconds
	Op        string  `yaml:"op"`     // gt, lt, gte, lte
	Threshold float64 `yaml:"threshold"`
	Detail    string  `yaml:"detail"`
}

// AlertRulesFile is the YAML structure for alert rules.
type AlertRulesFile struct {
	Rules []AlertRule `yaml:"rules"`
}

// AlertEngine evaluates alert rules against stats snapshots and notifies
// when thresholds are crossed.
type AlertEngine struct {
	rules    []AlertRule
	notifier Notifier
	backend  string
	lastSnap *Snapshot
	fired    map[string]bool // per-rule dedup (hysteresis)
}

// NewAlertEngine creates an engine with the given rules.
func NewAlertEngine(rules []AlertRule, notifier Notifier, backend string) *AlertEngine {
	return &AlertEngine{
		rules:    rules,
		notifier: notifier,
		backend:  backend,
		fired:    make(map[string]bool),
	}
}

// LoadAlertRules loads alert rules from a YAML file.
func LoadAlertRules(path string) ([]AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert rules: %w", err)
	}
	var f AlertRulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alert rules: %w", err)
	}
	for _, r := range f.Rules {
		if err := validateRule(r); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}

func validateRule(r AlertRule) error {
	switch r.Metric {
	case "errors", "error_rate", "malformed", "rate_limited", "reconnects", "disconnected_seconds":
	default:
		return fmt.Errorf("unknown alert metric: %s", r.Metric)
	}
	switch r.Op {
	case "gt", "lt", "gte", "lte":
	default:
		return fmt.Errorf("unknown alert operator: %s", r.Op)
	}
	if r.Name == "" {
		return fmt.Errorf("alert rule missing name")
	}
	return nil
}

// Evaluate checks all rules against snap. Call it on a fixed tick (1s).
// Rates are computed from the previous snapshot. A fired rule does not fire
// again until its condition has resolved.
func (e *AlertEngine) Evaluate(snap Snapshot, now time.Time) {
	var errorRate float64
	if e.lastSnap != nil {
		errorRate = float64(snap.Errors - e.lastSnap.Errors)
		if errorRate < 0 {
			errorRate = 0
		}
	}

	for _, rule := range e.rules {
		var val float64
		switch rule.Metric {
		case "errors":
			val = float64(snap.Errors)
		case "error_rate":
			val = errorRate
		case "malformed":
			val = float64(snap.Malformed)
		case "rate_limited":
			val = float64(snap.RateLimited)
		case "reconnects":
			val = float64(snap.Reconnects)
		case "disconnected_seconds":
			val = snap.DisconnectedFor(now).Seconds()
		}

		triggered := compare(val, rule.Op, rule.Threshold)
		if triggered && !e.fired[rule.Name] {
			e.fired[rule.Name] = true
			if e.notifier != nil {
				e.notifier.Notify(Notification{
					Kind:    KindAlert,
					Title:   rule.Name,
					Detail:  rule.Detail,
					Time:    now,
					TTL:     alertTTL,
					Backend: e.backend,
				})
			}
		} else if !triggered && e.fired[rule.Name] {
			e.fired[rule.Name] = false
		}
	}

	snapCopy := snap
	e.lastSnap = &snapCopy
}

// Fired returns the names of rules currently in the fired state, sorted.
func (e *AlertEngine) Fired() []string {
	var names []string
	for name, f := range e.fired {
		if f {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func compare(val float64, op string, threshold float64) bool {
	switch op {
	case "gt":
		return val > threshold
	case "lt":
		return val < threshold
	case "gte":
		return val >= threshold
	case "lte":
		return val <= threshold
	}
	return false
}
