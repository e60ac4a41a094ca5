package reflexive

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/praxis-systems/aegis/pkg/ledger"
)

// Monitor inspects one action and returns a finding, or nil when the
// action raises nothing of note.
type Monitor interface {
	Name() string
	Check(ctx context.Context, ac *ActionContext) (*Finding, error)
}

// StatsProvider is implemented by monitors that expose internal counters.
// The engine discovers it by assertion.
type StatsProvider interface {
	Stats() map[string]interface{}
}

const (
	violationHistoryLimit = 1000
	sessionHistoryLimit   = 100
	rateWindow            = 5 * time.Minute
	recentWindow          = time.Hour
)

type violationRecord struct {
	actorID string
	at      time.Time
}

// PolicyMonitor flags direct policy violations: guests reaching for admin
// surfaces, actors piling up violations, and unauthorized access to
// sensitive resources.
type PolicyMonitor struct {
	mu      sync.Mutex
	history []violationRecord
	counts  map[string]int
	clock   func() time.Time
}

// NewPolicyMonitor returns a monitor with empty violation history.
func NewPolicyMonitor() *PolicyMonitor {
	return &PolicyMonitor{
		counts: make(map[string]int),
		clock:  time.Now,
	}
}

func (m *PolicyMonitor) Name() string { return "policy_monitor" }

// Check evaluates the action against the violation rules. Each detected
// issue is recorded into the actor's violation history, which itself feeds
// the rate rule on subsequent actions.
func (m *PolicyMonitor) Check(_ context.Context, ac *ActionContext) (*Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	var issues []Issue

	if ac.ActionType == "admin_access" && strings.HasPrefix(ac.ActorID, "guest") {
		issues = append(issues, Issue{
			Type:     "admin_access_restriction",
			Severity: SeverityHigh,
			Message:  "guest actors cannot perform admin actions",
		})
	}

	recent := 0
	cutoff := now.Add(-rateWindow)
	for _, rec := range m.history {
		if rec.actorID == ac.ActorID && rec.at.After(cutoff) {
			recent++
		}
	}
	if recent >= 3 {
		issues = append(issues, Issue{
			Type:     "rate_limit_exceeded",
			Severity: SeverityMedium,
			Message:  "actor exceeded the violation rate limit",
		})
	}

	if ac.ResourceID != "" && strings.Contains(strings.ToLower(ac.ResourceID), "sensitive") {
		if authorized, _ := ac.Metadata["authorized"].(bool); !authorized {
			issues = append(issues, Issue{
				Type:     "unauthorized_sensitive_access",
				Severity: SeverityCritical,
				Message:  "sensitive resource accessed without authorization",
			})
		}
	}

	if len(issues) == 0 {
		return nil, nil
	}

	severity := SeverityLow
	for range issues {
		m.history = append(m.history, violationRecord{actorID: ac.ActorID, at: now})
		m.counts[ac.ActorID]++
	}
	if len(m.history) > violationHistoryLimit {
		m.history = m.history[len(m.history)-violationHistoryLimit:]
	}
	for _, is := range issues {
		severity = maxSeverity(severity, is.Severity)
	}

	return &Finding{
		Type:      FindingViolation,
		Severity:  severity,
		Issues:    issues,
		ActorID:   ac.ActorID,
		ActionID:  ac.ActionID,
		Timestamp: now,
	}, nil
}

// Stats reports violation totals, per-actor counts and the count of
// violations seen in the last hour.
func (m *PolicyMonitor) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	perActor := make(map[string]int, len(m.counts))
	for actor, n := range m.counts {
		total += n
		perActor[actor] = n
	}
	recent := 0
	cutoff := m.clock().UTC().Add(-recentWindow)
	for _, rec := range m.history {
		if rec.at.After(cutoff) {
			recent++
		}
	}
	return map[string]interface{}{
		"total_violations":  total,
		"actor_violations":  perActor,
		"recent_violations": recent,
	}
}

// LedgerMonitor verifies provenance ledger integrity on every check. A
// broken hash chain is critical; entries without any block is high; a
// verification error itself is medium.
type LedgerMonitor struct {
	store *ledger.Store

	mu        sync.Mutex
	checks    int
	failures  int
	lastCheck time.Time
}

// NewLedgerMonitor wraps the given store.
func NewLedgerMonitor(store *ledger.Store) *LedgerMonitor {
	return &LedgerMonitor{store: store}
}

func (m *LedgerMonitor) Name() string { return "ledger_monitor" }

func (m *LedgerMonitor) Check(ctx context.Context, ac *ActionContext) (*Finding, error) {
	m.mu.Lock()
	m.checks++
	m.lastCheck = time.Now().UTC()
	m.mu.Unlock()

	finding := func(issue Issue) *Finding {
		m.mu.Lock()
		m.failures++
		m.mu.Unlock()
		return &Finding{
			Type:      FindingAnomaly,
			Severity:  issue.Severity,
			Issues:    []Issue{issue},
			ActorID:   ac.ActorID,
			ActionID:  ac.ActionID,
			Timestamp: time.Now().UTC(),
		}
	}

	stats, err := m.store.Statistics(ctx)
	if err != nil {
		return finding(Issue{
			Type:     "integrity_check_error",
			Severity: SeverityMedium,
			Message:  "ledger statistics unavailable: " + err.Error(),
		}), nil
	}
	if stats.TotalEntries == 0 {
		return nil, nil
	}

	ok, detail, err := m.store.VerifyChainIntegrity(ctx, 0, 0)
	if err != nil {
		return finding(Issue{
			Type:     "integrity_check_error",
			Severity: SeverityMedium,
			Message:  "chain verification failed to run: " + err.Error(),
		}), nil
	}
	if !ok {
		return finding(Issue{
			Type:     "chain_integrity",
			Severity: SeverityCritical,
			Message:  "hash chain verification failed: " + detail,
		}), nil
	}
	if stats.TotalBlocks == 0 {
		return finding(Issue{
			Type:     "missing_blocks",
			Severity: SeverityHigh,
			Message:  "ledger has entries but no blocks",
		}), nil
	}
	return nil, nil
}

// Stats reports how often the ledger was checked and how often it failed.
func (m *LedgerMonitor) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]interface{}{
		"integrity_checks":   m.checks,
		"integrity_failures": m.failures,
	}
	if !m.lastCheck.IsZero() {
		out["last_check"] = m.lastCheck
	}
	return out
}

type actorProfile struct {
	actionCounts   map[string]int
	resourceAccess map[string]int
	sessionTimes   []time.Time
	lastSeen       time.Time
}

var escalationActions = map[string]struct{}{
	"admin_access":         {},
	"root_access":          {},
	"privilege_escalation": {},
}

// AnomalyDetector builds per-actor behavior profiles and flags departures:
// bursts of activity, off-hours work, first-time resource access and
// first-time privileged actions. Anomaly severity is capped at high;
// anomalies alone never produce a critical risk.
type AnomalyDetector struct {
	mu              sync.Mutex
	actors          map[string]*actorProfile
	globalActions   map[string]int
	globalResources map[string]int
	clock           func() time.Time
}

// NewAnomalyDetector returns a detector with no history.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{
		actors:          make(map[string]*actorProfile),
		globalActions:   make(map[string]int),
		globalResources: make(map[string]int),
		clock:           time.Now,
	}
}

func (d *AnomalyDetector) Name() string { return "anomaly_detector" }

// Check updates the actor's profile with this action first, then detects
// against the updated counts, so a first occurrence shows up as count one.
func (d *AnomalyDetector) Check(_ context.Context, ac *ActionContext) (*Finding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := ac.Timestamp
	if now.IsZero() {
		now = d.clock()
	}
	now = now.UTC()

	profile, ok := d.actors[ac.ActorID]
	if !ok {
		profile = &actorProfile{
			actionCounts:   make(map[string]int),
			resourceAccess: make(map[string]int),
		}
		d.actors[ac.ActorID] = profile
	}
	profile.actionCounts[ac.ActionType]++
	profile.sessionTimes = append(profile.sessionTimes, now)
	if len(profile.sessionTimes) > sessionHistoryLimit {
		profile.sessionTimes = profile.sessionTimes[len(profile.sessionTimes)-sessionHistoryLimit:]
	}
	profile.lastSeen = now
	d.globalActions[ac.ActionType]++
	if ac.ResourceID != "" {
		profile.resourceAccess[ac.ResourceID]++
		d.globalResources[ac.ResourceID]++
	}

	var issues []Issue

	if len(profile.sessionTimes) >= 10 {
		cutoff := now.Add(-rateWindow)
		burst := 0
		for _, t := range profile.sessionTimes {
			if t.After(cutoff) {
				burst++
			}
		}
		if burst > 20 {
			issues = append(issues, Issue{
				Type:     "high_frequency",
				Severity: SeverityMedium,
				Message:  "unusually high action frequency",
			})
		}
	}

	hour := now.Hour()
	if (hour < 6 || hour > 22) && profile.actionCounts[ac.ActionType] < 5 {
		issues = append(issues, Issue{
			Type:     "unusual_timing",
			Severity: SeverityLow,
			Message:  "uncommon action performed outside normal hours",
		})
	}

	if ac.ResourceID != "" && profile.resourceAccess[ac.ResourceID] == 1 {
		issues = append(issues, Issue{
			Type:     "new_resource_access",
			Severity: SeverityLow,
			Message:  "first access to this resource by this actor",
		})
	}

	if _, privileged := escalationActions[ac.ActionType]; privileged && profile.actionCounts[ac.ActionType] == 1 {
		issues = append(issues, Issue{
			Type:     "privilege_escalation",
			Severity: SeverityHigh,
			Message:  "first privileged action by this actor",
		})
	}

	if len(issues) == 0 {
		return nil, nil
	}

	severity := SeverityLow
	for _, is := range issues {
		severity = maxSeverity(severity, is.Severity)
	}
	if severityRank[severity] > severityRank[SeverityHigh] {
		severity = SeverityHigh
	}

	return &Finding{
		Type:      FindingAnomaly,
		Severity:  severity,
		Issues:    issues,
		ActorID:   ac.ActorID,
		ActionID:  ac.ActionID,
		Timestamp: now,
	}, nil
}

// Stats reports profile breadth.
func (d *AnomalyDetector) Stats() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]interface{}{
		"tracked_actors":      len(d.actors),
		"global_action_types": len(d.globalActions),
		"global_resources":    len(d.globalResources),
	}
}
