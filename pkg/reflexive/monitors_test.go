package reflexive

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-systems/aegis/pkg/ledger"
)

func noonClock() time.Time {
	return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
}

func issueTypes(f *Finding) []string {
	var out []string
	for _, is := range f.Issues {
		out = append(out, is.Type)
	}
	return out
}

func TestPolicyMonitorGuestAdminAccess(t *testing.T) {
	m := NewPolicyMonitor()
	m.clock = noonClock

	f, err := m.Check(context.Background(), &ActionContext{
		ActionID: "a1", ActorID: "guest_user", ActionType: "admin_access",
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, FindingViolation, f.Type)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Contains(t, issueTypes(f), "admin_access_restriction")
}

func TestPolicyMonitorSensitiveResource(t *testing.T) {
	m := NewPolicyMonitor()
	m.clock = noonClock
	ctx := context.Background()

	f, err := m.Check(ctx, &ActionContext{
		ActionID: "a1", ActorID: "alice", ActionType: "read",
		ResourceID: "Sensitive-Records",
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, SeverityCritical, f.Severity)
	assert.Contains(t, issueTypes(f), "unauthorized_sensitive_access")

	// Authorization in metadata clears the rule.
	f, err = m.Check(ctx, &ActionContext{
		ActionID: "a2", ActorID: "bob", ActionType: "read",
		ResourceID: "sensitive-records",
		Metadata:   map[string]interface{}{"authorized": true},
	})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestPolicyMonitorRateLimit(t *testing.T) {
	m := NewPolicyMonitor()
	m.clock = noonClock
	ctx := context.Background()

	// Three prior violations inside the window trip the rate rule.
	for i := 0; i < 3; i++ {
		f, err := m.Check(ctx, &ActionContext{
			ActionID: "a", ActorID: "guest_x", ActionType: "admin_access",
		})
		require.NoError(t, err)
		require.NotNil(t, f)
	}
	f, err := m.Check(ctx, &ActionContext{
		ActionID: "a", ActorID: "guest_x", ActionType: "admin_access",
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Contains(t, issueTypes(f), "rate_limit_exceeded")

	stats := m.Stats()
	assert.Equal(t, 5, stats["total_violations"])
	assert.Equal(t, 5, stats["actor_violations"].(map[string]int)["guest_x"])
	assert.Equal(t, 5, stats["recent_violations"])
}

func TestAnomalyDetectorPrivilegeEscalation(t *testing.T) {
	d := NewAnomalyDetector()
	d.clock = noonClock
	ctx := context.Background()

	f, err := d.Check(ctx, &ActionContext{
		ActionID: "a1", ActorID: "alice", ActionType: "root_access",
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, FindingAnomaly, f.Type)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Contains(t, issueTypes(f), "privilege_escalation")

	// The second privileged action is no longer a first occurrence.
	f, err = d.Check(ctx, &ActionContext{
		ActionID: "a2", ActorID: "alice", ActionType: "root_access",
	})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestAnomalyDetectorNewResourceAndTiming(t *testing.T) {
	d := NewAnomalyDetector()
	d.clock = noonClock
	ctx := context.Background()

	f, err := d.Check(ctx, &ActionContext{
		ActionID: "a1", ActorID: "alice", ActionType: "read", ResourceID: "r1",
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, SeverityLow, f.Severity)
	assert.Contains(t, issueTypes(f), "new_resource_access")

	// An explicit 03:00 timestamp marks an uncommon action as off-hours.
	f, err = d.Check(ctx, &ActionContext{
		ActionID: "a2", ActorID: "alice", ActionType: "export",
		Timestamp: time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Contains(t, issueTypes(f), "unusual_timing")
}

func TestAnomalyDetectorHighFrequency(t *testing.T) {
	d := NewAnomalyDetector()
	d.clock = noonClock
	ctx := context.Background()

	var last *Finding
	for i := 0; i < 25; i++ {
		f, err := d.Check(ctx, &ActionContext{
			ActionID: "a", ActorID: "burst", ActionType: "api_call",
		})
		require.NoError(t, err)
		last = f
	}
	require.NotNil(t, last)
	assert.Contains(t, issueTypes(last), "high_frequency")
	assert.Equal(t, SeverityMedium, last.Severity)

	stats := d.Stats()
	assert.Equal(t, 1, stats["tracked_actors"])
	assert.Equal(t, 1, stats["global_action_types"])
}

func TestLedgerMonitor(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.Open("sqlite://file:" + path)
	require.NoError(t, err)
	defer store.Close()

	m := NewLedgerMonitor(store)
	ac := &ActionContext{ActionID: "a1", ActorID: "system", ActionType: "check"}

	// Empty ledger is healthy.
	f, err := m.Check(ctx, ac)
	require.NoError(t, err)
	assert.Nil(t, f)

	for i := 0; i < 3; i++ {
		_, err = store.AppendEvent(ctx, &ledger.Event{
			EventType: ledger.EventSystem, ActorID: "system", Action: "tick",
		})
		require.NoError(t, err)
	}
	f, err = m.Check(ctx, ac)
	require.NoError(t, err)
	assert.Nil(t, f)

	// Tampering with an entry payload breaks the hash chain. A second
	// connection edits the file behind the store's back.
	raw, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = raw.Exec("UPDATE ledger_entries SET event_data = 'tampered' WHERE sequence_number = 2")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	f, err = m.Check(ctx, ac)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, FindingAnomaly, f.Type)
	assert.Equal(t, SeverityCritical, f.Severity)
	assert.Equal(t, "chain_integrity", f.Issues[0].Type)

	stats := m.Stats()
	assert.Equal(t, 3, stats["integrity_checks"])
	assert.Equal(t, 1, stats["integrity_failures"])
}
