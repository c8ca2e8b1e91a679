package integrity

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/go-store-kit/conflict"
	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/storage/memory"
)

func seed(t *testing.T, store *memory.Store, collection string, records ...map[string]any) {
	t.Helper()
	items := make([]any, len(records))
	for i, r := range records {
		items[i] = r
	}
	require.NoError(t, store.Set(context.Background(), collection, items))
}

func project(id string, fields map[string]any) map[string]any {
	record := map[string]any{
		"id":        id,
		"name":      "Project " + id,
		"updatedAt": "2026-03-01T12:00:00Z",
	}
	for k, v := range fields {
		record[k] = v
	}
	return record
}

func TestAuditIdenticalBackends(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	for _, store := range []*memory.Store{local, remote} {
		seed(t, store, "projects", project("p1", nil), project("p2", nil))
		seed(t, store, "clients", project("c1", nil))
	}

	auditor := New(local, remote, []string{"projects", "clients"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)

	assert.True(t, report.OverallMatch)
	assert.Equal(t, Summary{Total: 2, Matched: 2}, report.Summary)
	for _, result := range report.Results {
		assert.True(t, result.Match)
		assert.Empty(t, result.Mismatches)
	}
}

func TestAuditDetectsMissingRecord(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	seed(t, local, "projects", project("p1", nil), project("p2", nil))
	seed(t, remote, "projects", project("p1", nil))

	auditor := New(local, remote, []string{"projects"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)

	assert.False(t, report.OverallMatch)
	require.Len(t, report.Results, 1)

	result := report.Results[0]
	assert.False(t, result.Match)
	assert.Equal(t, 2, result.LocalCount)
	assert.Equal(t, 1, result.RemoteCount)
	require.Len(t, result.Mismatches, 1)
	assert.Equal(t, "p2", result.Mismatches[0].ID)
	assert.Equal(t, FieldPresence, result.Mismatches[0].Field)
}

func TestShallowAuditIgnoresTimestampDrift(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	seed(t, local, "projects", project("p1", map[string]any{"updatedAt": "2026-03-01T12:00:00Z"}))
	seed(t, remote, "projects", project("p1", map[string]any{"updatedAt": "2026-03-01T12:00:05Z"}))

	auditor := New(local, remote, []string{"projects"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OverallMatch, "updatedAt drift alone is not divergence")
}

func TestDeepAuditReportsFields(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	seed(t, local, "projects", project("p1", map[string]any{"amount": float64(100)}))
	seed(t, remote, "projects", project("p1", map[string]any{"amount": float64(200)}))

	auditor := New(local, remote, []string{"projects"}, WithDeep(true))
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	mismatches := report.Results[0].Mismatches
	require.Len(t, mismatches, 1)
	assert.Equal(t, "p1", mismatches[0].ID)
	assert.Equal(t, "amount", mismatches[0].Field)
	assert.Equal(t, float64(100), mismatches[0].LocalValue)
	assert.Equal(t, float64(200), mismatches[0].RemoteValue)
}

func TestShallowAuditFlagsRecordDigest(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	seed(t, local, "projects", project("p1", map[string]any{"amount": float64(100)}))
	seed(t, remote, "projects", project("p1", map[string]any{"amount": float64(200)}))

	auditor := New(local, remote, []string{"projects"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)

	mismatches := report.Results[0].Mismatches
	require.Len(t, mismatches, 1)
	assert.Equal(t, FieldRecord, mismatches[0].Field)
}

func TestAuditMismatchCap(t *testing.T) {
	local := memory.New()
	remote := memory.New()

	var localRecords, remoteRecords []map[string]any
	for i := 0; i < 30; i++ {
		id := "p" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		localRecords = append(localRecords, project(id, map[string]any{"v": float64(1)}))
		remoteRecords = append(remoteRecords, project(id, map[string]any{"v": float64(2)}))
	}
	seed(t, local, "projects", localRecords...)
	seed(t, remote, "projects", remoteRecords...)

	auditor := New(local, remote, []string{"projects"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Results[0].Mismatches, maxMismatchesPerCollection)
}

func TestAuditBackendErrorLandsInResult(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	remote.FailWith(assert.AnError)

	auditor := New(local, remote, []string{"projects"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err, "backend failures are per-collection results, not audit failures")

	assert.False(t, report.OverallMatch)
	assert.Equal(t, 1, report.Summary.Errored)
	assert.Contains(t, report.Results[0].Error, "remote")
}

func TestAuditEmptyCollections(t *testing.T) {
	auditor := New(memory.New(), memory.New(), []string{"projects"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OverallMatch)
}

func TestCheckFlagsDivergence(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	seed(t, local, "projects", project("p1", nil), project("p2", nil))
	seed(t, remote, "projects", project("p1", nil))

	auditor := New(local, remote, []string{"projects"})
	report, err := auditor.Check(context.Background())
	require.Error(t, err)
	assert.True(t, storeErrors.IsConflict(err), "divergence must surface as CONFLICT_DETECTED, got %v", err)
	require.NotNil(t, report, "the report accompanies the divergence error")
	assert.False(t, report.OverallMatch)

	seed(t, remote, "projects", project("p1", nil), project("p2", nil))
	report, err = auditor.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OverallMatch)
}

func TestConflictsFromReport(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	seed(t, local, "projects",
		project("p1", map[string]any{"amount": float64(100), "updatedAt": "2026-03-01T13:00:00Z"}),
		project("p2", nil),
	)
	seed(t, remote, "projects",
		project("p1", map[string]any{"amount": float64(200), "updatedAt": "2026-03-01T12:00:00Z"}),
	)

	auditor := New(local, remote, []string{"projects"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)
	require.False(t, report.OverallMatch)

	conflicts, err := auditor.Conflicts(context.Background(), report)
	require.NoError(t, err)

	// p2 is a replication gap, not a conflict; only p1 qualifies.
	require.Len(t, conflicts, 1)
	assert.Equal(t, "projects", conflicts[0].Entity)
	assert.Equal(t, "p1", conflicts[0].ID)
	assert.Equal(t, conflict.TypeLocalNewer, conflicts[0].Type)
}

func TestFormatReport(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	seed(t, local, "projects", project("p1", nil))
	seed(t, remote, "projects", project("p1", nil))

	auditor := New(local, remote, []string{"projects"})
	report, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)

	text := Format(report)
	assert.True(t, strings.Contains(text, "MATCH"))
	assert.True(t, strings.Contains(text, "projects"))
}

func TestMonitorTriggerNotifiesSubscribers(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	seed(t, local, "projects", project("p1", nil))
	seed(t, remote, "projects", project("p1", nil))

	auditor := New(local, remote, []string{"projects"})
	monitor, err := NewMonitor(auditor, 1e9, nil)
	require.NoError(t, err)

	var got *Report
	monitor.Subscribe(func(r *Report) { got = r })
	monitor.Trigger(context.Background())

	require.NotNil(t, got)
	assert.True(t, got.OverallMatch)

	require.NoError(t, monitor.Start(context.Background()))
	assert.Error(t, monitor.Start(context.Background()), "second start must fail")
	monitor.Stop()
	monitor.Stop()
}
