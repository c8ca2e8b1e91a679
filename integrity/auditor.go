// Package integrity verifies that the local and remote backends hold the
// same data. An audit never mutates either side; it reports per-collection
// counts, id-set differences and, in deep mode, per-field mismatches.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/weavehq/go-store-kit/conflict"
	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/logging"
	"github.com/weavehq/go-store-kit/storekit"
)

// DefaultCollections are the collection keys audited when the caller does
// not supply a list.
var DefaultCollections = []string{
	"projects",
	"clients",
	"documents",
	"tasks",
	"activity_logs",
}

// defaultIgnoreFields diverge legitimately between backends and are skipped
// in deep comparison.
var defaultIgnoreFields = []string{"updatedAt", "modified_date"}

// maxMismatchesPerCollection caps the detail emitted for one collection so a
// fully diverged dataset does not flood the report.
const maxMismatchesPerCollection = 10

// FieldPresence marks a mismatch where one side is missing the record
// entirely.
const FieldPresence = "__presence__"

// FieldRecord marks a shallow-mode mismatch, where only the record digests
// were compared.
const FieldRecord = "__record__"

const auditConcurrency = 4

// Mismatch is one detected difference.
type Mismatch struct {
	ID          string `json:"id"`
	Field       string `json:"field"`
	LocalValue  any    `json:"localValue,omitempty"`
	RemoteValue any    `json:"remoteValue,omitempty"`
}

// Result is the audit outcome for one collection.
type Result struct {
	Entity      string     `json:"entity"`
	Match       bool       `json:"match"`
	LocalCount  int        `json:"localCount"`
	RemoteCount int        `json:"remoteCount"`
	Error       string     `json:"error,omitempty"`
	Mismatches  []Mismatch `json:"mismatches,omitempty"`
}

// Summary aggregates the per-collection results.
type Summary struct {
	Total   int `json:"total"`
	Matched int `json:"matched"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// Report is the outcome of one full audit.
type Report struct {
	Timestamp    time.Time     `json:"timestamp"`
	OverallMatch bool          `json:"overallMatch"`
	Results      []Result      `json:"results"`
	Summary      Summary       `json:"summary"`
	Duration     time.Duration `json:"duration"`
}

// Auditor compares collections across two adapters.
type Auditor struct {
	local       storekit.Adapter
	remote      storekit.Adapter
	collections []string
	deep        bool
	ignore      map[string]bool
	logger      *logging.Logger
}

// AuditorOption configures an Auditor.
type AuditorOption func(*Auditor)

// WithDeep enables per-field comparison instead of digest comparison.
func WithDeep(deep bool) AuditorOption {
	return func(a *Auditor) { a.deep = deep }
}

// WithIgnoreFields replaces the default set of fields skipped in deep
// comparison.
func WithIgnoreFields(fields []string) AuditorOption {
	return func(a *Auditor) {
		a.ignore = make(map[string]bool, len(fields))
		for _, f := range fields {
			a.ignore[f] = true
		}
	}
}

// WithLogger sets the auditor's logger.
func WithLogger(logger *logging.Logger) AuditorOption {
	return func(a *Auditor) {
		if logger != nil {
			a.logger = logger.WithComponent("integrity")
		}
	}
}

// New creates an Auditor. A nil or empty collections list audits
// DefaultCollections.
func New(local, remote storekit.Adapter, collections []string, opts ...AuditorOption) *Auditor {
	if len(collections) == 0 {
		collections = DefaultCollections
	}

	a := &Auditor{
		local:       local,
		remote:      remote,
		collections: collections,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.ignore == nil {
		a.ignore = make(map[string]bool, len(defaultIgnoreFields))
		for _, f := range defaultIgnoreFields {
			a.ignore[f] = true
		}
	}
	return a
}

// AuditAll audits every configured collection, a few at a time. The returned
// error covers only audit-machinery failures; per-collection backend errors
// land in the collection's Result.
func (a *Auditor) AuditAll(ctx context.Context) (*Report, error) {
	start := time.Now()

	results := make([]Result, len(a.collections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(auditConcurrency)
	for i, collection := range a.collections {
		i, collection := i, collection
		g.Go(func() error {
			results[i] = a.auditCollection(gctx, collection)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeErrors.NewWithComponent(storeErrors.OpAudit, "integrity", err)
	}

	report := &Report{
		Timestamp: start.UTC(),
		Results:   results,
		Duration:  time.Since(start),
	}
	report.Summary.Total = len(results)
	report.OverallMatch = true
	for _, r := range results {
		switch {
		case r.Error != "":
			report.Summary.Errored++
			report.OverallMatch = false
		case r.Match:
			report.Summary.Matched++
		default:
			report.Summary.Failed++
			report.OverallMatch = false
		}
	}

	a.logger.Info("audit complete",
		slog.Bool("overall_match", report.OverallMatch),
		slog.Int("collections", report.Summary.Total),
		slog.Int("failed", report.Summary.Failed),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// Check runs a full audit and additionally fails when the backends have
// diverged: the report comes back alongside a CONFLICT_DETECTED error so
// callers that treat divergence as a failure condition (CI gates, the CLI
// exit code) can branch on errors.IsConflict.
func (a *Auditor) Check(ctx context.Context) (*Report, error) {
	report, err := a.AuditAll(ctx)
	if err != nil {
		return nil, err
	}
	if !report.OverallMatch {
		diverged := report.Summary.Failed + report.Summary.Errored
		return report, storeErrors.NewConflictError(storeErrors.OpAudit, "",
			fmt.Errorf("%d of %d collections diverged", diverged, report.Summary.Total))
	}
	return report, nil
}

func (a *Auditor) auditCollection(ctx context.Context, collection string) Result {
	result := Result{Entity: collection}

	localRecords, err := loadRecords(ctx, a.local, collection)
	if err != nil {
		result.Error = fmt.Sprintf("local: %v", err)
		return result
	}
	remoteRecords, err := loadRecords(ctx, a.remote, collection)
	if err != nil {
		result.Error = fmt.Sprintf("remote: %v", err)
		return result
	}

	result.LocalCount = len(localRecords)
	result.RemoteCount = len(remoteRecords)

	ids := make(map[string]struct{}, len(localRecords)+len(remoteRecords))
	for id := range localRecords {
		ids[id] = struct{}{}
	}
	for id := range remoteRecords {
		ids[id] = struct{}{}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		if len(result.Mismatches) >= maxMismatchesPerCollection {
			break
		}

		local, localOK := localRecords[id]
		remote, remoteOK := remoteRecords[id]
		if !localOK || !remoteOK {
			result.Mismatches = append(result.Mismatches, Mismatch{
				ID:          id,
				Field:       FieldPresence,
				LocalValue:  localOK,
				RemoteValue: remoteOK,
			})
			continue
		}

		if a.deep {
			result.Mismatches = a.compareDeep(result.Mismatches, id, local, remote)
		} else {
			result.Mismatches = a.compareDigest(result.Mismatches, id, local, remote)
		}
	}

	result.Match = len(result.Mismatches) == 0 && result.LocalCount == result.RemoteCount
	return result
}

// compareDigest compares xxhash digests of the canonical JSON encodings,
// with ignored fields stripped first.
func (a *Auditor) compareDigest(mismatches []Mismatch, id string, local, remote map[string]any) []Mismatch {
	if digest(a.strip(local)) == digest(a.strip(remote)) {
		return mismatches
	}
	return append(mismatches, Mismatch{ID: id, Field: FieldRecord})
}

// compareDeep emits one mismatch per differing field.
func (a *Auditor) compareDeep(mismatches []Mismatch, id string, local, remote map[string]any) []Mismatch {
	fields := make(map[string]struct{}, len(local)+len(remote))
	for f := range local {
		fields[f] = struct{}{}
	}
	for f := range remote {
		fields[f] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	for _, field := range names {
		if a.ignore[field] {
			continue
		}
		if len(mismatches) >= maxMismatchesPerCollection {
			break
		}

		lv, lok := local[field]
		rv, rok := remote[field]
		if lok && rok && reflect.DeepEqual(lv, rv) {
			continue
		}
		mismatches = append(mismatches, Mismatch{
			ID:          id,
			Field:       field,
			LocalValue:  lv,
			RemoteValue: rv,
		})
	}
	return mismatches
}

func (a *Auditor) strip(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for field, value := range record {
		if a.ignore[field] {
			continue
		}
		out[field] = value
	}
	return out
}

// digest hashes the canonical JSON encoding. encoding/json sorts map keys,
// so equal records always produce equal digests.
func digest(record map[string]any) uint64 {
	data, err := json.Marshal(record)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

// loadRecords reads one collection and indexes its records by id. A missing
// key is an empty collection; records without an id are skipped.
func loadRecords(ctx context.Context, adapter storekit.Adapter, collection string) (map[string]map[string]any, error) {
	raw, err := adapter.Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]map[string]any{}, nil
	}

	items, ok := raw.([]any)
	if !ok {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("collection %q is not an array", collection)
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("collection %q is not an array", collection)
		}
	}

	records := make(map[string]map[string]any, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := record["id"].(string)
		if id == "" {
			continue
		}
		records[id] = record
	}
	return records, nil
}

// Conflicts turns a report's mismatched records into a conflict batch for
// user-driven resolution. Only records present on both sides can conflict;
// presence mismatches are replication gaps, not conflicts.
func (a *Auditor) Conflicts(ctx context.Context, report *Report) ([]conflict.Data, error) {
	detector := conflict.NewDetector()

	var out []conflict.Data
	for _, result := range report.Results {
		if result.Match || result.Error != "" {
			continue
		}

		localRecords, err := loadRecords(ctx, a.local, result.Entity)
		if err != nil {
			return nil, storeErrors.NewWithComponent(storeErrors.OpAudit, "integrity", err)
		}
		remoteRecords, err := loadRecords(ctx, a.remote, result.Entity)
		if err != nil {
			return nil, storeErrors.NewWithComponent(storeErrors.OpAudit, "integrity", err)
		}

		seen := make(map[string]bool)
		for _, mismatch := range result.Mismatches {
			if seen[mismatch.ID] || mismatch.Field == FieldPresence {
				continue
			}
			seen[mismatch.ID] = true

			local, localOK := localRecords[mismatch.ID]
			remote, remoteOK := remoteRecords[mismatch.ID]
			if !localOK || !remoteOK {
				continue
			}

			det := detector.Detect(result.Entity+":"+mismatch.ID, local, remote)
			if det.Conflict == nil {
				continue
			}
			data := *det.Conflict
			data.Entity = result.Entity
			data.ID = mismatch.ID
			out = append(out, data)
		}
	}
	return out, nil
}
