package conflict

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/logging"
)

// Validator re-checks a resolved value before it is accepted. A failing
// validator leaves the original conflict open.
type Validator func(value any) error

// Stats tracks resolver activity.
type Stats struct {
	TotalConflicts   int              `json:"totalConflicts"`
	TotalResolutions int              `json:"totalResolutions"`
	ByStrategy       map[Strategy]int `json:"byStrategy"`
	AutoResolved     int              `json:"autoResolved"`
	ManuallyResolved int              `json:"manuallyResolved"`
	LastConflictAt   *time.Time       `json:"lastConflictAt,omitempty"`
	LastResolutionAt *time.Time       `json:"lastResolutionAt,omitempty"`
}

// ResolveOptions carries per-resolution inputs.
type ResolveOptions struct {
	// ManualSelections maps field names to the side whose value wins in a
	// manual merge. Fields without a selection keep the local value.
	ManualSelections map[string]Side
}

// Resolver detects and resolves conflicts, keeping running statistics.
type Resolver struct {
	detector  *Detector
	validator Validator
	logger    *logging.Logger
	now       func() time.Time

	mu    sync.Mutex
	stats Stats
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithValidator installs the post-resolution validator.
func WithValidator(v Validator) ResolverOption {
	return func(r *Resolver) { r.validator = v }
}

// WithDetector replaces the default detector.
func WithDetector(d *Detector) ResolverOption {
	return func(r *Resolver) {
		if d != nil {
			r.detector = d
		}
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(logger *logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger.WithComponent("resolver")
		}
	}
}

// NewResolver creates a Resolver with a default detector.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		detector: NewDetector(),
		logger:   logging.Discard(),
		now:      time.Now,
		stats:    Stats{ByStrategy: make(map[Strategy]int)},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Detect runs conflict detection and records the hit in the stats.
func (r *Resolver) Detect(key string, local, remote any) *Detection {
	det := r.detector.Detect(key, local, remote)
	if det.Conflict == nil {
		return det
	}

	r.mu.Lock()
	r.stats.TotalConflicts++
	at := det.Conflict.DetectedAt
	r.stats.LastConflictAt = &at
	r.mu.Unlock()

	r.logger.Info("conflict detected",
		slog.String("key", key),
		slog.String("type", string(det.Conflict.Type)),
		slog.Int("differences", len(det.Conflict.Differences)),
	)
	return det
}

// Resolve applies strategy to the conflict and returns the value that should
// replace both copies. The resolved value is re-validated; a validation
// failure returns RESOLUTION_INVALID and the conflict stays open.
func (r *Resolver) Resolve(data *Data, strategy Strategy, opts *ResolveOptions) (*Resolution, error) {
	if data == nil {
		return nil, storeErrors.NewResolutionInvalidError(fmt.Errorf("nil conflict data"))
	}

	now := r.now().UTC()

	var resolved any
	var manualChanges map[string]any

	switch strategy {
	case KeepLocal:
		resolved = stampUpdatedAt(copyValue(data.LocalVersion), now)
	case KeepRemote:
		resolved = stampUpdatedAt(copyValue(data.RemoteVersion), now)
	case MergeAuto:
		resolved = r.mergeAuto(data)
	case MergeManual:
		resolved, manualChanges = r.mergeManual(data, opts, now)
	default:
		return nil, storeErrors.NewResolutionInvalidError(fmt.Errorf("unknown strategy %q", strategy))
	}

	if r.validator != nil {
		if err := r.validator(resolved); err != nil {
			r.logger.Warn("resolution rejected by validator",
				slog.String("key", data.Key),
				slog.String("strategy", string(strategy)),
				slog.String("error", err.Error()),
			)
			return nil, storeErrors.NewResolutionInvalidError(err)
		}
	}

	r.recordResolution(strategy, now)

	return &Resolution{
		Key:           data.Key,
		Strategy:      strategy,
		ResolvedData:  resolved,
		AppliedAt:     now,
		ManualChanges: manualChanges,
	}, nil
}

// mergeAuto merges field by field: non-conflicting fields pass through from
// the local copy, conflicting fields take the side with the newer record
// timestamp, local on a tie. The merged updatedAt is the max of the two
// record timestamps, which makes the merge idempotent.
func (r *Resolver) mergeAuto(data *Data) any {
	localMap, localOK := data.LocalVersion.(map[string]any)
	remoteMap, remoteOK := data.RemoteVersion.(map[string]any)

	remoteWins := data.RemoteTimestamp.After(data.LocalTimestamp)

	if !localOK || !remoteOK {
		if remoteWins {
			return copyValue(data.RemoteVersion)
		}
		return copyValue(data.LocalVersion)
	}

	merged, _ := copyValue(localMap).(map[string]any)
	if merged == nil {
		merged = make(map[string]any)
	}

	for _, diff := range data.Differences {
		if !diff.HasConflict {
			continue
		}
		if remoteWins {
			if _, present := remoteMap[diff.Field]; present {
				merged[diff.Field] = copyValue(diff.RemoteValue)
			} else {
				delete(merged, diff.Field)
			}
		}
	}

	// Fields only the remote copy has are additions, not conflicts.
	for field, value := range remoteMap {
		if _, present := merged[field]; !present {
			merged[field] = copyValue(value)
		}
	}

	maxTS := data.LocalTimestamp
	if data.RemoteTimestamp.After(maxTS) {
		maxTS = data.RemoteTimestamp
	}
	if !maxTS.IsZero() {
		merged["updatedAt"] = maxTS.UTC().Format(time.RFC3339)
	}

	return merged
}

// mergeManual starts from the local copy and applies the caller's per-field
// side selections. Fields without a selection keep the local value.
func (r *Resolver) mergeManual(data *Data, opts *ResolveOptions, now time.Time) (any, map[string]any) {
	var selections map[string]Side
	if opts != nil {
		selections = opts.ManualSelections
	}

	localMap, localOK := data.LocalVersion.(map[string]any)
	if !localOK {
		if selections[RootField] == SideRemote {
			return copyValue(data.RemoteVersion), map[string]any{RootField: copyValue(data.RemoteVersion)}
		}
		return copyValue(data.LocalVersion), nil
	}

	remoteMap, _ := data.RemoteVersion.(map[string]any)

	merged, _ := copyValue(localMap).(map[string]any)
	if merged == nil {
		merged = make(map[string]any)
	}

	var manualChanges map[string]any
	for field, side := range selections {
		if side != SideRemote {
			continue
		}
		if manualChanges == nil {
			manualChanges = make(map[string]any)
		}
		value, present := remoteMap[field]
		if present {
			merged[field] = copyValue(value)
			manualChanges[field] = copyValue(value)
		} else {
			delete(merged, field)
			manualChanges[field] = nil
		}
	}

	merged["updatedAt"] = now.Format(time.RFC3339)
	return merged, manualChanges
}

func (r *Resolver) recordResolution(strategy Strategy, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalResolutions++
	r.stats.ByStrategy[strategy]++
	if strategy == MergeManual {
		r.stats.ManuallyResolved++
	} else {
		r.stats.AutoResolved++
	}
	r.stats.LastResolutionAt = &at
}

// Stats returns a copy of the resolver's counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.stats
	out.ByStrategy = make(map[Strategy]int, len(r.stats.ByStrategy))
	for k, v := range r.stats.ByStrategy {
		out.ByStrategy[k] = v
	}
	return out
}

// ResetStats zeroes the counters.
func (r *Resolver) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = Stats{ByStrategy: make(map[Strategy]int)}
}

// stampUpdatedAt refreshes the record's updatedAt when the value is an
// object; other values pass through unchanged.
func stampUpdatedAt(value any, now time.Time) any {
	record, ok := value.(map[string]any)
	if !ok {
		return value
	}
	record["updatedAt"] = now.Format(time.RFC3339)
	return record
}
