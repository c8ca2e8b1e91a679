package conflict

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"
)

// DefaultSimultaneousThreshold is how close two record timestamps may be
// before ordering between them is considered meaningless. Sync cycles stamp
// both sides within a few seconds of each other, so a small window has to be
// treated as concurrent modification rather than a clean winner.
const DefaultSimultaneousThreshold = 15 * time.Second

// timestampFields are probed in order when extracting a record's
// last-modified time.
var timestampFields = []string{
	"updatedAt",
	"modifiedDate",
	"timestamp",
	"updated_at",
	"createdAt",
}

// metaFields diverge as a consequence of independent writes and are reported
// with HasConflict=false.
var metaFields = map[string]bool{
	"updatedAt":     true,
	"modifiedDate":  true,
	"modified_date": true,
	"updated_at":    true,
	"timestamp":     true,
}

// Detector compares the local and remote copies of a record.
type Detector struct {
	threshold time.Duration
	now       func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithSimultaneousThreshold overrides the concurrent-modification window.
func WithSimultaneousThreshold(d time.Duration) DetectorOption {
	return func(det *Detector) {
		if d > 0 {
			det.threshold = d
		}
	}
}

// NewDetector creates a Detector with the default 15s threshold.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		threshold: DefaultSimultaneousThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect compares the two copies of the record at key. It returns a Detection
// with a nil Conflict when the copies are deep-equal or when either side is
// absent (an absent side is not a conflict, it is a pending replication).
func (d *Detector) Detect(key string, local, remote any) *Detection {
	if local == nil || remote == nil {
		return &Detection{}
	}
	if deepEqual(local, remote) {
		return &Detection{}
	}

	localTS, localOK := ExtractTimestamp(local)
	remoteTS, remoteOK := ExtractTimestamp(remote)

	data := &Data{
		Key:           key,
		LocalVersion:  local,
		RemoteVersion: remote,
		Type:          classify(localTS, localOK, remoteTS, remoteOK, d.threshold),
		Differences:   fieldDifferences(local, remote),
		DetectedAt:    d.now().UTC(),
	}
	if localOK {
		data.LocalTimestamp = localTS
	}
	if remoteOK {
		data.RemoteTimestamp = remoteTS
	}

	return &Detection{
		Conflict:            data,
		CanAutoResolve:      data.Type != TypeUnknown,
		RecommendedStrategy: recommend(data.Type),
	}
}

func classify(localTS time.Time, localOK bool, remoteTS time.Time, remoteOK bool, threshold time.Duration) Type {
	if !localOK || !remoteOK {
		return TypeUnknown
	}

	delta := localTS.Sub(remoteTS)
	if delta < 0 {
		delta = -delta
	}
	if delta <= threshold {
		return TypeBothModified
	}
	if localTS.After(remoteTS) {
		return TypeLocalNewer
	}
	return TypeRemoteNewer
}

func recommend(t Type) Strategy {
	switch t {
	case TypeLocalNewer:
		return KeepLocal
	case TypeRemoteNewer:
		return KeepRemote
	case TypeBothModified:
		return MergeAuto
	default:
		return MergeManual
	}
}

// ExtractTimestamp pulls a record's last-modified time from its bookkeeping
// fields, probing updatedAt, modifiedDate, timestamp, updated_at and
// createdAt in that order. String values must parse as RFC3339; numeric
// values are epoch seconds or milliseconds.
func ExtractTimestamp(value any) (time.Time, bool) {
	record, ok := value.(map[string]any)
	if !ok {
		return time.Time{}, false
	}

	for _, field := range timestampFields {
		raw, present := record[field]
		if !present || raw == nil {
			continue
		}
		if ts, ok := parseTimestamp(raw); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts, true
		}
	case time.Time:
		return v, true
	case float64:
		return epochToTime(int64(v)), true
	case int64:
		return epochToTime(v), true
	case int:
		return epochToTime(int64(v)), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return epochToTime(n), true
		}
	}
	return time.Time{}, false
}

// epochToTime treats values at or above 1e12 as milliseconds, below as
// seconds.
func epochToTime(n int64) time.Time {
	if n >= 1_000_000_000_000 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// fieldDifferences builds a sorted field-level diff of the two copies. When
// either side is not an object the diff collapses to a single RootField
// entry.
func fieldDifferences(local, remote any) []FieldDifference {
	localMap, localOK := local.(map[string]any)
	remoteMap, remoteOK := remote.(map[string]any)
	if !localOK || !remoteOK {
		return []FieldDifference{{
			Field:       RootField,
			LocalValue:  local,
			RemoteValue: remote,
			HasConflict: true,
		}}
	}

	fields := make(map[string]struct{}, len(localMap)+len(remoteMap))
	for f := range localMap {
		fields[f] = struct{}{}
	}
	for f := range remoteMap {
		fields[f] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	var diffs []FieldDifference
	for _, f := range names {
		lv, lok := localMap[f]
		rv, rok := remoteMap[f]
		if lok && rok && deepEqual(lv, rv) {
			continue
		}
		diffs = append(diffs, FieldDifference{
			Field:       f,
			LocalValue:  lv,
			RemoteValue: rv,
			HasConflict: !metaFields[f],
		})
	}
	return diffs
}

// deepEqual compares two JSON-shaped values. Values are normalized through a
// JSON round trip first so that int/float64 representations of the same
// number compare equal regardless of how the caller built them.
func deepEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// copyValue deep-copies a JSON-shaped value.
func copyValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
