// Package conflict detects and resolves divergence between the local and
// remote copies of a record. Detection classifies the divergence from record
// timestamps and produces an ordered field-level diff; resolution applies one
// of four strategies and always re-validates the resolved value before it is
// allowed back into storage.
package conflict

import "time"

// Type classifies how the two sides of a record diverged.
type Type string

const (
	// TypeLocalNewer means the local copy has the more recent timestamp.
	TypeLocalNewer Type = "local_newer"

	// TypeRemoteNewer means the remote copy has the more recent timestamp.
	TypeRemoteNewer Type = "remote_newer"

	// TypeBothModified means both copies changed within the simultaneous
	// threshold, so timestamp order cannot be trusted.
	TypeBothModified Type = "both_modified"

	// TypeUnknown means one or both copies carry no usable timestamp.
	TypeUnknown Type = "unknown"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	KeepLocal   Strategy = "keep_local"
	KeepRemote  Strategy = "keep_remote"
	MergeAuto   Strategy = "merge_auto"
	MergeManual Strategy = "merge_manual"
)

// Side names one of the two record copies in a manual selection.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// RootField is the synthetic field name used in a diff when the conflicting
// values are not objects.
const RootField = "__root__"

// FieldDifference describes one field that differs between the two copies.
type FieldDifference struct {
	Field       string `json:"field"`
	LocalValue  any    `json:"localValue"`
	RemoteValue any    `json:"remoteValue"`

	// HasConflict is false for bookkeeping fields (updatedAt and friends)
	// whose divergence is expected and never merged field-by-field.
	HasConflict bool `json:"hasConflict"`
}

// Data is the full description of one detected conflict. It is ephemeral:
// conflicts are raised, resolved and discarded, never persisted.
type Data struct {
	Key    string `json:"key"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`

	LocalVersion  any `json:"localVersion"`
	RemoteVersion any `json:"remoteVersion"`

	LocalTimestamp  time.Time `json:"localTimestamp,omitzero"`
	RemoteTimestamp time.Time `json:"remoteTimestamp,omitzero"`

	Type        Type              `json:"type"`
	Differences []FieldDifference `json:"differences"`
	DetectedAt  time.Time         `json:"detectedAt"`
}

// Detection wraps a detected conflict with resolution guidance.
type Detection struct {
	Conflict            *Data    `json:"conflict"`
	CanAutoResolve      bool     `json:"canAutoResolve"`
	RecommendedStrategy Strategy `json:"recommendedStrategy"`
}

// Resolution is the outcome of resolving a conflict.
type Resolution struct {
	Key      string   `json:"key"`
	Strategy Strategy `json:"strategy"`

	// ResolvedData is the value that should replace both copies.
	ResolvedData any `json:"resolvedData"`

	AppliedAt time.Time `json:"appliedAt"`

	// ManualChanges records the remote values a manual merge opted into,
	// keyed by field name.
	ManualChanges map[string]any `json:"manualChanges,omitempty"`
}
