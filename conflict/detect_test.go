package conflict

import (
	"testing"
	"time"
)

func record(fields map[string]any) map[string]any {
	return fields
}

func TestDetectNoConflict(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name   string
		local  any
		remote any
	}{
		{"deep equal", record(map[string]any{"id": "1", "n": 2}), record(map[string]any{"id": "1", "n": 2})},
		{"equal across numeric types", map[string]any{"n": 2}, map[string]any{"n": float64(2)}},
		{"local absent", nil, map[string]any{"id": "1"}},
		{"remote absent", map[string]any{"id": "1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := d.Detect("projects", tt.local, tt.remote)
			if det.Conflict != nil {
				t.Errorf("unexpected conflict: %+v", det.Conflict)
			}
		})
	}
}

func TestDetectClassification(t *testing.T) {
	d := NewDetector()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		localTS     string
		remoteTS    string
		want        Type
		recommended Strategy
	}{
		{
			name:        "local newer",
			localTS:     base.Add(time.Minute).Format(time.RFC3339),
			remoteTS:    base.Format(time.RFC3339),
			want:        TypeLocalNewer,
			recommended: KeepLocal,
		},
		{
			name:        "remote newer",
			localTS:     base.Format(time.RFC3339),
			remoteTS:    base.Add(time.Minute).Format(time.RFC3339),
			want:        TypeRemoteNewer,
			recommended: KeepRemote,
		},
		{
			name:        "within threshold",
			localTS:     base.Format(time.RFC3339),
			remoteTS:    base.Add(10 * time.Second).Format(time.RFC3339),
			want:        TypeBothModified,
			recommended: MergeAuto,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := map[string]any{"id": "1", "v": "local", "updatedAt": tt.localTS}
			remote := map[string]any{"id": "1", "v": "remote", "updatedAt": tt.remoteTS}

			det := d.Detect("projects", local, remote)
			if det.Conflict == nil {
				t.Fatal("expected a conflict")
			}
			if det.Conflict.Type != tt.want {
				t.Errorf("type = %s, want %s", det.Conflict.Type, tt.want)
			}
			if det.RecommendedStrategy != tt.recommended {
				t.Errorf("recommended = %s, want %s", det.RecommendedStrategy, tt.recommended)
			}
			if !det.CanAutoResolve {
				t.Error("timestamped conflict should be auto-resolvable")
			}
		})
	}
}

func TestDetectUnknownWithoutTimestamps(t *testing.T) {
	d := NewDetector()

	det := d.Detect("projects",
		map[string]any{"id": "1", "v": "a"},
		map[string]any{"id": "1", "v": "b"},
	)
	if det.Conflict == nil {
		t.Fatal("expected a conflict")
	}
	if det.Conflict.Type != TypeUnknown {
		t.Errorf("type = %s, want unknown", det.Conflict.Type)
	}
	if det.CanAutoResolve {
		t.Error("unknown conflicts must not be auto-resolvable")
	}
	if det.RecommendedStrategy != MergeManual {
		t.Errorf("recommended = %s, want merge_manual", det.RecommendedStrategy)
	}
}

func TestDetectCustomThreshold(t *testing.T) {
	d := NewDetector(WithSimultaneousThreshold(2 * time.Minute))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	det := d.Detect("k",
		map[string]any{"v": "a", "updatedAt": base.Format(time.RFC3339)},
		map[string]any{"v": "b", "updatedAt": base.Add(time.Minute).Format(time.RFC3339)},
	)
	if det.Conflict == nil || det.Conflict.Type != TypeBothModified {
		t.Fatalf("expected both_modified inside widened threshold, got %+v", det.Conflict)
	}
}

func TestFieldDifferencesSortedAndFlagged(t *testing.T) {
	d := NewDetector()

	local := map[string]any{
		"id":        "1",
		"name":      "Alpha",
		"amount":    float64(100),
		"updatedAt": "2026-03-01T12:00:00Z",
	}
	remote := map[string]any{
		"id":        "1",
		"name":      "Beta",
		"amount":    float64(100),
		"extra":     true,
		"updatedAt": "2026-03-01T13:00:00Z",
	}

	det := d.Detect("projects", local, remote)
	if det.Conflict == nil {
		t.Fatal("expected a conflict")
	}

	var fields []string
	for _, diff := range det.Conflict.Differences {
		fields = append(fields, diff.Field)
	}
	want := []string{"extra", "name", "updatedAt"}
	if len(fields) != len(want) {
		t.Fatalf("differences %v, want fields %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field[%d] = %s, want %s (sorted)", i, fields[i], want[i])
		}
	}

	for _, diff := range det.Conflict.Differences {
		wantConflict := diff.Field != "updatedAt"
		if diff.HasConflict != wantConflict {
			t.Errorf("field %s HasConflict = %v", diff.Field, diff.HasConflict)
		}
	}
}

func TestDetectNonObjectValues(t *testing.T) {
	d := NewDetector()

	det := d.Detect("k", "left", "right")
	if det.Conflict == nil {
		t.Fatal("expected a conflict")
	}
	if len(det.Conflict.Differences) != 1 || det.Conflict.Differences[0].Field != RootField {
		t.Errorf("expected single %s diff, got %+v", RootField, det.Conflict.Differences)
	}
}

func TestExtractTimestampPriority(t *testing.T) {
	updated := "2026-03-01T12:00:00Z"
	created := "2026-01-01T00:00:00Z"

	ts, ok := ExtractTimestamp(map[string]any{
		"createdAt": created,
		"updatedAt": updated,
	})
	if !ok {
		t.Fatal("expected a timestamp")
	}
	if got := ts.UTC().Format(time.RFC3339); got != updated {
		t.Errorf("updatedAt should win over createdAt, got %s", got)
	}

	ts, ok = ExtractTimestamp(map[string]any{"modified_date": "nope", "createdAt": created})
	if !ok || ts.UTC().Format(time.RFC3339) != created {
		t.Errorf("expected fallback to createdAt, got %v %v", ts, ok)
	}
}

func TestExtractTimestampEpochs(t *testing.T) {
	secs := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	ts, ok := ExtractTimestamp(map[string]any{"timestamp": float64(secs)})
	if !ok || ts.Unix() != secs {
		t.Errorf("epoch seconds: got %v %v", ts, ok)
	}

	millis := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	ts, ok = ExtractTimestamp(map[string]any{"timestamp": float64(millis)})
	if !ok || ts.UnixMilli() != millis {
		t.Errorf("epoch millis: got %v %v", ts, ok)
	}

	if _, ok := ExtractTimestamp("not a record"); ok {
		t.Error("non-object value produced a timestamp")
	}
}
