package conflict

import (
	"errors"
	"reflect"
	"testing"
	"time"

	storeErrors "github.com/weavehq/go-store-kit/errors"
)

var (
	t1 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 = t1.Add(5 * time.Minute)
)

// divergedAmounts is a record pair where the local copy is newer and the
// amounts disagree.
func divergedAmounts() *Detection {
	local := map[string]any{
		"id":          "p1",
		"name":        "Foo",
		"totalAmount": float64(100),
		"updatedAt":   t2.Format(time.RFC3339),
	}
	remote := map[string]any{
		"id":          "p1",
		"name":        "Foo",
		"totalAmount": float64(200),
		"updatedAt":   t1.Format(time.RFC3339),
	}
	return NewDetector().Detect("projects:p1", local, remote)
}

func TestDetectLocalNewer(t *testing.T) {
	det := divergedAmounts()
	if det.Conflict == nil {
		t.Fatal("expected a conflict")
	}
	if det.Conflict.Type != TypeLocalNewer {
		t.Errorf("type = %s, want local_newer", det.Conflict.Type)
	}
}

func TestKeepLocalAndKeepRemote(t *testing.T) {
	r := NewResolver()
	det := divergedAmounts()

	res, err := r.Resolve(det.Conflict, KeepLocal, nil)
	if err != nil {
		t.Fatalf("Resolve keep_local: %v", err)
	}
	resolved := res.ResolvedData.(map[string]any)
	if resolved["totalAmount"] != float64(100) {
		t.Errorf("keep_local totalAmount = %v, want 100", resolved["totalAmount"])
	}

	res, err = r.Resolve(det.Conflict, KeepRemote, nil)
	if err != nil {
		t.Fatalf("Resolve keep_remote: %v", err)
	}
	resolved = res.ResolvedData.(map[string]any)
	if resolved["totalAmount"] != float64(200) {
		t.Errorf("keep_remote totalAmount = %v, want 200", resolved["totalAmount"])
	}
}

func TestMergeAutoNewerSideWins(t *testing.T) {
	r := NewResolver()
	det := divergedAmounts()

	res, err := r.Resolve(det.Conflict, MergeAuto, nil)
	if err != nil {
		t.Fatalf("Resolve merge_auto: %v", err)
	}

	resolved := res.ResolvedData.(map[string]any)
	if resolved["totalAmount"] != float64(100) {
		t.Errorf("newer local amount should win, got %v", resolved["totalAmount"])
	}
	if resolved["updatedAt"] != t2.Format(time.RFC3339) {
		t.Errorf("merged updatedAt = %v, want max timestamp %s", resolved["updatedAt"], t2.Format(time.RFC3339))
	}
}

func TestMergeAutoRemoteNewer(t *testing.T) {
	local := map[string]any{
		"id":        "p1",
		"name":      "Local name",
		"secret":    "keep me",
		"updatedAt": t1.Format(time.RFC3339),
	}
	remote := map[string]any{
		"id":        "p1",
		"name":      "Remote name",
		"addition":  "new field",
		"updatedAt": t2.Format(time.RFC3339),
	}

	det := NewDetector().Detect("projects:p1", local, remote)
	res, err := NewResolver().Resolve(det.Conflict, MergeAuto, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	resolved := res.ResolvedData.(map[string]any)
	if resolved["name"] != "Remote name" {
		t.Errorf("conflicting field should take the newer remote value, got %v", resolved["name"])
	}
	if resolved["secret"] != "keep me" {
		t.Errorf("local-only field lost: %v", resolved["secret"])
	}
	if resolved["addition"] != "new field" {
		t.Errorf("remote-only field lost: %v", resolved["addition"])
	}
}

func TestMergeAutoIdempotent(t *testing.T) {
	r := NewResolver()
	det := divergedAmounts()

	first, err := r.Resolve(det.Conflict, MergeAuto, nil)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// Resolving the merged value against the remote again must not change it.
	redetect := NewDetector().Detect("projects:p1", first.ResolvedData, det.Conflict.RemoteVersion)
	if redetect.Conflict == nil {
		return
	}
	second, err := r.Resolve(redetect.Conflict, MergeAuto, nil)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !reflect.DeepEqual(first.ResolvedData, second.ResolvedData) {
		t.Errorf("merge is not idempotent:\nfirst  %v\nsecond %v", first.ResolvedData, second.ResolvedData)
	}
}

func TestMergeAutoTieKeepsLocal(t *testing.T) {
	ts := t1.Format(time.RFC3339)
	local := map[string]any{"id": "1", "v": "local", "updatedAt": ts}
	remote := map[string]any{"id": "1", "v": "remote", "updatedAt": ts}

	det := NewDetector().Detect("k", local, remote)
	res, err := NewResolver().Resolve(det.Conflict, MergeAuto, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolvedData.(map[string]any)["v"] != "local" {
		t.Error("tie must keep the local value")
	}
}

func TestMergeManualSelections(t *testing.T) {
	r := NewResolver()
	det := divergedAmounts()

	res, err := r.Resolve(det.Conflict, MergeManual, &ResolveOptions{
		ManualSelections: map[string]Side{"totalAmount": SideRemote},
	})
	if err != nil {
		t.Fatalf("Resolve merge_manual: %v", err)
	}

	resolved := res.ResolvedData.(map[string]any)
	if resolved["totalAmount"] != float64(200) {
		t.Errorf("explicit remote pick should win, got %v", resolved["totalAmount"])
	}
	if resolved["name"] != "Foo" {
		t.Errorf("unselected field should stay local, got %v", resolved["name"])
	}
	if res.ManualChanges["totalAmount"] != float64(200) {
		t.Errorf("manual changes not recorded: %v", res.ManualChanges)
	}
}

func TestMergeManualDefaultsToLocal(t *testing.T) {
	r := NewResolver()
	det := divergedAmounts()

	res, err := r.Resolve(det.Conflict, MergeManual, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolvedData.(map[string]any)["totalAmount"] != float64(100) {
		t.Error("no selections should keep the local value")
	}
}

func TestResolveValidatorRejects(t *testing.T) {
	r := NewResolver(WithValidator(func(any) error {
		return errors.New("amounts cannot merge")
	}))
	det := divergedAmounts()

	_, err := r.Resolve(det.Conflict, MergeAuto, nil)
	if !storeErrors.IsResolutionInvalid(err) {
		t.Fatalf("expected RESOLUTION_INVALID, got %v", err)
	}

	stats := r.Stats()
	if stats.TotalResolutions != 0 {
		t.Errorf("rejected resolution counted: %+v", stats)
	}
}

func TestResolveUnknownStrategy(t *testing.T) {
	det := divergedAmounts()
	if _, err := NewResolver().Resolve(det.Conflict, Strategy("coin_flip"), nil); err == nil {
		t.Error("unknown strategy accepted")
	}
}

func TestResolverStats(t *testing.T) {
	r := NewResolver()

	det := r.Detect("projects:p1",
		map[string]any{"id": "1", "v": "a", "updatedAt": t2.Format(time.RFC3339)},
		map[string]any{"id": "1", "v": "b", "updatedAt": t1.Format(time.RFC3339)},
	)
	if det.Conflict == nil {
		t.Fatal("expected a conflict")
	}

	if _, err := r.Resolve(det.Conflict, KeepLocal, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := r.Resolve(det.Conflict, MergeManual, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	stats := r.Stats()
	if stats.TotalConflicts != 1 {
		t.Errorf("conflicts = %d, want 1", stats.TotalConflicts)
	}
	if stats.TotalResolutions != 2 || stats.AutoResolved != 1 || stats.ManuallyResolved != 1 {
		t.Errorf("resolution counters %+v", stats)
	}
	if stats.ByStrategy[KeepLocal] != 1 || stats.ByStrategy[MergeManual] != 1 {
		t.Errorf("per-strategy counters %+v", stats.ByStrategy)
	}
	if stats.LastConflictAt == nil || stats.LastResolutionAt == nil {
		t.Error("last-seen timestamps not set")
	}

	r.ResetStats()
	if r.Stats().TotalResolutions != 0 {
		t.Error("ResetStats did not zero the counters")
	}
}
