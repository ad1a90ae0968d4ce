package media

import "testing"

func TestStateTransitionsAreMonotonic(t *testing.T) {
	cases := []struct {
		from, to ItemState
		ok       bool
	}{
		{StateQueued, StateProcessing, true},
		{StateProcessing, StateReconciling, true},
		{StateReconciling, StateComplete, true},
		{StateQueued, StateFailed, true},
		{StateReconciling, StateFailed, true},
		{StateReconciling, StateProcessing, false},
		{StateProcessing, StateQueued, false},
		{StateComplete, StateFailed, false},
		{StateFailed, StateComplete, false},
		{StateFailed, StateFailed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: want=%v got=%v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestKindFromMime(t *testing.T) {
	if KindFromMime("video/mp4") != KindVideo {
		t.Fatalf("video/mp4 should be video")
	}
	if KindFromMime("image/webp") != KindImage || KindFromMime("") != KindImage {
		t.Fatalf("non-video mimes should be image")
	}
}

func TestStoredAssetTags(t *testing.T) {
	a := &StoredAsset{}
	a.SetTags([]string{"noir", "portrait"})
	got := a.TagList()
	if len(got) != 2 || got[0] != "noir" || got[1] != "portrait" {
		t.Fatalf("TagList: got=%v", got)
	}
	a.SetTags(nil)
	if string(a.Tags) != "[]" {
		t.Fatalf("SetTags(nil): want [] got=%s", string(a.Tags))
	}
}
