package netstats_test

import (
	"path/filepath"
	"testing"

	"github.com/calvinalkan/statsrotator/internal/netstats"
	"github.com/calvinalkan/statsrotator/internal/rotator"
	"github.com/calvinalkan/statsrotator/pkg/fs"
)

func newTestRotator(t *testing.T) *rotator.FileRotator {
	t.Helper()

	r, err := rotator.New(fs.NewReal(), rotator.Config{
		BasePath:        filepath.Join(t.TempDir(), "stats"),
		Prefix:          "netstats",
		RotateAgeMillis: 1 << 40,
		DeleteAgeMillis: 1 << 40,
	})
	if err != nil {
		t.Fatalf("rotator.New: %v", err)
	}

	return r
}

func identity(iface string) (string, bool) {
	if iface == "" {
		return "", false
	}

	return iface, true
}

// TestSnapshotRecorder_Bootstrap implements spec.md §8 end-to-end
// scenario 4: the first snapshot never mutates any collection.
func TestSnapshotRecorder_Bootstrap(t *testing.T) {
	t.Parallel()

	rec := netstats.NewSnapshotRecorder(netstats.Config{
		Rotator:               newTestRotator(t),
		Resolver:              identity,
		BucketDuration:        1000,
		PersistThresholdBytes: 1 << 30,
	})

	s1 := netstats.Snapshot{
		ElapsedRealtime: 1000,
		Entries:         []netstats.Entry{{Interface: "eth0", Counters: netstats.Counters{RxBytes: 500}}},
	}

	rec.RecordSnapshot(s1, 1000)

	if rec.GetOrLoadComplete().GetTotalBytes() != 0 {
		t.Fatalf("bootstrap snapshot must not record any data")
	}

	s2 := netstats.Snapshot{
		ElapsedRealtime: 2000,
		Entries:         []netstats.Entry{{Interface: "eth0", Counters: netstats.Counters{RxBytes: 1500}}},
	}

	rec.RecordSnapshot(s2, 2000)

	sum := rec.GetOrLoadComplete().GetSummary(netstats.SummaryTemplate{IdentitySet: "eth0"}, -1<<62, 1<<62)
	if sum.RxBytes != 1000 {
		t.Fatalf("expected delta RxBytes=1000, got %d", sum.RxBytes)
	}
}

// TestSnapshotRecorder_NonMonotonicReportedAndClamped covers spec.md §4.4
// step 2: a regression is reported to the observer and clamped to zero.
func TestSnapshotRecorder_NonMonotonicReportedAndClamped(t *testing.T) {
	t.Parallel()

	var reported []netstats.EntryKey

	rec := netstats.NewSnapshotRecorder(netstats.Config{
		Rotator:  newTestRotator(t),
		Resolver: identity,
		Cookie:   "test-cookie",
		Observer: netstats.ObserverFunc(func(cookie string, key netstats.EntryKey) {
			if cookie != "test-cookie" {
				t.Errorf("cookie = %q, want test-cookie", cookie)
			}

			reported = append(reported, key)
		}),
		PersistThresholdBytes: 1 << 30,
	})

	rec.RecordSnapshot(netstats.Snapshot{
		Entries: []netstats.Entry{{Interface: "eth0", Counters: netstats.Counters{RxBytes: 1000}}},
	}, 0)

	// Counter went backwards (device reboot / counter reset).
	rec.RecordSnapshot(netstats.Snapshot{
		Entries: []netstats.Entry{{Interface: "eth0", Counters: netstats.Counters{RxBytes: 100}}},
	}, 1000)

	if len(reported) != 1 {
		t.Fatalf("expected 1 non-monotonic report, got %d", len(reported))
	}

	if reported[0].IdentitySet != "eth0" {
		t.Fatalf("reported key = %+v", reported[0])
	}

	// 100-1000 clamps to 0, so nothing is recorded.
	if total := rec.GetOrLoadComplete().GetTotalBytes(); total != 0 {
		t.Fatalf("clamped delta recorded %d bytes, want 0", total)
	}
}

// TestSnapshotRecorder_TagPartition implements spec.md §8's "tag
// partition" invariant: the union of the tag-free and tag-present
// recorders equals the full delta, with empty intersection.
func TestSnapshotRecorder_TagPartition(t *testing.T) {
	t.Parallel()

	mkRecorder := func(onlyTags bool) *netstats.SnapshotRecorder {
		return netstats.NewSnapshotRecorder(netstats.Config{
			Rotator:               newTestRotator(t),
			Resolver:              identity,
			OnlyTags:              onlyTags,
			PersistThresholdBytes: 1 << 30,
		})
	}

	untagged := mkRecorder(false)
	tagged := mkRecorder(true)

	snap := func(taggedBytes, untaggedBytes uint64) netstats.Snapshot {
		return netstats.Snapshot{Entries: []netstats.Entry{
			{Interface: "eth0", Tag: netstats.TagNone, Counters: netstats.Counters{RxBytes: untaggedBytes}},
			{Interface: "eth0", Tag: 7, Counters: netstats.Counters{RxBytes: taggedBytes}},
		}}
	}

	untagged.RecordSnapshot(snap(0, 0), 0)
	tagged.RecordSnapshot(snap(0, 0), 0)

	untagged.RecordSnapshot(snap(300, 100), 1000)
	tagged.RecordSnapshot(snap(300, 100), 1000)

	untaggedSum := untagged.GetOrLoadComplete().GetSummary(netstats.SummaryTemplate{}, -1<<62, 1<<62)
	taggedSum := tagged.GetOrLoadComplete().GetSummary(netstats.SummaryTemplate{}, -1<<62, 1<<62)

	if untaggedSum.RxBytes != 100 {
		t.Fatalf("untagged recorder RxBytes = %d, want 100", untaggedSum.RxBytes)
	}

	if taggedSum.RxBytes != 300 {
		t.Fatalf("tagged recorder RxBytes = %d, want 300", taggedSum.RxBytes)
	}
}

// TestSnapshotRecorder_PendingCrossesThreshold implements spec.md §8
// end-to-end scenario 5.
func TestSnapshotRecorder_PendingCrossesThreshold(t *testing.T) {
	t.Parallel()

	rot := newTestRotator(t)
	rec := netstats.NewSnapshotRecorder(netstats.Config{
		Rotator:               rot,
		Resolver:              identity,
		PersistThresholdBytes: 80,
	})

	mkSnap := func(rx uint64, elapsed int64) netstats.Snapshot {
		return netstats.Snapshot{
			ElapsedRealtime: elapsed,
			Entries:         []netstats.Entry{{Interface: "eth0", Counters: netstats.Counters{RxBytes: rx}}},
		}
	}

	rec.RecordSnapshot(mkSnap(0, 0), 0) // bootstrap

	rec.RecordSnapshot(mkSnap(200, 1000), 1000)
	rec.MaybePersist(1000)

	rec.RecordSnapshot(mkSnap(600, 2000), 2000)
	rec.MaybePersist(2000)

	rec.RecordSnapshot(mkSnap(650, 3000), 3000)
	rec.MaybePersist(3000)

	complete := rec.GetOrLoadComplete()

	sum := complete.GetSummary(netstats.SummaryTemplate{}, -1<<62, 1<<62)
	if sum.RxBytes != 650 {
		t.Fatalf("total recorded RxBytes = %d, want 650", sum.RxBytes)
	}
}

// TestSnapshotRecorder_RemoveUid implements spec.md §8 end-to-end
// scenario 6.
func TestSnapshotRecorder_RemoveUid(t *testing.T) {
	t.Parallel()

	rot := newTestRotator(t)
	rec := netstats.NewSnapshotRecorder(netstats.Config{
		Rotator:               rot,
		Resolver:              identity,
		PersistThresholdBytes: 0,
	})

	rec.RecordSnapshot(netstats.Snapshot{}, 0) // bootstrap

	rec.RecordSnapshot(netstats.Snapshot{
		Entries: []netstats.Entry{
			{Interface: "eth0", UID: 10, Counters: netstats.Counters{RxBytes: 100}},
			{Interface: "eth0", UID: 20, Counters: netstats.Counters{RxBytes: 200}},
		},
	}, 1000)
	rec.ForcePersist(1000)

	err := rot.MaybeRotate(1000 + (1 << 40))
	if err != nil {
		t.Fatalf("MaybeRotate: %v", err)
	}

	rec.RemoveUid(10)

	complete := rec.GetOrLoadComplete()

	sum10 := complete.GetSummary(netstats.SummaryTemplate{HasUID: true, UID: 10}, -1<<62, 1<<62)
	if !sum10.IsEmpty() {
		t.Fatalf("uid 10 should be gone: %+v", sum10)
	}

	sum20 := complete.GetSummary(netstats.SummaryTemplate{HasUID: true, UID: 20}, -1<<62, 1<<62)
	if sum20.RxBytes != 200 {
		t.Fatalf("uid 20 should remain: %+v", sum20)
	}
}

// TestSnapshotRecorder_NonMonotonicReportedForUnknownInterface covers
// spec.md §4.4 step 2 vs step 4 ordering: non-monotonic detection happens
// during subtraction, before the per-entry identity resolution of step 4,
// so a regression on an interface the resolver rejects is still reported.
func TestSnapshotRecorder_NonMonotonicReportedForUnknownInterface(t *testing.T) {
	t.Parallel()

	var reported []netstats.EntryKey

	rec := netstats.NewSnapshotRecorder(netstats.Config{
		Rotator:  newTestRotator(t),
		Resolver: func(string) (string, bool) { return "", false },
		Cookie:   "test-cookie",
		Observer: netstats.ObserverFunc(func(cookie string, key netstats.EntryKey) {
			reported = append(reported, key)
		}),
		PersistThresholdBytes: 1 << 30,
	})

	rec.RecordSnapshot(netstats.Snapshot{
		Entries: []netstats.Entry{{Interface: "ghost0", Counters: netstats.Counters{RxBytes: 1000}}},
	}, 0)

	rec.RecordSnapshot(netstats.Snapshot{
		Entries: []netstats.Entry{{Interface: "ghost0", Counters: netstats.Counters{RxBytes: 100}}},
	}, 1000)

	if len(reported) != 1 {
		t.Fatalf("expected 1 non-monotonic report even for an unresolvable interface, got %d", len(reported))
	}

	if rec.GetOrLoadComplete().GetTotalBytes() != 0 {
		t.Fatalf("unresolvable interface must still not be recorded")
	}
}

func TestSnapshotRecorder_UnknownInterfaceSkipped(t *testing.T) {
	t.Parallel()

	rec := netstats.NewSnapshotRecorder(netstats.Config{
		Rotator:               newTestRotator(t),
		Resolver:              func(string) (string, bool) { return "", false },
		PersistThresholdBytes: 1 << 30,
	})

	rec.RecordSnapshot(netstats.Snapshot{}, 0)
	rec.RecordSnapshot(netstats.Snapshot{
		Entries: []netstats.Entry{{Interface: "ghost0", Counters: netstats.Counters{RxBytes: 10}}},
	}, 1000)

	if rec.GetOrLoadComplete().GetTotalBytes() != 0 {
		t.Fatalf("unresolvable interface must not be recorded")
	}

	unknown := rec.UnknownInterfaces()
	if len(unknown) != 1 || unknown[0] != "ghost0" {
		t.Fatalf("UnknownInterfaces = %v, want [ghost0]", unknown)
	}
}

func TestSnapshotRecorder_Reset(t *testing.T) {
	t.Parallel()

	rec := netstats.NewSnapshotRecorder(netstats.Config{
		Rotator:               newTestRotator(t),
		Resolver:              identity,
		PersistThresholdBytes: 1 << 30,
	})

	rec.RecordSnapshot(netstats.Snapshot{}, 0)
	rec.RecordSnapshot(netstats.Snapshot{
		Entries: []netstats.Entry{{Interface: "eth0", Counters: netstats.Counters{RxBytes: 10}}},
	}, 1000)

	rec.Reset()

	if rec.GetOrLoadComplete().GetTotalBytes() != 0 {
		t.Fatalf("Reset must clear in-memory collections")
	}

	// After Reset, the next RecordSnapshot is a fresh bootstrap.
	rec.RecordSnapshot(netstats.Snapshot{
		Entries: []netstats.Entry{{Interface: "eth0", Counters: netstats.Counters{RxBytes: 999}}},
	}, 2000)

	if rec.GetOrLoadComplete().GetTotalBytes() != 0 {
		t.Fatalf("first snapshot after Reset must bootstrap, not record")
	}
}
