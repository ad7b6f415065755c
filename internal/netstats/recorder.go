package netstats

import (
	"errors"
	"log/slog"

	"github.com/calvinalkan/statsrotator/internal/rotator"
)

// ErrNonMonotonic is never returned; it exists only so observer callers
// have a sentinel to compare against if they want to log with
// errors.Is-style matching instead of inspecting the key directly.
var ErrNonMonotonic = errors.New("netstats: non-monotonic counter")

// Config configures a [SnapshotRecorder].
type Config struct {
	// Rotator persists pending data to disk when the threshold is crossed.
	Rotator *rotator.FileRotator

	// Resolver maps an interface name to an identity-set string.
	// Unresolvable interfaces are skipped (SPEC_FULL.md §3).
	Resolver IdentityResolver

	// Observer is notified synchronously of non-monotonic counters.
	// May be nil.
	Observer Observer

	// Cookie is an opaque label passed to Observer so a shared observer
	// can disambiguate which recorder instance reported.
	Cookie string

	// BucketDuration is stored with the configuration but the recorder does
	// not read it: each delta is recorded over its own range
	// [nowMillis-elapsed, nowMillis], not quantized into buckets of this width.
	BucketDuration int64

	// PersistThresholdBytes is the pending-byte watermark that triggers
	// ForcePersist from MaybePersist.
	PersistThresholdBytes int

	// OnlyTags selects this recorder's tag class: false records only
	// TagNone entries, true records only tagged entries. Spec.md §4.4:
	// "each recorder instance therefore owns exactly one tag class."
	OnlyTags bool

	// Logger receives advisory diagnostics (unknown interfaces, swallowed
	// persistence failures). Defaults to [slog.Default] if nil.
	Logger *slog.Logger
}

// SnapshotRecorder subtracts successive cumulative snapshots into
// non-negative deltas, distributes them across in-memory collections,
// and persists batches to a [rotator.FileRotator] once a byte threshold
// is crossed. Spec.md §4.4. Not safe for concurrent use.
type SnapshotRecorder struct {
	cfg Config

	lastSnapshot  *Snapshot
	pending       *StatsCollection
	sinceBoot     *StatsCollection
	complete      CompleteCache
	unknownIfaces map[string]struct{}
}

// NewSnapshotRecorder constructs a recorder from cfg.
func NewSnapshotRecorder(cfg Config) *SnapshotRecorder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &SnapshotRecorder{
		cfg:           cfg,
		pending:       NewStatsCollection(),
		sinceBoot:     NewStatsCollection(),
		unknownIfaces: make(map[string]struct{}),
	}
}

// RecordSnapshot ingests one cumulative counter sample, per spec.md §4.4.
//
// The first call ever made on a recorder (lastSnapshot absent) bootstraps
// the baseline and never mutates any collection or disk — spec.md §8's
// "Bootstrap" testable property.
func (r *SnapshotRecorder) RecordSnapshot(snapshot Snapshot, nowMillis int64) {
	if r.lastSnapshot == nil {
		r.lastSnapshot = &snapshot

		return
	}

	d := subtractSnapshots(*r.lastSnapshot, snapshot)

	end := nowMillis
	start := end - d.ElapsedRealtime

	for _, e := range d.Entries {
		r.recordDeltaEntry(e, start, end)
	}

	r.lastSnapshot = &snapshot
}

func (r *SnapshotRecorder) recordDeltaEntry(e entryDelta, start, end int64) {
	// Non-monotonic detection belongs to subtraction (spec.md §4.4 step 2),
	// which happens before step 4's per-entry identity resolution and tag
	// distribution — so report it even for an interface recordData will
	// never see, keyed on the raw interface name since no identity set
	// exists for it yet.
	if e.NonMonotonic && r.cfg.Observer != nil {
		r.cfg.Observer.FoundNonMonotonic(r.cfg.Cookie, EntryKey{
			IdentitySet: e.Interface, UID: e.UID, Set: e.Set, Tag: e.Tag,
		})
	}

	identitySet, ok := r.resolveIdentity(e.Interface)
	if !ok {
		r.unknownIfaces[e.Interface] = struct{}{}
		r.cfg.Logger.Debug("netstats: unknown interface, skipping", "interface", e.Interface)

		return
	}

	key := EntryKey{IdentitySet: identitySet, UID: e.UID, Set: e.Set, Tag: e.Tag}

	if e.Counters.IsEmpty() {
		return
	}

	if !r.tagMatches(e.Tag) {
		return
	}

	r.pending.RecordData(key, start, end, e.Counters)
	r.sinceBoot.RecordData(key, start, end, e.Counters)

	if complete, ok := r.complete.Get(); ok {
		complete.RecordData(key, start, end, e.Counters)
	}
}

func (r *SnapshotRecorder) resolveIdentity(iface string) (string, bool) {
	if r.cfg.Resolver == nil {
		return iface, true
	}

	return r.cfg.Resolver(iface)
}

// tagMatches implements spec.md §4.4 step 4's tag filter: an entry with
// tag==TagNone is recorded iff OnlyTags==false; a tagged entry is
// recorded iff OnlyTags==true.
func (r *SnapshotRecorder) tagMatches(tag uint32) bool {
	if tag == TagNone {
		return !r.cfg.OnlyTags
	}

	return r.cfg.OnlyTags
}

// UnknownInterfaces returns the set of interface names RecordSnapshot has
// been unable to resolve since the recorder was constructed (or last
// Reset). Advisory only, per spec.md §7.
func (r *SnapshotRecorder) UnknownInterfaces() []string {
	names := make([]string, 0, len(r.unknownIfaces))
	for name := range r.unknownIfaces {
		names = append(names, name)
	}

	return names
}

// MaybePersist calls ForcePersist if pending has crossed the threshold,
// otherwise just runs the rotator's age-based maintenance sweep. Spec.md
// §4.4's persistence gate.
func (r *SnapshotRecorder) MaybePersist(nowMillis int64) {
	if r.pending.GetTotalBytes() >= r.cfg.PersistThresholdBytes {
		r.ForcePersist(nowMillis)

		return
	}

	err := r.cfg.Rotator.MaybeRotate(nowMillis)
	if err != nil {
		r.cfg.Logger.Warn("netstats: MaybeRotate failed", "error", err)
	}
}

// ForcePersist folds pending into the active file and clears it on
// success. An IO failure is logged and swallowed: pending is retained so
// the next attempt retries the same data, per spec.md §4.4/§7.
func (r *SnapshotRecorder) ForcePersist(nowMillis int64) {
	if !r.pending.IsDirty() {
		return
	}

	err := r.cfg.Rotator.RewriteActive(NewCombiningRewriter(r.pending), nowMillis)
	if err != nil {
		r.cfg.Logger.Error("netstats: persist failed, retaining pending", "error", err)

		return
	}

	err = r.cfg.Rotator.MaybeRotate(nowMillis)
	if err != nil {
		r.cfg.Logger.Warn("netstats: MaybeRotate failed", "error", err)
	}

	r.pending.Reset()
}

// RemoveUid strips uid from every on-disk file and from lastSnapshot.
// IO failures are logged, not propagated, per spec.md §4.4.
func (r *SnapshotRecorder) RemoveUid(uid uint32) {
	err := r.cfg.Rotator.RewriteAll(NewRemoveUidRewriter(uid))
	if err != nil {
		r.cfg.Logger.Error("netstats: remove uid failed", "uid", uid, "error", err)

		return
	}

	if r.lastSnapshot != nil {
		filtered := r.lastSnapshot.Entries[:0]

		for _, e := range r.lastSnapshot.Entries {
			if e.UID != uid {
				filtered = append(filtered, e)
			}
		}

		r.lastSnapshot.Entries = filtered
	}
}

// GetOrLoadComplete returns the materialized full history, rebuilding
// from disk plus pending if the weak cache has been reclaimed. Spec.md
// §4.4's complete cache.
func (r *SnapshotRecorder) GetOrLoadComplete() *StatsCollection {
	if complete, ok := r.complete.Get(); ok {
		return complete
	}

	complete := NewStatsCollection()

	err := r.cfg.Rotator.ReadMatching(complete, -rotator.Infinity, rotator.Infinity)
	if err != nil {
		r.cfg.Logger.Error("netstats: load complete history failed", "error", err)
	}

	complete.RecordCollection(r.pending)
	r.complete.Set(complete)

	return complete
}

// ImportLegacyNetwork replaces all on-disk data with collection's
// content, writing it as a single historical file at collection's
// original time range. Spec.md §4.4's legacy import (network variant).
func (r *SnapshotRecorder) ImportLegacyNetwork(collection *StatsCollection) error {
	return r.importLegacy(collection)
}

// ImportLegacyUid is the per-uid legacy import variant; the collection
// passed in is expected to already be scoped to one uid by the caller.
func (r *SnapshotRecorder) ImportLegacyUid(collection *StatsCollection) error {
	return r.importLegacy(collection)
}

func (r *SnapshotRecorder) importLegacy(collection *StatsCollection) error {
	err := r.cfg.Rotator.DeleteAll()
	if err != nil {
		return err
	}

	if collection.IsEmpty() {
		return nil
	}

	err = r.cfg.Rotator.RewriteActive(NewCombiningRewriter(collection), collection.GetStartMillis())
	if err != nil {
		return err
	}

	return r.cfg.Rotator.MaybeRotate(collection.GetEndMillis())
}

// Reset clears lastSnapshot and both in-memory collections, and
// invalidates the complete cache. It does not touch disk.
func (r *SnapshotRecorder) Reset() {
	r.lastSnapshot = nil
	r.pending.Reset()
	r.sinceBoot.Reset()
	r.complete.Invalidate()
	r.unknownIfaces = make(map[string]struct{})
}
