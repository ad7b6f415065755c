// Package netstats implements the snapshot-delta recorder described in
// spec.md §4.4-4.5: it subtracts successive cumulative counter snapshots,
// distributes the resulting deltas across time-buckets keyed by
// (identity, uid, set, tag), and persists batches through an
// [github.com/calvinalkan/statsrotator/internal/rotator.FileRotator].
package netstats

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrCollectionCorrupt is returned from [StatsCollection.Read] when a
// stream fails the NETC1 magic/version/checksum check.
var ErrCollectionCorrupt = errors.New("netstats: collection corrupt")

const (
	netc1Magic   = "NETC1"
	netc1Version = 1
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// SetKind distinguishes the counter set an entry belongs to (matches the
// teacher-agnostic "set-kind" dimension spec.md §3 names as part of the
// collection key).
type SetKind uint8

// The two set kinds a recorder instance may record into.
const (
	SetDefault SetKind = iota
	SetTagged
)

// TagNone is the sentinel tag value spec.md §4.4 step 4 filters on: an
// entry with this tag is "tag-free".
const TagNone uint32 = 0

// EntryKey identifies one (identity-set, uid, set-kind, tag) bucket
// dimension, per spec.md §3's collection key.
type EntryKey struct {
	IdentitySet string
	UID         uint32
	Set         SetKind
	Tag         uint32
}

// Counters is the per-bucket counter tuple the collection stores.
type Counters struct {
	RxBytes   uint64
	RxPackets uint64
	TxBytes   uint64
	TxPackets uint64
}

// IsEmpty reports whether every counter is zero — spec.md §4.4 step 4's
// "skip entries that carry no counter movement."
func (c Counters) IsEmpty() bool {
	return c.RxBytes == 0 && c.RxPackets == 0 && c.TxBytes == 0 && c.TxPackets == 0
}

// Add returns the component-wise sum of c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		RxBytes:   c.RxBytes + o.RxBytes,
		RxPackets: c.RxPackets + o.RxPackets,
		TxBytes:   c.TxBytes + o.TxBytes,
		TxPackets: c.TxPackets + o.TxPackets,
	}
}

// bucket is one time-quantized slice of counters recorded for a key.
type bucket struct {
	start, end int64
	counters   Counters
}

// record is one (key, bucket) pair, the unit the NETC1 wire format stores.
type record struct {
	key    EntryKey
	bucket bucket
}

// StatsCollection is an in-memory, multidimensional history of counter
// buckets keyed by (identity-set, uid, set-kind, tag), per spec.md §3's
// collaborator contract. It is intentionally a flat append-mostly store:
// the rotator and recorder never inspect its internals, only its
// Read/Write/Reset/IsDirty surface.
type StatsCollection struct {
	records []record
	dirty   bool
}

// NewStatsCollection returns an empty collection.
func NewStatsCollection() *StatsCollection {
	return &StatsCollection{}
}

// IsEmpty reports whether the collection holds no records.
func (c *StatsCollection) IsEmpty() bool {
	return len(c.records) == 0
}

// IsDirty reports whether the collection has unpersisted mutations since
// the last [StatsCollection.ClearDirty] or [StatsCollection.Reset].
func (c *StatsCollection) IsDirty() bool {
	return c.dirty
}

// ClearDirty clears the dirty flag without touching the data, letting
// callers distinguish "read re-hydrated the same content" from "a
// subsequent mutation changed something" (used by [RemoveUidRewriter]).
func (c *StatsCollection) ClearDirty() {
	c.dirty = false
}

// Reset empties the collection and clears the dirty flag.
func (c *StatsCollection) Reset() {
	c.records = nil
	c.dirty = false
}

// GetTotalBytes estimates the collection's in-memory footprint, used by
// [SnapshotRecorder.MaybePersist] against the persist-threshold gate.
func (c *StatsCollection) GetTotalBytes() int {
	total := 0
	for _, r := range c.records {
		total += len(r.key.IdentitySet) + 4 + 1 + 4 + 8 + 8 + 32
	}

	return total
}

// GetStartMillis returns the minimum bucket start across all records, or
// 0 if the collection is empty.
func (c *StatsCollection) GetStartMillis() int64 {
	if len(c.records) == 0 {
		return 0
	}

	start := c.records[0].bucket.start
	for _, r := range c.records[1:] {
		if r.bucket.start < start {
			start = r.bucket.start
		}
	}

	return start
}

// GetEndMillis returns the maximum bucket end across all records, or 0 if
// the collection is empty.
func (c *StatsCollection) GetEndMillis() int64 {
	if len(c.records) == 0 {
		return 0
	}

	end := c.records[0].bucket.end
	for _, r := range c.records[1:] {
		if r.bucket.end > end {
			end = r.bucket.end
		}
	}

	return end
}

// RecordData folds a counter entry into the bucket [start,end) for key,
// merging with an existing identical (key, start, end) bucket if present.
func (c *StatsCollection) RecordData(key EntryKey, start, end int64, entry Counters) {
	for i := range c.records {
		r := &c.records[i]
		if r.key == key && r.bucket.start == start && r.bucket.end == end {
			r.bucket.counters = r.bucket.counters.Add(entry)
			c.dirty = true

			return
		}
	}

	c.records = append(c.records, record{key: key, bucket: bucket{start: start, end: end, counters: entry}})
	c.dirty = true
}

// RecordCollection folds every record of other into c, merging matching
// (key, bucket) pairs the same way [StatsCollection.RecordData] does.
// Matches spec.md §4.4's "getOrLoadComplete... fold pending into it".
func (c *StatsCollection) RecordCollection(other *StatsCollection) {
	if other == nil {
		return
	}

	for _, r := range other.records {
		c.RecordData(r.key, r.bucket.start, r.bucket.end, r.bucket.counters)
	}
}

// RemoveUid deletes every record belonging to uid. Reports whether any
// record was actually removed, which [RemoveUidRewriter] uses to decide
// whether to mark the collection dirty.
func (c *StatsCollection) RemoveUid(uid uint32) bool {
	out := c.records[:0]
	removed := false

	for _, r := range c.records {
		if r.key.UID == uid {
			removed = true

			continue
		}

		out = append(out, r)
	}

	c.records = out

	if removed {
		c.dirty = true
	}

	return removed
}

// SummaryTemplate selects which dimensions of [EntryKey] a
// [StatsCollection.GetSummary] call groups by; zero-value fields match
// any value, matching spec.md §3's "getSummary(template, from, to)".
type SummaryTemplate struct {
	IdentitySet string
	HasUID      bool
	UID         uint32
	HasSet      bool
	Set         SetKind
	HasTag      bool
	Tag         uint32
}

func (t SummaryTemplate) matches(key EntryKey) bool {
	if t.IdentitySet != "" && t.IdentitySet != key.IdentitySet {
		return false
	}

	if t.HasUID && t.UID != key.UID {
		return false
	}

	if t.HasSet && t.Set != key.Set {
		return false
	}

	if t.HasTag && t.Tag != key.Tag {
		return false
	}

	return true
}

// GetSummary sums counters for every record matching template whose
// bucket intersects the closed interval [from, to].
func (c *StatsCollection) GetSummary(template SummaryTemplate, from, to int64) Counters {
	var sum Counters

	for _, r := range c.records {
		if !template.matches(r.key) {
			continue
		}

		if !(r.bucket.start <= to && from <= r.bucket.end) {
			continue
		}

		sum = sum.Add(r.bucket.counters)
	}

	return sum
}

// Write serializes the collection to w in the NETC1 format (SPEC_FULL.md
// §3): magic, version, record count, records, trailing CRC32C over
// everything preceding it.
func (c *StatsCollection) Write(w io.Writer) error {
	var buf []byte

	buf = append(buf, netc1Magic...)
	buf = binary.LittleEndian.AppendUint32(buf, netc1Version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.records))) //nolint:gosec // record counts never approach uint32 overflow

	for _, r := range c.records {
		buf = appendRecord(buf, r)
	}

	checksum := crc32.Checksum(buf, crc32cTable)
	buf = binary.LittleEndian.AppendUint32(buf, checksum)

	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("netstats: write collection: %w", err)
	}

	return nil
}

func appendRecord(buf []byte, r record) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.key.IdentitySet))) //nolint:gosec // identity-set names are short
	buf = append(buf, r.key.IdentitySet...)
	buf = binary.LittleEndian.AppendUint32(buf, r.key.UID)
	buf = append(buf, byte(r.key.Set))
	buf = binary.LittleEndian.AppendUint32(buf, r.key.Tag)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.bucket.start)) //nolint:gosec // round-trips through the same cast on read
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.bucket.end))   //nolint:gosec // round-trips through the same cast on read
	buf = binary.LittleEndian.AppendUint64(buf, r.bucket.counters.RxBytes)
	buf = binary.LittleEndian.AppendUint64(buf, r.bucket.counters.RxPackets)
	buf = binary.LittleEndian.AppendUint64(buf, r.bucket.counters.TxBytes)
	buf = binary.LittleEndian.AppendUint64(buf, r.bucket.counters.TxPackets)

	return buf
}

// Read deserializes a NETC1 stream written by [StatsCollection.Write],
// folding its records into c via [StatsCollection.RecordData] (so Read
// on a non-empty collection merges rather than replaces, which is what
// [CombiningRewriter] relies on). Returns [ErrCollectionCorrupt] wrapped
// with the underlying reason on any structural or checksum mismatch.
func (c *StatsCollection) Read(r io.Reader) error {
	br := bufio.NewReader(r)

	data, err := io.ReadAll(br)
	if err != nil {
		return fmt.Errorf("netstats: read collection: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	const headerLen = 5 + 4 + 4
	if len(data) < headerLen+4 {
		return fmt.Errorf("%w: short stream (%d bytes)", ErrCollectionCorrupt, len(data))
	}

	if string(data[:5]) != netc1Magic {
		return fmt.Errorf("%w: bad magic", ErrCollectionCorrupt)
	}

	version := binary.LittleEndian.Uint32(data[5:9])
	if version != netc1Version {
		return fmt.Errorf("%w: unsupported version %d", ErrCollectionCorrupt, version)
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]

	wantChecksum := binary.LittleEndian.Uint32(trailer)
	gotChecksum := crc32.Checksum(body, crc32cTable)

	if wantChecksum != gotChecksum {
		return fmt.Errorf("%w: checksum mismatch", ErrCollectionCorrupt)
	}

	count := binary.LittleEndian.Uint32(data[9:13])
	recs, err := decodeRecords(data[headerLen:len(data)-4], count)
	if err != nil {
		return err
	}

	wasDirty := c.dirty
	for _, rec := range recs {
		c.RecordData(rec.key, rec.bucket.start, rec.bucket.end, rec.bucket.counters)
	}

	// Folding on-disk content into the collection is a re-hydration, not a
	// caller mutation; CombiningRewriter relies on ShouldWrite staying true
	// regardless, but RemoveUidRewriter clears this flag right after Read.
	c.dirty = wasDirty || len(recs) > 0

	return nil
}

func decodeRecords(data []byte, count uint32) ([]record, error) {
	recs := make([]record, 0, count)

	off := 0

	for range count {
		rec, n, err := decodeRecord(data[off:])
		if err != nil {
			return nil, err
		}

		recs = append(recs, rec)
		off += n
	}

	return recs, nil
}

func decodeRecord(data []byte) (record, int, error) {
	const fixedTail = 4 + 1 + 4 + 8 + 8 + 8 + 8 + 8 + 8

	if len(data) < 4 {
		return record{}, 0, fmt.Errorf("%w: truncated record header", ErrCollectionCorrupt)
	}

	idLen := binary.LittleEndian.Uint32(data)
	off := 4

	if len(data) < off+int(idLen)+fixedTail {
		return record{}, 0, fmt.Errorf("%w: truncated record body", ErrCollectionCorrupt)
	}

	identitySet := string(data[off : off+int(idLen)])
	off += int(idLen)

	uid := binary.LittleEndian.Uint32(data[off:])
	off += 4

	set := SetKind(data[off])
	off++

	tag := binary.LittleEndian.Uint32(data[off:])
	off += 4

	start := int64(binary.LittleEndian.Uint64(data[off:])) //nolint:gosec // symmetric with encode
	off += 8

	end := int64(binary.LittleEndian.Uint64(data[off:])) //nolint:gosec // symmetric with encode
	off += 8

	rxBytes := binary.LittleEndian.Uint64(data[off:])
	off += 8

	rxPackets := binary.LittleEndian.Uint64(data[off:])
	off += 8

	txBytes := binary.LittleEndian.Uint64(data[off:])
	off += 8

	txPackets := binary.LittleEndian.Uint64(data[off:])
	off += 8

	rec := record{
		key: EntryKey{IdentitySet: identitySet, UID: uid, Set: set, Tag: tag},
		bucket: bucket{
			start:    start,
			end:      end,
			counters: Counters{RxBytes: rxBytes, RxPackets: rxPackets, TxBytes: txBytes, TxPackets: txPackets},
		},
	}

	return rec, off, nil
}
