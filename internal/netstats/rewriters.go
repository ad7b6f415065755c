package netstats

import "io"

// CombiningRewriter folds a collection's content into whatever content
// the target file already holds, then consumes the collection. Spec.md
// §4.5: "read = collection.read(stream) (this folds on-disk content into
// the in-memory collection)... write = collection.write(stream) then
// collection.reset()."
type CombiningRewriter struct {
	collection *StatsCollection
}

// NewCombiningRewriter returns a rewriter that merges c with on-disk
// content and persists the union, consuming c on success.
func NewCombiningRewriter(c *StatsCollection) *CombiningRewriter {
	return &CombiningRewriter{collection: c}
}

// Reset is a no-op: the caller owns the collection's lifetime across
// rewrites, not the rewriter.
func (r *CombiningRewriter) Reset() {}

// Read folds the on-disk content into the in-memory collection.
func (r *CombiningRewriter) Read(stream io.Reader) error {
	return r.collection.Read(stream)
}

// ShouldWrite is always true: a combining rewrite always has something
// to persist (at minimum, its own pending content).
func (r *CombiningRewriter) ShouldWrite() bool {
	return true
}

// Write persists the merged collection, then clears it so the caller's
// in-memory pending buffer starts empty again.
func (r *CombiningRewriter) Write(stream io.Writer) error {
	err := r.collection.Write(stream)
	if err != nil {
		return err
	}

	r.collection.Reset()

	return nil
}

// RemoveUidRewriter filters a uid's records out of every file it is run
// against (via [rotator.FileRotator.RewriteAll]), skipping the rewrite
// entirely for files that never held data for that uid. Spec.md §4.5.
type RemoveUidRewriter struct {
	uid  uint32
	temp *StatsCollection
}

// NewRemoveUidRewriter returns a rewriter that strips uid from every file
// it visits.
func NewRemoveUidRewriter(uid uint32) *RemoveUidRewriter {
	return &RemoveUidRewriter{uid: uid, temp: NewStatsCollection()}
}

// Reset clears the scratch collection before the next file.
func (r *RemoveUidRewriter) Reset() {
	r.temp.Reset()
}

// Read loads the file's content, then clears the dirty flag and removes
// uid — so IsDirty reflects only whether the removal itself changed
// anything, not whether Read folded in any content.
func (r *RemoveUidRewriter) Read(stream io.Reader) error {
	err := r.temp.Read(stream)
	if err != nil {
		return err
	}

	r.temp.ClearDirty()
	r.temp.RemoveUid(r.uid)

	return nil
}

// ShouldWrite gates the rewrite on whether the removal changed anything.
func (r *RemoveUidRewriter) ShouldWrite() bool {
	return r.temp.IsDirty()
}

// Write persists the filtered collection.
func (r *RemoveUidRewriter) Write(stream io.Writer) error {
	return r.temp.Write(stream)
}
