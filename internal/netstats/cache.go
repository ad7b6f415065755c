package netstats

import "weak"

// CompleteCache holds a weak handle to the fully materialized history
// (the "complete" collection of spec.md §3/§4.4), so memory pressure can
// reclaim it between reads without the recorder needing to track
// liveness itself. Spec.md §9: "the contract is: getOrLoadComplete
// always returns a valid object, rebuilding from disk+pending if
// needed."
type CompleteCache struct {
	handle weak.Pointer[StatsCollection]
}

// Get returns the cached collection if the GC has not reclaimed it. The
// caller must keep the returned pointer alive for as long as it uses it;
// the cache itself holds no strong reference.
func (c *CompleteCache) Get() (*StatsCollection, bool) {
	v := c.handle.Value()
	if v == nil {
		return nil, false
	}

	return v, true
}

// Set installs collection as the new weak handle.
func (c *CompleteCache) Set(collection *StatsCollection) {
	c.handle = weak.Make(collection)
}

// Invalidate drops the cache, forcing the next Get to miss.
func (c *CompleteCache) Invalidate() {
	c.handle = weak.Pointer[StatsCollection]{}
}
