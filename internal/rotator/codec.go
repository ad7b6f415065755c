// Package rotator implements a logrotate-style directory manager: one
// "active" file grows over time, is sealed into a historical file once old
// enough, and historical files eventually expire and are deleted. All
// content mutations go through an atomic read-modify-write protocol that
// survives crashes at any point.
package rotator

import (
	"math"
	"strconv"
	"strings"
)

// Infinity is the sentinel end-timestamp for an active (open-ended) file.
const Infinity int64 = math.MaxInt64

// Codec parses and formats filenames of the form "prefix.start-end".
//
// A file is active iff the suffix after the dash is empty, which this
// package represents as an end timestamp of [Infinity].
type Codec struct {
	Prefix string
}

// NewCodec returns a Codec for the given filename prefix.
func NewCodec(prefix string) Codec {
	return Codec{Prefix: prefix}
}

// Parse extracts the start/end timestamps from name.
//
// It returns ok=false (never an error) when name does not parse: missing
// dot, missing dash, wrong prefix, or a non-numeric timestamp. Parse
// failures are not exceptional — callers should silently skip the entry.
func (c Codec) Parse(name string) (start, end int64, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return 0, 0, false
	}

	dash := strings.LastIndexByte(name, '-')
	if dash < 0 || dash < dot {
		return 0, 0, false
	}

	if name[:dot] != c.Prefix {
		return 0, 0, false
	}

	startStr := name[dot+1 : dash]

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}

	endStr := name[dash+1:]
	if endStr == "" {
		return start, Infinity, true
	}

	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}

	return start, end, true
}

// Build formats a filename for the given start/end timestamps.
//
// end == [Infinity] produces an active (open-ended) filename.
func (c Codec) Build(start, end int64) string {
	var b strings.Builder

	b.WriteString(c.Prefix)
	b.WriteByte('.')
	b.WriteString(strconv.FormatInt(start, 10))
	b.WriteByte('-')

	if end != Infinity {
		b.WriteString(strconv.FormatInt(end, 10))
	}

	return b.String()
}

// IsActive reports whether end represents an open-ended (active) file.
func IsActive(end int64) bool {
	return end == Infinity
}
