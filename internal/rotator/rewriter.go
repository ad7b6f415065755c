package rotator

import "io"

// Rewriter is a caller-supplied read-modify-write transformer invoked by
// FileRotator against a single managed file at a time.
//
// Within one call to rewriteSingle the sequence is strict:
// Reset -> Read (only if the file exists) -> ShouldWrite -> Write (only if
// ShouldWrite returned true, or the file didn't exist). The same Rewriter
// instance may be reused across many files in RewriteAll; Reset delimits
// the boundary between files.
//
// Implementations that visit multiple files (via RewriteAll) must be
// commutative: the order files are visited in is unspecified.
type Rewriter interface {
	// Reset clears any transient state before a pass. Called exactly once
	// per file, before Read.
	Reset()

	// Read consumes the existing content of the target file. Only called
	// when the target file currently exists.
	Read(r io.Reader) error

	// ShouldWrite gates the write phase. Only consulted when the target
	// file existed and Read was called; a missing file is always treated
	// as a candidate for creation regardless of ShouldWrite.
	ShouldWrite() bool

	// Write emits the new content of the target file.
	Write(w io.Writer) error
}
