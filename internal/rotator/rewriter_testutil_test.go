package rotator_test

import "io"

// stringRewriter is a test Rewriter that folds its Content into existing
// file content by simple concatenation, so crash-recovery tests can assert
// on a known string rather than a real StatsCollection payload.
type stringRewriter struct {
	Content string

	read        string
	shouldWrite bool
}

func writerOf(content string) *stringRewriter {
	return &stringRewriter{Content: content, shouldWrite: true}
}

func (w *stringRewriter) Reset() {
	w.read = ""
}

func (w *stringRewriter) Read(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	w.read = string(data)

	return nil
}

func (w *stringRewriter) ShouldWrite() bool {
	return w.shouldWrite
}

func (w *stringRewriter) Write(wr io.Writer) error {
	_, err := io.WriteString(wr, w.read+w.Content)

	return err
}

// gateRewriter always reports false from ShouldWrite after reading, so
// FileRotator must skip the write phase entirely.
type gateRewriter struct{}

func (gateRewriter) Reset()               {}
func (gateRewriter) Read(io.Reader) error  { return nil }
func (gateRewriter) ShouldWrite() bool     { return false }
func (gateRewriter) Write(io.Writer) error { panic("write must not be called") }

// readCapture records whatever content was visited via ReadMatching/RewriteAll.
type readCapture struct {
	seen []string
}

func (c *readCapture) Read(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	c.seen = append(c.seen, string(data))

	return nil
}
