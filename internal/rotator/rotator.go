package rotator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calvinalkan/statsrotator/pkg/fs"
)

const (
	backupSuffix   = ".backup"
	noBackupSuffix = ".no_backup"

	targetFilePerm = 0o640
	markerFilePerm = 0o640

	osCreateExclFlags  = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	osTruncCreateFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
)

// ErrRewriteFailed wraps any filesystem failure raised from the atomic
// rewrite protocol (construction recovery sweep, RewriteActive, RewriteAll,
// ReadMatching). Use errors.Is(err, ErrRewriteFailed) to detect it.
var ErrRewriteFailed = errors.New("rotator: rewrite failed")

// StreamReader consumes the content of a single managed file.
// It is the read-only half of [Rewriter], used by [FileRotator.ReadMatching].
type StreamReader interface {
	Read(r io.Reader) error
}

// Config configures a [FileRotator].
type Config struct {
	// BasePath is the directory the rotator manages. Created (with parents)
	// on construction if missing.
	BasePath string

	// Prefix is the filename prefix shared by every file this rotator manages.
	Prefix string

	// RotateAgeMillis is how long (in the caller's millisecond epoch) an
	// active file may grow before MaybeRotate seals it.
	RotateAgeMillis int64

	// DeleteAgeMillis is how long a sealed file may sit before MaybeRotate
	// deletes it, measured from the file's end timestamp.
	DeleteAgeMillis int64

	// OnDropped is invoked, if non-nil, whenever MaybeRotate or DeleteAll
	// best-effort drops a per-entry rename/delete failure. It never receives
	// directory-listing failures, which are always fatal to the caller.
	OnDropped func(name string, err error)
}

// FileRotator is a logrotate-style directory manager. See the package doc
// comment for the overall model. FileRotator is not safe for concurrent
// use; callers must serialize all calls on a given instance.
type FileRotator struct {
	fs    fs.FS
	codec Codec
	cfg   Config
}

// New creates a FileRotator over cfg.BasePath, creating the directory if
// necessary, then performs a crash-recovery sweep over any sidecar files
// left behind by an interrupted rewrite. Recovery is idempotent.
func New(fsys fs.FS, cfg Config) (*FileRotator, error) {
	if fsys == nil {
		return nil, errors.New("rotator: fs is nil")
	}

	if cfg.BasePath == "" {
		return nil, errors.New("rotator: BasePath is empty")
	}

	if cfg.Prefix == "" {
		return nil, errors.New("rotator: Prefix is empty")
	}

	err := fsys.MkdirAll(cfg.BasePath, 0o750)
	if err != nil {
		return nil, fmt.Errorf("rotator: create base path: %w", errors.Join(ErrRewriteFailed, err))
	}

	// Make basePath's own entry durable in its parent, so that files
	// committed under it survive a crash.
	parent, err := fsys.Open(filepath.Dir(cfg.BasePath))
	if err != nil {
		return nil, fmt.Errorf("rotator: open parent of base path: %w", errors.Join(ErrRewriteFailed, err))
	}

	syncErr := fs.FullSync(parent)
	closeErr := parent.Close()

	if syncErr != nil || closeErr != nil {
		return nil, fmt.Errorf("rotator: sync parent of base path: %w", errors.Join(ErrRewriteFailed, syncErr, closeErr))
	}

	r := &FileRotator{
		fs:    fsys,
		codec: NewCodec(cfg.Prefix),
		cfg:   cfg,
	}

	err = r.recover()
	if err != nil {
		return nil, err
	}

	return r, nil
}

// recover sweeps basePath for sidecar files left by an interrupted
// rewriteSingle and restores each managed file to either its pre-rewrite
// or post-rewrite state.
func (r *FileRotator) recover() error {
	entries, err := r.fs.ReadDir(r.cfg.BasePath)
	if err != nil {
		return fmt.Errorf("rotator: recovery: list %q: %w", r.cfg.BasePath, errors.Join(ErrRewriteFailed, err))
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, r.cfg.Prefix) {
			continue
		}

		switch {
		case strings.HasSuffix(name, backupSuffix):
			base := strings.TrimSuffix(name, backupSuffix)

			err := r.fs.Rename(r.path(name), r.path(base))
			if err != nil {
				return fmt.Errorf("rotator: recovery: restore %q: %w", base, errors.Join(ErrRewriteFailed, err))
			}
		case strings.HasSuffix(name, noBackupSuffix):
			base := strings.TrimSuffix(name, noBackupSuffix)

			err := r.fs.Remove(r.path(name))
			if err != nil {
				return fmt.Errorf("rotator: recovery: remove marker %q: %w", name, errors.Join(ErrRewriteFailed, err))
			}

			// The partial target may never have reached the disk.
			err = r.fs.Remove(r.path(base))
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("rotator: recovery: remove partial %q: %w", base, errors.Join(ErrRewriteFailed, err))
			}
		}
	}

	return r.syncDir()
}

// syncDir durably commits pending directory entry changes (create, rename,
// remove) in basePath. File content durability is handled separately by
// writeTarget; directory entries need their own sync per fs.FS's contract.
func (r *FileRotator) syncDir() error {
	d, err := r.fs.Open(r.cfg.BasePath)
	if err != nil {
		return fmt.Errorf("rotator: open dir %q: %w", r.cfg.BasePath, errors.Join(ErrRewriteFailed, err))
	}

	syncErr := fs.FullSync(d)
	closeErr := d.Close()

	if syncErr != nil {
		return fmt.Errorf("rotator: sync dir %q: %w", r.cfg.BasePath, errors.Join(ErrRewriteFailed, syncErr, closeErr))
	}

	if closeErr != nil {
		return fmt.Errorf("rotator: close dir %q: %w", r.cfg.BasePath, errors.Join(ErrRewriteFailed, closeErr))
	}

	return nil
}

func (r *FileRotator) path(name string) string {
	return filepath.Join(r.cfg.BasePath, name)
}

// DeleteAll deletes every codec-accepted file in the directory.
func (r *FileRotator) DeleteAll() error {
	names, err := r.acceptedNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		err := r.fs.Remove(r.path(name))
		if err != nil {
			r.dropped(name, err)
		}
	}

	return nil
}

// RewriteActive determines the current active file (see selectActiveName for
// the selection policy) and atomically folds rw's output into it.
func (r *FileRotator) RewriteActive(rw Rewriter, nowMillis int64) error {
	name, err := r.selectActiveName(nowMillis)
	if err != nil {
		return err
	}

	return r.rewriteSingle(rw, name)
}

// selectActiveName picks the oldest active file covering nowMillis, or
// synthesizes a new active filename starting at nowMillis if none exists.
// Ties on the smallest start are broken lexicographically by filename,
// which os.ReadDir already returns sorted by, so no tiebreak is needed
// beyond picking the first match in iteration order.
func (r *FileRotator) selectActiveName(nowMillis int64) (string, error) {
	names, err := r.acceptedNames()
	if err != nil {
		return "", err
	}

	best := ""
	bestStart := int64(0)

	for _, name := range names {
		start, end, ok := r.codec.Parse(name)
		if !ok || !IsActive(end) {
			continue
		}

		if start >= nowMillis {
			continue
		}

		if best == "" || start < bestStart {
			best, bestStart = name, start
		}
	}

	if best != "" {
		return best, nil
	}

	return r.codec.Build(nowMillis, Infinity), nil
}

// RewriteAll invokes rw against every codec-accepted file, in an unspecified
// order. rw must be commutative across files. Stops and returns the first
// error encountered.
func (r *FileRotator) RewriteAll(rw Rewriter) error {
	names, err := r.acceptedNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		err := r.rewriteSingle(rw, name)
		if err != nil {
			return err
		}
	}

	return nil
}

// ReadMatching streams every codec-accepted file whose [start,end] range
// intersects the closed interval [fromMillis, toMillis] to reader, in an
// unspecified order. reader must be commutative across files.
func (r *FileRotator) ReadMatching(reader StreamReader, fromMillis, toMillis int64) error {
	names, err := r.acceptedNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		start, end, ok := r.codec.Parse(name)
		if !ok {
			continue
		}

		if !(start <= toMillis && fromMillis <= end) {
			continue
		}

		err := r.readStream(reader, name)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *FileRotator) readStream(reader StreamReader, name string) error {
	f, err := r.fs.Open(r.path(name))
	if err != nil {
		return fmt.Errorf("rotator: read %q: %w", name, errors.Join(ErrRewriteFailed, err))
	}

	readErr := reader.Read(bufio.NewReader(f))
	closeErr := f.Close()

	if readErr != nil {
		return fmt.Errorf("rotator: read %q: %w", name, errors.Join(ErrRewriteFailed, readErr))
	}

	if closeErr != nil {
		return fmt.Errorf("rotator: close %q: %w", name, errors.Join(ErrRewriteFailed, closeErr))
	}

	return nil
}

// MaybeRotate seals active files older than RotateAgeMillis and deletes
// sealed files older than DeleteAgeMillis. Per-entry rename/delete failures
// are dropped (reported via cfg.OnDropped, if set) rather than propagated;
// a directory-listing failure is fatal.
func (r *FileRotator) MaybeRotate(nowMillis int64) error {
	names, err := r.acceptedNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		start, end, ok := r.codec.Parse(name)
		if !ok {
			continue
		}

		switch {
		case IsActive(end) && start <= nowMillis-r.cfg.RotateAgeMillis:
			sealed := r.codec.Build(start, nowMillis)

			err := r.fs.Rename(r.path(name), r.path(sealed))
			if err != nil {
				r.dropped(name, err)
			}
		case !IsActive(end) && end <= nowMillis-r.cfg.DeleteAgeMillis:
			err := r.fs.Remove(r.path(name))
			if err != nil {
				r.dropped(name, err)
			}
		}
	}

	return nil
}

func (r *FileRotator) dropped(name string, err error) {
	if r.cfg.OnDropped != nil {
		r.cfg.OnDropped(name, err)
	}
}

// FileInfo describes one managed file's decoded range, for read-only
// introspection callers (an operator CLI's "ls", for example) that have
// no other way to discover what the rotator is managing.
type FileInfo struct {
	Name   string
	Start  int64
	End    int64
	Active bool
}

// ListFiles returns every codec-accepted file with its decoded range,
// sorted by name.
func (r *FileRotator) ListFiles() ([]FileInfo, error) {
	names, err := r.acceptedNames()
	if err != nil {
		return nil, err
	}

	infos := make([]FileInfo, 0, len(names))

	for _, name := range names {
		start, end, ok := r.codec.Parse(name)
		if !ok {
			continue
		}

		infos = append(infos, FileInfo{Name: name, Start: start, End: end, Active: IsActive(end)})
	}

	return infos, nil
}

// acceptedNames returns every directory entry the codec accepts, sorted
// (os.ReadDir's natural order) for deterministic iteration in tests.
func (r *FileRotator) acceptedNames() ([]string, error) {
	entries, err := r.fs.ReadDir(r.cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("rotator: list %q: %w", r.cfg.BasePath, errors.Join(ErrRewriteFailed, err))
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		_, _, ok := r.codec.Parse(e.Name())
		if ok {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// rewriteSingle runs the atomic read-modify-write protocol (spec §4.2)
// against the single managed file name.
func (r *FileRotator) rewriteSingle(rw Rewriter, name string) error {
	rw.Reset()

	path := r.path(name)

	exists, err := r.fs.Exists(path)
	if err != nil {
		return fmt.Errorf("rotator: stat %q: %w", name, errors.Join(ErrRewriteFailed, err))
	}

	if !exists {
		return r.createNew(rw, name, path)
	}

	err = r.readExisting(rw, name, path)
	if err != nil {
		return err
	}

	if !rw.ShouldWrite() {
		return nil
	}

	return r.rewriteExisting(rw, name, path)
}

func (r *FileRotator) readExisting(rw Rewriter, name, path string) error {
	f, err := r.fs.Open(path)
	if err != nil {
		return fmt.Errorf("rotator: open %q: %w", name, errors.Join(ErrRewriteFailed, err))
	}

	readErr := rw.Read(bufio.NewReader(f))
	closeErr := f.Close()

	if readErr != nil {
		return fmt.Errorf("rotator: read %q: %w", name, errors.Join(ErrRewriteFailed, readErr))
	}

	if closeErr != nil {
		return fmt.Errorf("rotator: close %q: %w", name, errors.Join(ErrRewriteFailed, closeErr))
	}

	return nil
}

// rewriteExisting backs the existing content up to name+".backup", writes
// the new content to name, and deletes the backup on success. On any
// write-side failure, the partial target is removed and the backup is
// renamed back into place, restoring the pre-rewrite content.
func (r *FileRotator) rewriteExisting(rw Rewriter, name, path string) error {
	backupPath := path + backupSuffix

	err := r.fs.Rename(path, backupPath)
	if err != nil {
		return fmt.Errorf("rotator: backup %q: %w", name, errors.Join(ErrRewriteFailed, err))
	}

	err = r.syncDir()
	if err != nil {
		return err
	}

	writeErr := r.writeTarget(rw, path)
	if writeErr == nil {
		removeErr := r.fs.Remove(backupPath)
		if removeErr != nil {
			return fmt.Errorf("rotator: remove backup %q: %w", name, errors.Join(ErrRewriteFailed, removeErr))
		}

		return r.syncDir()
	}

	_ = r.fs.Remove(path)

	renameErr := r.fs.Rename(backupPath, path)
	if renameErr != nil {
		return fmt.Errorf(
			"rotator: restore %q after failed write: %w",
			name, errors.Join(ErrRewriteFailed, writeErr, renameErr),
		)
	}

	_ = r.syncDir()

	return fmt.Errorf("rotator: write %q: %w", name, errors.Join(ErrRewriteFailed, writeErr))
}

// createNew marks path as under construction, writes the new content, and
// clears the marker on success. On failure both the marker and any partial
// target are removed, leaving no file behind.
func (r *FileRotator) createNew(rw Rewriter, name, path string) error {
	markerPath := path + noBackupSuffix

	marker, err := r.fs.OpenFile(markerPath, osCreateExclFlags, markerFilePerm)
	if err != nil {
		return fmt.Errorf("rotator: create marker %q: %w", name, errors.Join(ErrRewriteFailed, err))
	}

	err = marker.Close()
	if err != nil {
		return fmt.Errorf("rotator: close marker %q: %w", name, errors.Join(ErrRewriteFailed, err))
	}

	err = r.syncDir()
	if err != nil {
		return err
	}

	writeErr := r.writeTarget(rw, path)
	if writeErr == nil {
		removeErr := r.fs.Remove(markerPath)
		if removeErr != nil {
			return fmt.Errorf("rotator: remove marker %q: %w", name, errors.Join(ErrRewriteFailed, removeErr))
		}

		return r.syncDir()
	}

	_ = r.fs.Remove(path)
	_ = r.fs.Remove(markerPath)
	_ = r.syncDir()

	return fmt.Errorf("rotator: write %q: %w", name, errors.Join(ErrRewriteFailed, writeErr))
}

// writeTarget opens path fresh, calls rw.Write through a buffered writer,
// flushes, and durably syncs before closing. Durability holds only if this
// function returns nil.
func (r *FileRotator) writeTarget(rw Rewriter, path string) error {
	f, err := r.fs.OpenFile(path, osTruncCreateFlags, targetFilePerm)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	bw := bufio.NewWriter(f)

	writeErr := rw.Write(bw)
	if writeErr == nil {
		writeErr = bw.Flush()
	}

	if writeErr == nil {
		writeErr = fs.FullSync(f)
	}

	closeErr := f.Close()

	if writeErr != nil {
		return errors.Join(fmt.Errorf("write: %w", writeErr), closeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close: %w", closeErr)
	}

	return nil
}
