//go:build !darwin

package fs

// FullSync commits f's contents to disk via [File.Sync].
//
// On platforms without a stronger storage-barrier primitive, this is
// fsync(2) (or the OS equivalent) and nothing more. See sync_darwin.go
// for the Darwin F_FULLFSYNC variant.
func FullSync(f File) error {
	return f.Sync()
}
