// Package storage persists index artifacts (embedding snapshots) on the local
// file system with crash-safe replace semantics.
package storage

// Provider is the interface for artifact file operations. All paths are
// relative to the provider root.
type Provider interface {
	// Read returns the raw bytes of the artifact at path.
	Read(path string) ([]byte, error)
	// Write replaces the artifact at path. A crash mid-write leaves the
	// previous version intact.
	Write(path string, content []byte) error
}
