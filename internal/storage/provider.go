// Package storage is the local replica's file-system layer: note bodies in the
// cache tree and the persisted index file.
package storage

// Provider is the interface for replica file operations. All paths are
// relative to the provider root.
type Provider interface {
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path with content.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
