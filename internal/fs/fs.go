// Package fs provides filesystem utilities for vouch.
// All durable writes go through the atomic write helpers in this package.
package fs

import (
	"io/fs"
	"os"
)

// FS is the filesystem interface used by the store and config layers.
// Production code uses RealFS; tests may substitute a stub.
type FS interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm fs.FileMode) error
	MkdirAll(path string, perm fs.FileMode) error
	Rename(oldpath, newpath string) error
	Remove(path string) error
	Stat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
}

// RealFS implements FS against the host filesystem.
type RealFS struct{}

// NewRealFS returns an FS backed by the os package.
func NewRealFS() FS {
	return RealFS{}
}

func (RealFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (RealFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (RealFS) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (RealFS) Remove(path string) error {
	return os.Remove(path)
}

func (RealFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (RealFS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}
