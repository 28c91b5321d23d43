// Package vfs is the filesystem boundary used by chart discovery, values
// loading and archive extraction. Every consumer treats failures from it as
// absence, so implementations only need to report errors honestly.
package vfs

import (
	"io"
	"io/fs"
	"os"
)

// FileSystem is the set of filesystem operations the resolver depends on.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Open(name string) (io.ReadCloser, error)
}

// OS is the FileSystem backed by the host operating system.
type OS struct{}

// ReadFile reads the named file.
func (OS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// Stat returns file info for the named file.
func (OS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// ReadDir lists the named directory sorted by filename.
func (OS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }

// Open opens the named file for streaming reads.
func (OS) Open(name string) (io.ReadCloser, error) { return os.Open(name) }

// Exists reports whether name can be stat'ed.
func Exists(fsys FileSystem, name string) bool {
	_, err := fsys.Stat(name)
	return err == nil
}

// IsDir reports whether name is an existing directory.
func IsDir(fsys FileSystem, name string) bool {
	info, err := fsys.Stat(name)
	return err == nil && info.IsDir()
}

// IsFile reports whether name is an existing regular file.
func IsFile(fsys FileSystem, name string) bool {
	info, err := fsys.Stat(name)
	return err == nil && info.Mode().IsRegular()
}
