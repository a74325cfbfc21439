// Package fsx contains io/fs extensions.
package fsx

import (
	"io/fs"
	"os"
	"syscall"
)

// OpenFile is a wrapper for os.OpenFile that ensures that
// we're opening a file rather than a directory. If you are
// opening a directory, this func returns an *os.PathError
// error with Err set to syscall.EISDIR.
func OpenFile(pathname string) (fs.File, error) {
	return openWithFS(filesystem{}, pathname)
}

// openWithFS is like OpenFile but with explicit file system argument.
func openWithFS(fsys fs.FS, pathname string) (fs.File, error) {
	file, err := fsys.Open(pathname)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, &os.PathError{
			Op:   "openFile",
			Path: pathname,
			Err:  syscall.EISDIR,
		}
	}
	return file, nil
}

// filesystem is a private implementation of fs.FS.
type filesystem struct{}

// Open implements fs.FS.Open.
func (filesystem) Open(pathname string) (fs.File, error) {
	return os.Open(pathname)
}

// RegularFileSize returns the size of a regular file and true,
// or zero and false when the file is missing or not regular.
func RegularFileSize(pathname string) (int64, bool) {
	info, err := os.Stat(pathname)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

// MkdirAll creates the directory and its parents with 0755 permissions.
func MkdirAll(dirpath string) error {
	return os.MkdirAll(dirpath, 0755)
}
