// Package artifact gives artifact checkers read access to the files modules
// produced during a run. Access goes through os.Root so a checker cannot
// escape the artifact directory.
package artifact

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// Entry is one regular file below the artifact root.
type Entry struct {
	root fs.FS
	// Path is relative to the artifact root.
	Path string
	Info fs.FileInfo
}

func (e Entry) Open() (io.ReadCloser, error) {
	return e.root.Open(e.Path)
}

func (e Entry) ReadAll() ([]byte, error) {
	f, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(f)
}

// Root is the artifact directory of one test run.
type Root struct {
	root *os.Root
}

func Open(dir string) (*Root, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Root{root: root}, nil
}

func (r *Root) Close() error {
	return r.root.Close()
}

// Files walks the artifact tree and yields every regular file. It does not
// follow symlinks.
func (r *Root) Files(ctx context.Context) iter.Seq2[Entry, error] {
	rfs := r.root.FS()
	return func(yield func(Entry, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				if !yield(Entry{root: rfs, Path: path}, err) {
					return fs.SkipAll
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if !yield(Entry{root: rfs, Path: path}, err) {
					return fs.SkipAll
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			if !yield(Entry{root: rfs, Path: path, Info: info}, nil) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(rfs, ".", fn)
	}
}

// Glob yields the regular files whose root-relative path matches pattern
// (filepath.Match syntax applied to the whole relative path).
func (r *Root) Glob(ctx context.Context, pattern string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for entry, err := range r.Files(ctx) {
			if err == nil {
				ok, merr := filepath.Match(pattern, entry.Path)
				if merr != nil {
					yield(Entry{}, merr)
					return
				}
				if !ok {
					continue
				}
			}
			if !yield(entry, err) {
				return
			}
		}
	}
}
