// Package attach binds file attachments to record attributes.
//
// A File is the in-memory proxy for one attachment: the record persists only
// its filename, while the bytes are buffered here until Flush writes them to
// a blob.Store under Prefix/Filename.
package attach

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"

	"github.com/roach88/batteries/internal/blob"
)

// File is a buffered attachment proxy.
type File struct {
	Prefix   string
	Filename string

	buf   bytes.Buffer
	dirty bool
}

// New returns a proxy for an attachment stored under prefix/filename. The
// proxy starts clean: nothing is written until Write and Flush are called.
func New(prefix, filename string) *File {
	return &File{Prefix: prefix, Filename: filename}
}

// Key returns the blob key of the attachment.
func (f *File) Key() string {
	return path.Join(f.Prefix, f.Filename)
}

// Dirty reports whether the buffer holds unflushed writes.
func (f *File) Dirty() bool {
	return f.dirty
}

// Size returns the number of buffered bytes.
func (f *File) Size() int {
	return f.buf.Len()
}

// Write appends p to the buffer and marks the proxy dirty.
func (f *File) Write(p []byte) (int, error) {
	f.dirty = true
	return f.buf.Write(p)
}

// WriteString appends s to the buffer and marks the proxy dirty.
func (f *File) WriteString(s string) (int, error) {
	f.dirty = true
	return f.buf.WriteString(s)
}

// Reset discards buffered bytes.
func (f *File) Reset() {
	f.buf.Reset()
	f.dirty = false
}

// Flush uploads the buffered bytes and clears the dirty flag. Clean proxies
// are left untouched.
func (f *File) Flush(ctx context.Context, store blob.Store, metadata map[string]string) (blob.Info, error) {
	if !f.dirty {
		return blob.Info{}, nil
	}
	if f.Filename == "" {
		return blob.Info{}, fmt.Errorf("attachment under %q has no filename", f.Prefix)
	}
	info, err := store.Put(ctx, f.Key(), bytes.NewReader(f.buf.Bytes()), blob.PutOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(f.Filename)),
		Metadata:    metadata,
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("flush attachment %s: %w", f.Key(), err)
	}
	f.dirty = false
	return info, nil
}

// ReadAll returns the attachment bytes: the buffer if it holds unflushed
// writes, otherwise the stored blob.
func (f *File) ReadAll(ctx context.Context, store blob.Store) ([]byte, error) {
	if f.dirty {
		return bytes.Clone(f.buf.Bytes()), nil
	}
	_, rc, err := store.Get(ctx, f.Key())
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Remove deletes the stored blob, reporting whether it existed.
func (f *File) Remove(ctx context.Context, store blob.Store) (bool, error) {
	if f.Filename == "" {
		return false, nil
	}
	existed, err := store.Delete(ctx, f.Key())
	if err != nil {
		return false, fmt.Errorf("remove attachment %s: %w", f.Key(), err)
	}
	f.Reset()
	return existed, nil
}

// Serialize returns the blob key, the tree form of an attachment.
func (f *File) Serialize() (any, error) {
	return f.Key(), nil
}

// String returns the blob key.
func (f *File) String() string {
	return f.Key()
}
