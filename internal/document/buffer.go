// Package document holds the in-memory resume payload shared by every stage
// of the intake pipeline.
package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/Lllllllleong/resumeflow/internal/models"
)

// Buffer is a seekable, re-readable view over an immutable document payload.
// Reads only move the cursor; the bytes are never consumed, so any stage can
// Rewind and scan from offset zero again.
//
// A Buffer is owned by one pipeline stage at a time and is not safe for
// concurrent use of its cursor. ReadAt, ReadAll, Len and Hash do not touch
// the cursor.
type Buffer struct {
	data []byte
	r    *bytes.Reader
}

var (
	_ io.ReadSeeker = (*Buffer)(nil)
	_ io.ReaderAt   = (*Buffer)(nil)
)

// New copies data into a new Buffer. Empty input is a malformed document.
func New(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload: %w", models.ErrMalformedDocument)
	}
	owned := bytes.Clone(data)
	return &Buffer{data: owned, r: bytes.NewReader(owned)}, nil
}

// FromReader drains r into a new Buffer.
func FromReader(r io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return New(data)
}

// Rewind resets the read cursor to the start of the payload.
func (b *Buffer) Rewind() error {
	_, err := b.r.Seek(0, io.SeekStart)
	return err
}

func (b *Buffer) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *Buffer) Seek(offset int64, whence int) (int64, error) { return b.r.Seek(offset, whence) }

func (b *Buffer) ReadAt(p []byte, off int64) (int, error) { return b.r.ReadAt(p, off) }

// ReadAll returns a copy of the whole payload regardless of the cursor.
func (b *Buffer) ReadAll() []byte { return bytes.Clone(b.data) }

// Len is the payload size in bytes.
func (b *Buffer) Len() int64 { return int64(len(b.data)) }

// Hash returns the hex sha-256 of the payload.
func (b *Buffer) Hash() string {
	sum := sha256.Sum256(b.data)
	return hex.EncodeToString(sum[:])
}
