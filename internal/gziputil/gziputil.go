// Package gziputil holds pooled gzip helpers shared by the event store and
// the HTTP compression middleware.
package gziputil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// MaxDecompressedSize caps Decompress output.
const MaxDecompressedSize = 8 * 1024 * 1024 // 8 MB

// ErrTooLarge is returned when decompressed data exceeds the size cap.
var ErrTooLarge = fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)

var writerPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// AcquireWriter returns a pooled gzip writer reset onto w.
// Release it with ReleaseWriter after Close.
func AcquireWriter(w io.Writer) *gzip.Writer {
	gw := writerPool.Get().(*gzip.Writer)
	gw.Reset(w)
	return gw
}

// ReleaseWriter returns gw to the pool.
func ReleaseWriter(gw *gzip.Writer) {
	gw.Reset(nil)
	writerPool.Put(gw)
}

// Compress gzip-compresses data using pooled writers and buffers.
func Compress(data []byte) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	gw := AcquireWriter(buf)
	defer ReleaseWriter(gw)

	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// Decompress decompresses gzip data, refusing output above MaxDecompressedSize.
func Decompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if _, err := io.Copy(buf, io.LimitReader(gr, MaxDecompressedSize+1)); err != nil {
		return nil, err
	}
	if buf.Len() > MaxDecompressedSize {
		return nil, ErrTooLarge
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// MaybeDecompress decompresses data if it starts with gzip magic bytes,
// otherwise returns it as-is. Rows written before compression was enabled
// read back unchanged.
func MaybeDecompress(data []byte) ([]byte, error) {
	if IsGzipped(data) {
		return Decompress(data)
	}
	return data, nil
}

// IsGzipped reports whether data starts with gzip magic bytes.
func IsGzipped(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}

// ErrInvalidBody is returned by NewBodyReader for a malformed gzip stream.
var ErrInvalidBody = errors.New("invalid gzip body")

// NewBodyReader wraps a gzip-encoded request body.
func NewBodyReader(body io.Reader) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return gr, nil
}
