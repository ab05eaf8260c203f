package kvadrere

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Compression enumerates the codecs an input object may be stored with.
// The zero value is CompressionUnknown.
type Compression uint8

const (
	// CompressionUnknown indicates the codec is not recognized.
	CompressionUnknown Compression = iota
	// CompressionNone indicates the payload is plain text.
	CompressionNone
	// CompressionGZIP indicates the payload is gzip-compressed.
	CompressionGZIP
)

var compressionOptions = map[Compression]string{
	CompressionUnknown: "unknown",
	CompressionNone:    "none",
	CompressionGZIP:    "gzip",
}

func (c Compression) String() string {
	str, ok := compressionOptions[c]
	if !ok {
		return compressionOptions[CompressionUnknown]
	}
	return str
}

// MarshalJSON marshals the Compression as a JSON string (e.g. "gzip").
func (c Compression) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// CompressionFromPath guesses the codec from a file or object key suffix.
func CompressionFromPath(path string) Compression {
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		return CompressionGZIP
	}
	return CompressionNone
}

// gzPool stores reusable *gzip.Reader instances to reduce allocations.
var gzPool = sync.Pool{New: func() any { return new(gzip.Reader) }}

type readCloser struct {
	io.Reader
	io.Closer
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// NewGZIPReadCloser returns a pooled gzip reader over rc. Closing it
// returns the gzip reader to the pool and closes rc.
func NewGZIPReadCloser(rc io.ReadCloser) (io.ReadCloser, error) {
	zr, _ := gzPool.Get().(*gzip.Reader) //nolint:errcheck
	if err := zr.Reset(rc); err != nil {
		gzPool.Put(zr)
		_ = rc.Close() //nolint:errcheck // ensure underlying is closed on init failure
		return nil, err
	}
	return readCloser{
		Reader: zr,
		Closer: closeFunc(func() error {
			cerr := zr.Close()
			gzPool.Put(zr)
			return errors.Join(cerr, rc.Close())
		}),
	}, nil
}

// Decompress wraps r with a decompressor for compression. Unknown and
// uncompressed payloads are returned unchanged.
func Decompress(r io.ReadCloser, compression Compression) (io.ReadCloser, error) {
	switch compression {
	case CompressionNone, CompressionUnknown:
		return r, nil
	case CompressionGZIP:
		gr, err := NewGZIPReadCloser(r)
		if err != nil {
			return nil, fmt.Errorf("gzip.NewReader: %w", err)
		}
		return gr, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %v", compression)
	}
}
