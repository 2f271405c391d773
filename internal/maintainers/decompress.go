package maintainers

import (
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// decompress wraps r in a streaming decoder picked from the extension of
// the index location. Unknown extensions are read as plain JSON.
func decompress(location string, r io.Reader) (io.ReadCloser, error) {
	name := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		name = u.Path
	}

	switch path.Ext(name) {
	case ".br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case ".zst":
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	case ".gz":
		dec, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return dec, nil
	default:
		return io.NopCloser(r), nil
	}
}
