package source

import (
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/wippyai/asset-runtime/errors"
)

// Compression identifies a container format by file extension.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = ".gz"
	CompressionZstd Compression = ".zst"
	CompressionLZ4  Compression = ".lz4"
	CompressionXZ   Compression = ".xz"
)

// Detect returns the compression of name and the name without its
// compression extension, so "tex/rock.png.zst" yields (".zst", "tex/rock.png").
func Detect(name string) (Compression, string) {
	switch c := Compression(strings.ToLower(path.Ext(name))); c {
	case CompressionGzip, CompressionZstd, CompressionLZ4, CompressionXZ:
		return c, name[:len(name)-len(c)]
	}
	return CompressionNone, name
}

// Decompress wraps rc with a decoder chosen by name's extension. Closing
// the result releases the decoder but not rc.
func Decompress(name string, rc io.Reader) (io.ReadCloser, error) {
	c, _ := Detect(name)
	switch c {
	case CompressionGzip:
		zr, err := gzip.NewReader(rc)
		if err != nil {
			return nil, errors.Corrupted(errors.PhaseSource, "gzip header in "+name, err, false)
		}
		return zr, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(rc)
		if err != nil {
			return nil, errors.Corrupted(errors.PhaseSource, "zstd stream in "+name, err, false)
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(rc)), nil
	case CompressionXZ:
		xr, err := xz.NewReader(rc)
		if err != nil {
			return nil, errors.Corrupted(errors.PhaseSource, "xz header in "+name, err, false)
		}
		return io.NopCloser(xr), nil
	}
	return io.NopCloser(rc), nil
}
