package ziparchive

import (
	"bytes"
	"compress/flate"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"go.uber.org/zap"
)

// Install fetches every central-directory entry's bytes over HTTP Range,
// inflates deflate-compressed entries, verifies each entry's CRC32, and
// writes the result under destDir (spec.md §6: Linux native installer,
// fed through the engine as a narrow data source rather than through the
// chunked Gen-1/Gen-2 writer -- a zip central directory carries no
// per-chunk content addressing to reuse, so there is nothing for the
// shared arena/cache to deduplicate here).
func Install(client *apiclient.Client, r *Reader, entries []Entry, destDir string, sugar *zap.SugaredLogger) (int64, error) {
	var written int64
	for _, e := range entries {
		if e.Path == "" || e.Path == "/" || len(e.Path) == 0 {
			continue
		}

		headerSize, err := LocalHeaderSize(client, r.url, r.archiveStart, e.DataOffset)
		if err != nil {
			return written, fmt.Errorf("ziparchive: install %s: %w", e.Path, err)
		}
		dataStart := r.archiveStart + e.DataOffset + headerSize

		raw, _, err := client.GetRange(r.url, dataStart, e.CompressedSize)
		if err != nil {
			return written, fmt.Errorf("ziparchive: install %s: fetch: %w", e.Path, err)
		}

		data, err := decompress(e.CompressionMethod, raw, e.UncompressedSize)
		if err != nil {
			return written, fmt.Errorf("ziparchive: install %s: %w", e.Path, err)
		}

		if crc32.ChecksumIEEE(data) != e.CRC32 {
			return written, fmt.Errorf("ziparchive: install %s: crc32 mismatch", e.Path)
		}

		target := filepath.Join(destDir, e.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, fmt.Errorf("ziparchive: install %s: %w", e.Path, err)
		}

		if e.IsSymlink {
			_ = os.Remove(target)
			if err := os.Symlink(string(data), target); err != nil {
				return written, fmt.Errorf("ziparchive: install %s: symlink: %w", e.Path, err)
			}
			continue
		}

		mode := os.FileMode(0o644)
		if e.Executable {
			mode = 0o755
		}
		if err := os.WriteFile(target, data, mode); err != nil {
			return written, fmt.Errorf("ziparchive: install %s: write: %w", e.Path, err)
		}
		written += int64(len(data))
		if sugar != nil {
			sugar.Debugw("extracted linux installer entry", "path", e.Path, "bytes", len(data))
		}
	}
	return written, nil
}

// decompress handles the two methods a GOG Linux installer zip actually
// uses: 0 (store, used for symlink targets and already-compressed data)
// and 8 (deflate).
func decompress(method int, raw []byte, expectedSize int64) ([]byte, error) {
	switch method {
	case 0:
		return raw, nil
	case 8:
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		out := make([]byte, 0, expectedSize)
		buf := make([]byte, 32*1024)
		for {
			n, err := fr.Read(buf)
			if n > 0 {
				out = append(out, buf[:n]...)
			}
			if err == io.EOF {
				return out, nil
			}
			if err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported compression method %d", method)
	}
}

// TotalUncompressedSize sums entries' uncompressed sizes for progress
// reporting (spec.md §7 progress events).
func TotalUncompressedSize(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.UncompressedSize
	}
	return total
}
