// Package ziparchive reads the central directory of a Linux native
// installer: a zip64 archive concatenated after a self-extracting header,
// fetched entirely through HTTP Range requests (spec.md §6, used when a
// product lists no Gen-1/Gen-2 depots for Linux).
package ziparchive

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"github.com/VetheonGames/galaxydl/internal/manifest"
)

var (
	localFileHeaderMagic   = []byte{0x50, 0x4b, 0x03, 0x04}
	centralDirMagic        = []byte{0x50, 0x4b, 0x01, 0x02}
	endOfCentralDirMagic    = []byte{0x50, 0x4b, 0x05, 0x06}
	zip64EndOfCDLocatorMagic = []byte{0x50, 0x4b, 0x06, 0x07}
	zip64EndOfCDMagic        = []byte{0x50, 0x4b, 0x06, 0x06}
)

// Entry is one central-directory record translated into the engine's file
// model (spec.md §6: "each becomes a Linux file").
type Entry struct {
	Path             string
	CompressionMethod int // 0 = store, 8 = deflate
	DataOffset       int64
	CompressedSize   int64
	UncompressedSize int64
	CRC32            uint32
	Executable       bool
	IsSymlink        bool
	SymlinkTarget    string
}

// Reader fetches archive bytes by HTTP Range against a single secure-link URL.
type Reader struct {
	client   *apiclient.Client
	url      string
	fileSize int64
	archiveStart int64
}

// Open probes the header region for the archive's byte origin and resolves
// the total file size (spec.md §6: "probes the header region for the first
// local-file-header magic to locate the archive's byte origin").
func Open(client *apiclient.Client, url string) (*Reader, error) {
	r := &Reader{client: client, url: url}

	const probeSize = 512 * 1024
	probe, _, err := client.GetRange(url, 0, probeSize)
	if err != nil {
		return nil, fmt.Errorf("ziparchive: probe header: %w", err)
	}
	idx := bytes.Index(probe, localFileHeaderMagic)
	if idx < 0 {
		return nil, fmt.Errorf("ziparchive: local file header magic not found in first %d bytes", probeSize)
	}
	r.archiveStart = int64(idx)

	size, err := client.ContentLength(url)
	if err != nil {
		return nil, fmt.Errorf("ziparchive: content length: %w", err)
	}
	r.fileSize = size
	return r, nil
}

// rangeAt fetches size bytes at an archive-relative offset, unless absolute
// is true (used for the end-of-file probe, which is expressed in absolute
// file coordinates).
func (r *Reader) rangeAt(offset, size int64, absolute bool) ([]byte, error) {
	o := offset
	if !absolute {
		o += r.archiveStart
	}
	data, _, err := r.client.GetRange(r.url, o, size)
	return data, err
}

// ReadCentralDirectory locates and parses the end-of-central-directory
// record (including its zip64 locator, when fields are saturated) and reads
// every central-directory entry (spec.md §6).
func (r *Reader) ReadCentralDirectory() ([]Entry, error) {
	tail, err := r.rangeAt(r.fileSize-100, 100, true)
	if err != nil {
		return nil, fmt.Errorf("ziparchive: read tail: %w", err)
	}

	eocdIdx := bytes.Index(tail, endOfCentralDirMagic)
	if eocdIdx < 0 {
		return nil, fmt.Errorf("ziparchive: end-of-central-directory record not found")
	}
	eocd := tail[eocdIdx:]
	if len(eocd) < 22 {
		return nil, fmt.Errorf("ziparchive: truncated end-of-central-directory record")
	}

	cdRecords := binary.LittleEndian.Uint16(eocd[8:10])
	cdSize := uint64(binary.LittleEndian.Uint32(eocd[12:16]))
	cdOffset := uint64(binary.LittleEndian.Uint32(eocd[16:20]))

	if cdOffset == 0xFFFFFFFF {
		locatorIdx := bytes.Index(tail, zip64EndOfCDLocatorMagic)
		if locatorIdx < 0 {
			return nil, fmt.Errorf("ziparchive: zip64 end-of-cd locator not found")
		}
		locator := tail[locatorIdx:]
		if len(locator) < 20 {
			return nil, fmt.Errorf("ziparchive: truncated zip64 locator")
		}
		zip64EOCDOffset := int64(binary.LittleEndian.Uint64(locator[8:16]))

		zip64Data, err := r.rangeAt(zip64EOCDOffset, 200, false)
		if err != nil {
			return nil, fmt.Errorf("ziparchive: read zip64 end-of-cd: %w", err)
		}
		if bytes.Index(zip64Data, zip64EndOfCDMagic) != 0 {
			return nil, fmt.Errorf("ziparchive: zip64 end-of-cd magic mismatch")
		}
		cdSize = binary.LittleEndian.Uint64(zip64Data[40:48])
		cdOffset = binary.LittleEndian.Uint64(zip64Data[48:56])
		cdRecordsWide := binary.LittleEndian.Uint64(zip64Data[32:40])
		cdRecords = uint16(cdRecordsWide)
	}

	cdData, err := r.rangeAt(int64(cdOffset), int64(cdSize), false)
	if err != nil {
		return nil, fmt.Errorf("ziparchive: read central directory: %w", err)
	}

	return parseCentralDirectory(cdData, int(cdRecords))
}

// parseCentralDirectory walks cdRecords fixed-plus-variable-length entries
// out of data (spec.md §6).
func parseCentralDirectory(data []byte, count int) ([]Entry, error) {
	var entries []Entry
	for i := 0; i < count; i++ {
		if len(data) < 46 || bytes.Index(data[:4], centralDirMagic) != 0 {
			return nil, fmt.Errorf("ziparchive: central directory record %d: bad signature", i)
		}
		compressionMethod := binary.LittleEndian.Uint16(data[10:12])
		crc32 := binary.LittleEndian.Uint32(data[16:20])
		compressedSize := binary.LittleEndian.Uint32(data[20:24])
		uncompressedSize := binary.LittleEndian.Uint32(data[24:28])
		nameLen := int(binary.LittleEndian.Uint16(data[28:30]))
		extraLen := int(binary.LittleEndian.Uint16(data[30:32]))
		commentLen := int(binary.LittleEndian.Uint16(data[32:34]))
		extAttrs := binary.LittleEndian.Uint32(data[38:42])
		localOffset := binary.LittleEndian.Uint32(data[42:46])

		nameStart := 46
		nameEnd := nameStart + nameLen
		if nameEnd > len(data) {
			return nil, fmt.Errorf("ziparchive: central directory record %d: truncated name", i)
		}
		name := string(data[nameStart:nameEnd])

		recordEnd := nameEnd + extraLen + commentLen
		if recordEnd > len(data) {
			return nil, fmt.Errorf("ziparchive: central directory record %d: truncated record", i)
		}

		// Unix permission bits live in the high 16 bits of external
		// attributes; executable bit and symlink mode (0xA000) per POSIX.
		unixMode := extAttrs >> 16
		executable := unixMode&0o111 != 0
		isSymlink := unixMode&0xF000 == 0xA000

		entries = append(entries, Entry{
			Path:              manifest.NormalizeZipPath(name),
			CompressionMethod: int(compressionMethod),
			DataOffset:        int64(localOffset),
			CompressedSize:    int64(compressedSize),
			UncompressedSize:  int64(uncompressedSize),
			CRC32:             crc32,
			Executable:        executable,
			IsSymlink:         isSymlink,
		})

		data = data[recordEnd:]
	}
	return entries, nil
}

// LocalHeaderSize returns the byte length of a local file header so callers
// can compute the true data start (30 fixed bytes + name + extra field);
// the engine must read this header before the entry's first data byte
// because the central directory does not record it directly.
func LocalHeaderSize(client *apiclient.Client, url string, archiveStart, localOffset int64) (int64, error) {
	header, _, err := client.GetRange(url, archiveStart+localOffset, 30)
	if err != nil {
		return 0, fmt.Errorf("ziparchive: read local header: %w", err)
	}
	if len(header) < 30 || bytes.Index(header[:4], localFileHeaderMagic) != 0 {
		return 0, fmt.Errorf("ziparchive: local header magic mismatch at offset %d", localOffset)
	}
	nameLen := binary.LittleEndian.Uint16(header[26:28])
	extraLen := binary.LittleEndian.Uint16(header[28:30])
	return 30 + int64(nameLen) + int64(extraLen), nil
}
