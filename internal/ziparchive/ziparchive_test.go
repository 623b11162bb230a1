package ziparchive

import (
	"bytes"
	"compress/flate"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalUncompressedSize(t *testing.T) {
	entries := []Entry{{UncompressedSize: 10}, {UncompressedSize: 25}}
	assert.Equal(t, int64(35), TotalUncompressedSize(entries))
}

func TestDecompressStore(t *testing.T) {
	out, err := decompress(0, []byte("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}

func TestDecompressDeflate(t *testing.T) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello world hello world"))
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	out, err := decompress(8, buf.Bytes(), 24)
	require.NoError(t, err)
	assert.Equal(t, "hello world hello world", string(out))
}

func TestDecompressUnsupportedMethod(t *testing.T) {
	_, err := decompress(99, nil, 0)
	assert.Error(t, err)
}

func TestParseCentralDirectoryBadSignature(t *testing.T) {
	_, err := parseCentralDirectory(make([]byte, 46), 1)
	assert.Error(t, err)
}

func TestParseCentralDirectorySingleEntry(t *testing.T) {
	var rec bytes.Buffer
	rec.Write(centralDirMagic)
	rec.Write(make([]byte, 6))               // version made by, version needed
	le16(&rec, 8)                            // compression method: deflate
	rec.Write(make([]byte, 4))               // mod time/date
	le32(&rec, 0xdeadbeef)                   // crc32
	le32(&rec, 100)                          // compressed size
	le32(&rec, 200)                          // uncompressed size
	le16(&rec, 4)                            // name length
	le16(&rec, 0)                            // extra length
	le16(&rec, 0)                            // comment length
	rec.Write(make([]byte, 4))               // disk number start, internal attrs
	le32(&rec, 0o100755<<16)                  // external attrs: executable
	le32(&rec, 12345)                         // local header offset
	rec.WriteString("game")

	entries, err := parseCentralDirectory(rec.Bytes(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "game", entries[0].Path)
	assert.Equal(t, int64(100), entries[0].CompressedSize)
	assert.Equal(t, int64(200), entries[0].UncompressedSize)
	assert.True(t, entries[0].Executable)
	assert.False(t, entries[0].IsSymlink)
}

func le16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func le32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}
