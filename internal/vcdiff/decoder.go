// Package vcdiff implements the subset of RFC 3284 / xdelta3 VCDIFF used by
// the content-delivery service's binary-delta patches (spec.md §4.7).
package vcdiff

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"hash/adler32"
	"io"
	"os"
)

var (
	// ErrUnsupportedFeature is returned for custom code tables, alternate
	// compressors, or other header bits this decoder does not implement.
	ErrUnsupportedFeature = errors.New("vcdiff: unsupported feature")
	// ErrOverlappingCopy is returned when a COPY instruction addresses
	// beyond the source segment into the not-yet-written target — the
	// upstream encoder never emits this, so it is treated as fatal
	// (spec.md §9 Open Questions).
	ErrOverlappingCopy = errors.New("vcdiff: overlapping copy not implemented")
	// ErrChecksumMismatch is returned when a window's adler32 does not
	// match the reconstructed bytes.
	ErrChecksumMismatch = errors.New("vcdiff: adler32 checksum mismatch")
	// ErrBadMagic is returned when the patch file does not start with the
	// VCDIFF magic header.
	ErrBadMagic = errors.New("vcdiff: not a VCDIFF patch file")
)

const headerIndicatorMask = 0b111

// readVarInt reads a base-128 big-endian integer (continuation bit in the
// high position of each byte), per RFC 3284 §2.
func readVarInt(r io.ByteReader) (int64, error) {
	var result int64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result = (result << 7) | int64(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return result, nil
}

type halfInstruction struct {
	typ  int
	size int64
	addr int64
}

// window holds per-window decode state; a fresh addressCache is created for
// every window (spec.md §4.7: "each with ... optional ... adler32").
type window struct {
	acache *addressCache

	dataSec *bytes.Reader
	instSec *bytes.Reader
	addrSec *bytes.Reader

	decPos int64
	cpyLen int64
	cpyOff int64

	target bytes.Buffer
}

// Patch applies the VCDIFF delta at patchPath to sourcePath, writing the
// reconstructed file to outPath (spec.md §4.5 "PATCH" writer task, §4.7).
func Patch(sourcePath, patchPath, outPath string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("vcdiff: open source: %w", err)
	}
	defer src.Close()

	patchFile, err := os.Open(patchPath)
	if err != nil {
		return fmt.Errorf("vcdiff: open patch: %w", err)
	}
	defer patchFile.Close()
	patchReader := bufio.NewReader(patchFile)

	dst, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("vcdiff: create output: %w", err)
	}
	defer dst.Close()

	if err := checkHeader(patchReader); err != nil {
		return err
	}

	for {
		done, err := decodeWindow(src, dst, patchReader)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	return nil
}

// checkHeader validates the magic bytes and indicator, and consumes (but
// discards) any application header (spec.md §4.7).
func checkHeader(r *bufio.Reader) error {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("vcdiff: read header: %w", err)
	}
	if header[0] != 0xD6 || header[1] != 0xC3 || header[2] != 0xC4 {
		return ErrBadMagic
	}
	indicator := header[4]
	compressorID := indicator&(1<<0) != 0
	customCodeTable := indicator&(1<<1) != 0
	appHeader := indicator&(1<<2) != 0

	if compressorID || customCodeTable {
		return fmt.Errorf("%w: secondary compressor or custom code table", ErrUnsupportedFeature)
	}

	if appHeader {
		size, err := readVarInt(r)
		if err != nil {
			return fmt.Errorf("vcdiff: read app header size: %w", err)
		}
		if _, err := io.CopyN(io.Discard, r, size); err != nil {
			return fmt.Errorf("vcdiff: skip app header: %w", err)
		}
	}
	return nil
}

// decodeWindow decodes exactly one VCDIFF window and flushes it to dst.
// Returns done=true once the patch stream is exhausted.
func decodeWindow(src io.ReaderAt, dst io.Writer, r *bufio.Reader) (done bool, err error) {
	indicatorByte, err := r.ReadByte()
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("vcdiff: read window indicator: %w", err)
	}

	sourceUsed := indicatorByte&(1<<0) != 0
	// target-used (bit 1) is not needed: this decoder reconstructs every
	// window from its source segment and instruction stream regardless.
	adler32Present := indicatorByte&(1<<2) != 0

	w := &window{acache: newAddressCache()}

	if sourceUsed {
		segLen, err := readVarInt(r)
		if err != nil {
			return false, fmt.Errorf("vcdiff: read source segment length: %w", err)
		}
		segPos, err := readVarInt(r)
		if err != nil {
			return false, fmt.Errorf("vcdiff: read source segment position: %w", err)
		}
		w.cpyLen = segLen
		w.cpyOff = segPos
	}

	if _, err := readVarInt(r); err != nil { // delta encoding length (unused: section lengths below are authoritative).
		return false, fmt.Errorf("vcdiff: read delta encoding length: %w", err)
	}
	if _, err := readVarInt(r); err != nil { // target window length.
		return false, fmt.Errorf("vcdiff: read target window length: %w", err)
	}

	if _, err := r.ReadByte(); err != nil { // delta indicator: always 0 (no secondary compression), already rejected at header.
		return false, fmt.Errorf("vcdiff: read delta indicator: %w", err)
	}

	dataLen, err := readVarInt(r)
	if err != nil {
		return false, fmt.Errorf("vcdiff: read data section length: %w", err)
	}
	instLen, err := readVarInt(r)
	if err != nil {
		return false, fmt.Errorf("vcdiff: read instructions section length: %w", err)
	}
	addrLen, err := readVarInt(r)
	if err != nil {
		return false, fmt.Errorf("vcdiff: read addresses section length: %w", err)
	}

	var expectedSum uint32
	if adler32Present {
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return false, fmt.Errorf("vcdiff: read adler32: %w", err)
		}
		expectedSum = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	}

	dataBuf := make([]byte, dataLen)
	if _, err := io.ReadFull(r, dataBuf); err != nil {
		return false, fmt.Errorf("vcdiff: read data section: %w", err)
	}
	instBuf := make([]byte, instLen)
	if _, err := io.ReadFull(r, instBuf); err != nil {
		return false, fmt.Errorf("vcdiff: read instructions section: %w", err)
	}
	addrBuf := make([]byte, addrLen)
	if _, err := io.ReadFull(r, addrBuf); err != nil {
		return false, fmt.Errorf("vcdiff: read addresses section: %w", err)
	}

	w.dataSec = bytes.NewReader(dataBuf)
	w.instSec = bytes.NewReader(instBuf)
	w.addrSec = bytes.NewReader(addrBuf)

	if err := runInstructions(w, src); err != nil {
		return false, err
	}

	if adler32Present {
		sum := adler32.Checksum(w.target.Bytes())
		if sum != expectedSum {
			return false, ErrChecksumMismatch
		}
	}

	if _, err := dst.Write(w.target.Bytes()); err != nil {
		return false, fmt.Errorf("vcdiff: write window: %w", err)
	}
	return false, nil
}

// runInstructions decodes the window's instruction stream into w.target.
func runInstructions(w *window, src io.ReaderAt) error {
	var cur1, cur2 halfInstruction

	for w.instSec.Len() > 0 || cur1.typ != opNoop || cur2.typ != opNoop {
		if cur1.typ == opNoop && cur2.typ == opNoop {
			opByte, err := w.instSec.ReadByte()
			if err != nil {
				return fmt.Errorf("vcdiff: read opcode: %w", err)
			}
			ins := codeTable[opByte]
			cur1 = halfInstruction{typ: ins.type1, size: int64(ins.size1)}
			cur2 = halfInstruction{typ: ins.type2, size: int64(ins.size2)}

			if cur1.typ != opNoop {
				if err := parseHalfInst(w, &cur1); err != nil {
					return err
				}
			}
			if cur2.typ != opNoop {
				if err := parseHalfInst(w, &cur2); err != nil {
					return err
				}
			}
		}

		for cur1.typ != opNoop {
			if err := decodeHalfInst(w, &cur1, src); err != nil {
				return err
			}
			cur1.typ = opNoop
		}
		for cur2.typ != opNoop {
			if err := decodeHalfInst(w, &cur2, src); err != nil {
				return err
			}
			cur2.typ = opNoop
		}
	}
	return nil
}

// parseHalfInst resolves a half-instruction's size (if not embedded in the
// opcode) and, for COPY instructions, its address via the near/same caches
// (spec.md §4.7).
func parseHalfInst(w *window, h *halfInstruction) error {
	if h.size == 0 {
		size, err := readVarInt(w.instSec)
		if err != nil {
			return fmt.Errorf("vcdiff: read instruction size: %w", err)
		}
		h.size = size
	}

	if h.typ >= opCopy {
		mode := h.typ - opCopy
		sameStart := 2 + nearModes

		switch {
		case mode < sameStart:
			addr, err := readVarInt(w.addrSec)
			if err != nil {
				return fmt.Errorf("vcdiff: read copy address: %w", err)
			}
			h.addr = addr
			switch mode {
			case 0:
				// addr is absolute; nothing to adjust.
			case 1:
				h.addr = w.decPos - h.addr
				if h.addr < 0 {
					h.addr = w.cpyLen + h.addr
				}
			default:
				h.addr += w.acache.nearArray[mode-2]
			}
		default:
			mode -= sameStart
			b, err := w.addrSec.ReadByte()
			if err != nil {
				return fmt.Errorf("vcdiff: read same-cache index: %w", err)
			}
			h.addr = w.acache.sameArray[(mode*256)+int(b)]
		}
		w.acache.update(h.addr)
	}

	w.decPos += h.size
	return nil
}

// decodeHalfInst executes one ADD/RUN/COPY half-instruction into w.target.
func decodeHalfInst(w *window, h *halfInstruction, src io.ReaderAt) error {
	switch h.typ {
	case opRun:
		b, err := w.dataSec.ReadByte()
		if err != nil {
			return fmt.Errorf("vcdiff: read run byte: %w", err)
		}
		for i := int64(0); i < h.size; i++ {
			w.target.WriteByte(b)
		}
	case opAdd:
		buf := make([]byte, h.size)
		if _, err := io.ReadFull(w.dataSec, buf); err != nil {
			return fmt.Errorf("vcdiff: read add data: %w", err)
		}
		w.target.Write(buf)
	default: // opCopy and above.
		if h.addr >= w.cpyLen {
			return ErrOverlappingCopy
		}
		buf := make([]byte, h.size)
		if _, err := src.ReadAt(buf, w.cpyOff+h.addr); err != nil && err != io.EOF {
			return fmt.Errorf("vcdiff: read source copy range: %w", err)
		}
		w.target.Write(buf)
	}
	return nil
}
