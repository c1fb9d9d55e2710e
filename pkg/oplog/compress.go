package oplog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// uint64ByteSize is the number of bytes in a uint64.
const uint64ByteSize = 8

// Column storage modes.
const (
	modeRaw uint8 = iota
	modeLZ4
)

// compressUInt64Slice serializes data little-endian and compresses it with LZ4.
// Incompressible input is kept raw; the returned mode says which.
func compressUInt64Slice(data []uint64) (uint8, []byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, data); err != nil {
		return 0, nil, fmt.Errorf("serialize column: %w", err)
	}

	if buf.Len() == 0 {
		return modeRaw, nil, nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(buf.Len()))

	written, err := lz4.CompressBlock(buf.Bytes(), compressed, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("compress column: %w", err)
	}

	if written == 0 || written >= buf.Len() {
		return modeRaw, buf.Bytes(), nil
	}

	return modeLZ4, compressed[:written], nil
}

// decompressUInt64Slice fills result from a column written by compressUInt64Slice.
func decompressUInt64Slice(mode uint8, data []byte, result []uint64) error {
	raw := data

	switch mode {
	case modeRaw:
	case modeLZ4:
		raw = make([]byte, len(result)*uint64ByteSize)

		n, err := lz4.UncompressBlock(data, raw)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		raw = raw[:n]
	default:
		return fmt.Errorf("%w: column mode %d", ErrCorrupt, mode)
	}

	if len(raw) != len(result)*uint64ByteSize {
		return fmt.Errorf("%w: column holds %d bytes, want %d", ErrCorrupt, len(raw), len(result)*uint64ByteSize)
	}

	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, result)
}

// deltaEncodeUInt64Slice replaces each element with the difference from its
// predecessor, in place. Differences wrap, so unsorted input round-trips.
func deltaEncodeUInt64Slice(data []uint64) {
	for i := len(data) - 1; i > 0; i-- {
		data[i] -= data[i-1]
	}
}

// deltaDecodeUInt64Slice restores values produced by deltaEncodeUInt64Slice.
func deltaDecodeUInt64Slice(data []uint64) {
	for i := 1; i < len(data); i++ {
		data[i] += data[i-1]
	}
}
