// Package oplog records interval tree mutations and stores them as a compact
// columnar file, so a failing randomized run can be replayed exactly.
//
// A log file starts with a fixed header followed by three columns (kinds,
// lows, widths). Lows are delta-encoded and every column is LZ4-compressed.
package oplog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Format constants.
const (
	magic   = "IVOL"
	version = uint16(1)
	columns = 3

	// lz4MaxRatio is the largest expansion an LZ4 block can encode.
	lz4MaxRatio = 256
)

// Errors returned while decoding or replaying a log.
var (
	ErrBadMagic           = errors.New("not an operation log")
	ErrUnsupportedVersion = errors.New("unsupported operation log version")
	ErrCorrupt            = errors.New("corrupt operation log")
	ErrUnknownKind        = errors.New("unknown operation kind")
	ErrReplay             = errors.New("replay failed")
)

// Kind identifies a tree mutation.
type Kind uint8

// Operation kinds.
const (
	KindInsert Kind = iota + 1
	KindDelete
)

// String returns the lower-case operation name.
func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Op is one recorded mutation of the interval [Low, High].
type Op struct {
	Kind Kind
	Low  uint64
	High uint64
}

// Log is an append-only sequence of operations, safe for concurrent appends.
type Log struct {
	mu  sync.Mutex
	ops []Op
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Append records one operation.
func (l *Log) Append(op Op) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

// Len returns the number of recorded operations.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.ops)
}

// Ops returns a copy of the recorded operations.
func (l *Log) Ops() []Op {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Op, len(l.ops))
	copy(out, l.ops)

	return out
}

type header struct {
	Magic   [4]byte
	Version uint16
	Count   uint64
}

type columnHeader struct {
	Mode       uint8
	PayloadLen uint32
}

// check bounds a column header by the size of the column it must decode to.
// Raw columns hold exactly colBytes. LZ4 columns are only kept when smaller
// than that and cannot expand more than lz4MaxRatio times.
func (h columnHeader) check(colBytes uint64) error {
	payload := uint64(h.PayloadLen)

	switch h.Mode {
	case modeRaw:
		if payload != colBytes {
			return fmt.Errorf("%w: raw column of %d bytes, want %d", ErrCorrupt, payload, colBytes)
		}
	case modeLZ4:
		if payload >= colBytes || colBytes > payload*lz4MaxRatio {
			return fmt.Errorf("%w: lz4 column of %d bytes cannot hold %d", ErrCorrupt, payload, colBytes)
		}
	default:
		return fmt.Errorf("%w: column mode %d", ErrCorrupt, h.Mode)
	}

	return nil
}

type columnPayload struct {
	mode uint8
	data []byte
}

// Encode writes the log to w.
func (l *Log) Encode(w io.Writer) error {
	ops := l.Ops()

	kinds := make([]uint64, len(ops))
	lows := make([]uint64, len(ops))
	widths := make([]uint64, len(ops))

	for i, op := range ops {
		kinds[i] = uint64(op.Kind)
		lows[i] = op.Low
		widths[i] = op.High - op.Low
	}

	deltaEncodeUInt64Slice(lows)

	hdr := header{Version: version, Count: uint64(len(ops))}
	copy(hdr.Magic[:], magic)

	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, col := range [columns][]uint64{kinds, lows, widths} {
		mode, payload, err := compressUInt64Slice(col)
		if err != nil {
			return err
		}

		colHdr := columnHeader{Mode: mode, PayloadLen: uint32(len(payload))}

		if err := binary.Write(w, binary.LittleEndian, colHdr); err != nil {
			return fmt.Errorf("write column header: %w", err)
		}

		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write column: %w", err)
		}
	}

	return nil
}

// Decode reads a log written by Encode.
func Decode(r io.Reader) (*Log, error) {
	var hdr header

	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}

	if string(hdr.Magic[:]) != magic {
		return nil, ErrBadMagic
	}

	if hdr.Version != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}

	if hdr.Count > maxOps {
		return nil, fmt.Errorf("%w: %d operations", ErrCorrupt, hdr.Count)
	}

	colBytes := hdr.Count * uint64ByteSize

	var payloads [columns]columnPayload

	for idx := range payloads {
		var colHdr columnHeader

		if err := binary.Read(r, binary.LittleEndian, &colHdr); err != nil {
			return nil, fmt.Errorf("%w: column header: %w", ErrCorrupt, err)
		}

		if err := colHdr.check(colBytes); err != nil {
			return nil, fmt.Errorf("column %d: %w", idx, err)
		}

		// The buffer grows with the bytes actually present, not the declared length.
		var buf bytes.Buffer
		if _, err := io.CopyN(&buf, r, int64(colHdr.PayloadLen)); err != nil {
			return nil, fmt.Errorf("%w: column payload: %w", ErrCorrupt, err)
		}

		payloads[idx] = columnPayload{mode: colHdr.Mode, data: buf.Bytes()}
	}

	var cols [columns][]uint64

	for idx, payload := range payloads {
		cols[idx] = make([]uint64, hdr.Count)
		if err := decompressUInt64Slice(payload.mode, payload.data, cols[idx]); err != nil {
			return nil, err
		}
	}

	kinds, lows, widths := cols[0], cols[1], cols[2]
	deltaDecodeUInt64Slice(lows)

	ops := make([]Op, hdr.Count)

	for i := range ops {
		kind := Kind(kinds[i])
		if kind != KindInsert && kind != KindDelete {
			return nil, fmt.Errorf("%w: %d at %d", ErrUnknownKind, kinds[i], i)
		}

		if widths[i] > ^uint64(0)-lows[i] {
			return nil, fmt.Errorf("%w: interval overflow at %d", ErrCorrupt, i)
		}

		ops[i] = Op{Kind: kind, Low: lows[i], High: lows[i] + widths[i]}
	}

	return &Log{ops: ops}, nil
}

// maxOps bounds the operation count accepted from a header.
const maxOps = 1 << 28
