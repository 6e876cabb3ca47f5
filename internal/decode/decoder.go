package decode

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/rickgao/mbfilter/internal/connection"
	"github.com/rickgao/mbfilter/internal/model"
)

// DefaultBlockSize is the MBFilter block: four 3-byte fields.
const DefaultBlockSize = 12

// MaxFieldWidth is the widest field that fits a uint64.
const MaxFieldWidth = 8

// Config configures a Decoder.
type Config struct {
	BlockSize int // Bytes per encoded event; must be 4 × field width
}

// DefaultConfig returns the MBFilter wire layout.
func DefaultConfig() Config {
	return Config{BlockSize: DefaultBlockSize}
}

// Decoder converts frames to events. It holds only the immutable layout
// and is safe for concurrent use.
type Decoder struct {
	blockSize  int
	fieldWidth int
}

// New validates the layout and returns a Decoder.
func New(cfg Config) (*Decoder, error) {
	if cfg.BlockSize <= 0 || cfg.BlockSize%model.FieldCount != 0 {
		return nil, fmt.Errorf("block size %d is not a positive multiple of %d", cfg.BlockSize, model.FieldCount)
	}
	width := cfg.BlockSize / model.FieldCount
	if width > MaxFieldWidth {
		return nil, fmt.Errorf("field width %d exceeds %d bytes", width, MaxFieldWidth)
	}
	return &Decoder{blockSize: cfg.BlockSize, fieldWidth: width}, nil
}

// BlockSize returns the configured block size in bytes.
func (d *Decoder) BlockSize() int {
	return d.blockSize
}

// Decode dispatches on the frame kind.
func (d *Decoder) Decode(f connection.Frame) ([]model.MeasuredEvent, error) {
	switch f.Kind {
	case connection.FrameBinary:
		return d.DecodeBinary(f.Data)
	case connection.FrameText:
		ev, err := d.DecodeLine(string(f.Data))
		if err != nil {
			return nil, err
		}
		return []model.MeasuredEvent{ev}, nil
	default:
		return nil, &FramingError{Kind: BadKind, Length: len(f.Data)}
	}
}

// DecodeBinary splits data into blocks and decodes one event per block,
// in block order.
func (d *Decoder) DecodeBinary(data []byte) ([]model.MeasuredEvent, error) {
	if len(data)%d.blockSize != 0 {
		return nil, &FramingError{Kind: BadLength, Length: len(data), BlockSize: d.blockSize}
	}

	n := len(data) / d.blockSize
	events := make([]model.MeasuredEvent, n)
	for i := 0; i < n; i++ {
		block := data[i*d.blockSize : (i+1)*d.blockSize]
		var fields [model.FieldCount]uint64
		for j := range fields {
			fields[j] = littleEndian(block[j*d.fieldWidth : (j+1)*d.fieldWidth])
		}
		events[i] = model.EventFromFields(fields)
	}
	return events, nil
}

// DecodeLine decodes one text-mode line of four hex words.
func (d *Decoder) DecodeLine(line string) (model.MeasuredEvent, error) {
	words := strings.Fields(line)
	if len(words) != model.FieldCount {
		return model.MeasuredEvent{}, &FramingError{Kind: BadWordCount, Length: len(line), Words: len(words)}
	}

	var fields [model.FieldCount]uint64
	for i, w := range words {
		v, err := strconv.ParseUint(reversePairs(w), 16, 64)
		if err != nil {
			return model.MeasuredEvent{}, &FramingError{Kind: BadHex, Length: len(line), Words: len(words), Word: w, Err: err}
		}
		fields[i] = v
	}
	return model.EventFromFields(fields), nil
}

// EncodeBinary is the inverse of DecodeBinary.
func (d *Decoder) EncodeBinary(events []model.MeasuredEvent) ([]byte, error) {
	out := make([]byte, 0, len(events)*d.blockSize)
	for _, e := range events {
		for _, v := range e.Fields() {
			if d.fieldWidth < MaxFieldWidth && v>>(8*d.fieldWidth) != 0 {
				return nil, fmt.Errorf("%w: %d does not fit %d bytes", ErrFieldOverflow, v, d.fieldWidth)
			}
			for b := 0; b < d.fieldWidth; b++ {
				out = append(out, byte(v>>(8*b)))
			}
		}
	}
	return out, nil
}

// EncodeLine renders an event the way the instrument's text mode does:
// each field's little-endian bytes as hex.
func (d *Decoder) EncodeLine(e model.MeasuredEvent) (string, error) {
	block, err := d.EncodeBinary([]model.MeasuredEvent{e})
	if err != nil {
		return "", err
	}
	words := make([]string, model.FieldCount)
	for i := range words {
		words[i] = hex.EncodeToString(block[i*d.fieldWidth : (i+1)*d.fieldWidth])
	}
	return strings.Join(words, " "), nil
}

// littleEndian reads an unsigned integer of up to eight bytes.
func littleEndian(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// reversePairs splits a hex word into two-character chunks from the left
// and joins them in reverse order: "a1b2c3" -> "c3b2a1". An odd trailing
// character stays a chunk of its own.
func reversePairs(w string) string {
	var sb strings.Builder
	sb.Grow(len(w))
	end := len(w)
	if len(w)%2 == 1 {
		sb.WriteByte(w[len(w)-1])
		end--
	}
	for i := end - 2; i >= 0; i -= 2 {
		sb.WriteString(w[i : i+2])
	}
	return sb.String()
}
