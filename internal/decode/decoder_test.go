package decode

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/rickgao/mbfilter/internal/connection"
	"github.com/rickgao/mbfilter/internal/model"
)

func newDecoder(t *testing.T, blockSize int) *Decoder {
	t.Helper()
	d, err := New(Config{BlockSize: blockSize})
	if err != nil {
		t.Fatalf("New(%d) failed: %v", blockSize, err)
	}
	return d
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		blockSize int
		wantErr   bool
	}{
		{"default", DefaultBlockSize, false},
		{"one byte fields", 4, false},
		{"uint64 fields", 32, false},
		{"zero", 0, true},
		{"negative", -12, true},
		{"not multiple of four", 13, true},
		{"fields too wide", 36, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BlockSize: tt.blockSize})
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%d) error = %v, wantErr %v", tt.blockSize, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeBinary_Example(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	data := []byte{0x01, 0x00, 0x00, 0x02, 0x00, 0x00, 0x03, 0x00, 0x00, 0x04, 0x00, 0x00}
	events, err := d.DecodeBinary(data)
	if err != nil {
		t.Fatalf("DecodeBinary failed: %v", err)
	}

	want := []model.MeasuredEvent{{Timestamp: 1, PeakHeight: 2, Cycle: 3, Speed: 4}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("DecodeBinary() = %+v, want %+v", events, want)
	}
}

func TestDecodeBinary_LittleEndian(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	data := []byte{
		0x56, 0x34, 0x12, // 0x123456
		0xff, 0xff, 0xff, // 0xffffff
		0x00, 0x01, 0x00, // 0x000100
		0x00, 0x00, 0x80, // 0x800000
	}
	events, err := d.DecodeBinary(data)
	if err != nil {
		t.Fatalf("DecodeBinary failed: %v", err)
	}

	want := model.MeasuredEvent{Timestamp: 0x123456, PeakHeight: 0xffffff, Cycle: 0x100, Speed: 0x800000}
	if events[0] != want {
		t.Errorf("event = %+v, want %+v", events[0], want)
	}
}

func TestDecodeBinary_MultipleBlocksInOrder(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	want := make([]model.MeasuredEvent, 50)
	for i := range want {
		want[i] = model.MeasuredEvent{
			Timestamp:  uint64(i * 1000),
			PeakHeight: uint64(i),
			Cycle:      uint64(i / 10),
			Speed:      uint64(50 - i),
		}
	}

	data, err := d.EncodeBinary(want)
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	if len(data) != len(want)*DefaultBlockSize {
		t.Fatalf("encoded length = %d, want %d", len(data), len(want)*DefaultBlockSize)
	}

	got, err := d.DecodeBinary(data)
	if err != nil {
		t.Fatalf("DecodeBinary failed: %v", err)
	}
	if len(got) != len(data)/DefaultBlockSize {
		t.Fatalf("decoded %d events, want %d", len(got), len(data)/DefaultBlockSize)
	}
	if !reflect.DeepEqual(got, want) {
		t.Error("decoded events differ from encoded events")
	}
}

func TestDecodeBinary_RoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	for _, blockSize := range []int{4, 8, 12, 16, 32} {
		d := newDecoder(t, blockSize)
		width := blockSize / model.FieldCount

		for iter := 0; iter < 100; iter++ {
			data := make([]byte, blockSize*r.IntN(20))
			for i := range data {
				data[i] = byte(r.UintN(256))
			}

			events, err := d.DecodeBinary(data)
			if err != nil {
				t.Fatalf("block %d: DecodeBinary failed: %v", blockSize, err)
			}
			if len(events) != len(data)/blockSize {
				t.Fatalf("block %d: %d events, want %d", blockSize, len(events), len(data)/blockSize)
			}

			back, err := d.EncodeBinary(events)
			if err != nil {
				t.Fatalf("block %d (width %d): EncodeBinary failed: %v", blockSize, width, err)
			}
			if !reflect.DeepEqual(back, data) && len(data) > 0 {
				t.Fatalf("block %d: re-encoded bytes differ", blockSize)
			}
		}
	}
}

func TestDecodeBinary_BadLength(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	for _, n := range []int{1, 11, 13, 23, 25} {
		events, err := d.DecodeBinary(make([]byte, n))
		if err == nil {
			t.Fatalf("len %d: expected error", n)
		}
		if events != nil {
			t.Errorf("len %d: got %d events, want none", n, len(events))
		}
		if !errors.Is(err, ErrFraming) {
			t.Errorf("len %d: error %v is not ErrFraming", n, err)
		}

		var fe *FramingError
		if !errors.As(err, &fe) {
			t.Fatalf("len %d: error %T is not *FramingError", n, err)
		}
		if fe.Kind != BadLength || fe.Length != n || fe.BlockSize != DefaultBlockSize {
			t.Errorf("len %d: FramingError = %+v", n, fe)
		}
	}
}

func TestDecodeBinary_Empty(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	events, err := d.DecodeBinary(nil)
	if err != nil {
		t.Fatalf("DecodeBinary(nil) failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestDecodeLine(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	tests := []struct {
		name string
		line string
		want model.MeasuredEvent
	}{
		{
			name: "example",
			line: "010000 020000 030000 040000",
			want: model.MeasuredEvent{Timestamp: 1, PeakHeight: 2, Cycle: 3, Speed: 4},
		},
		{
			name: "byte order reversed",
			line: "563412 ffffff 000100 000080",
			want: model.MeasuredEvent{Timestamp: 0x123456, PeakHeight: 0xffffff, Cycle: 0x100, Speed: 0x800000},
		},
		{
			name: "extra whitespace and newline",
			line: "  0a00   0b00\t0c00 0d00\n",
			want: model.MeasuredEvent{Timestamp: 10, PeakHeight: 11, Cycle: 12, Speed: 13},
		},
		{
			name: "upper case",
			line: "FF00 00FF AB CDEF",
			want: model.MeasuredEvent{Timestamp: 0xff, PeakHeight: 0xff00, Cycle: 0xab, Speed: 0xefcd},
		},
		{
			name: "odd length word",
			line: "abc 1 10 100",
			want: model.MeasuredEvent{Timestamp: 0xcab, PeakHeight: 0x1, Cycle: 0x10, Speed: 0x010},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.DecodeLine(tt.line)
			if err != nil {
				t.Fatalf("DecodeLine(%q) failed: %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("DecodeLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestDecodeLine_Errors(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	tests := []struct {
		name string
		line string
		kind FramingKind
	}{
		{"empty", "", BadWordCount},
		{"three words", "01 02 03", BadWordCount},
		{"five words", "01 02 03 04 05", BadWordCount},
		{"not hex", "01 02 zz 04", BadHex},
		{"too wide", "0102030405060708090a 02 03 04", BadHex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DecodeLine(tt.line)
			var fe *FramingError
			if !errors.As(err, &fe) {
				t.Fatalf("DecodeLine(%q) error = %v, want *FramingError", tt.line, err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", fe.Kind, tt.kind)
			}
			if !errors.Is(err, ErrFraming) {
				t.Error("expected errors.Is(err, ErrFraming)")
			}
		})
	}
}

func TestDecode_CrossEncodingConsistency(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)
	r := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 200; i++ {
		e := model.MeasuredEvent{
			Timestamp:  r.Uint64N(1 << 24),
			PeakHeight: r.Uint64N(1 << 24),
			Cycle:      r.Uint64N(1 << 24),
			Speed:      r.Uint64N(1 << 24),
		}

		block, err := d.EncodeBinary([]model.MeasuredEvent{e})
		if err != nil {
			t.Fatalf("EncodeBinary failed: %v", err)
		}
		line, err := d.EncodeLine(e)
		if err != nil {
			t.Fatalf("EncodeLine failed: %v", err)
		}

		fromBinary, err := d.Decode(connection.Frame{Kind: connection.FrameBinary, Data: block})
		if err != nil {
			t.Fatalf("Decode(binary) failed: %v", err)
		}
		fromText, err := d.Decode(connection.Frame{Kind: connection.FrameText, Data: []byte(line)})
		if err != nil {
			t.Fatalf("Decode(text %q) failed: %v", line, err)
		}

		if len(fromBinary) != 1 || len(fromText) != 1 {
			t.Fatalf("event counts: binary %d, text %d, want 1 each", len(fromBinary), len(fromText))
		}
		if fromBinary[0] != fromText[0] || fromBinary[0] != e {
			t.Fatalf("binary %+v, text %+v, want %+v", fromBinary[0], fromText[0], e)
		}
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	_, err := d.Decode(connection.Frame{Kind: connection.FrameKind(99), Data: []byte{1}})
	if !errors.Is(err, ErrFraming) {
		t.Errorf("Decode(unknown kind) error = %v, want ErrFraming", err)
	}
}

func TestEncodeBinary_Overflow(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	_, err := d.EncodeBinary([]model.MeasuredEvent{{Timestamp: 1 << 24}})
	if !errors.Is(err, ErrFieldOverflow) {
		t.Errorf("EncodeBinary() error = %v, want ErrFieldOverflow", err)
	}
}

func TestEncodeLine_Example(t *testing.T) {
	d := newDecoder(t, DefaultBlockSize)

	got, err := d.EncodeLine(model.MeasuredEvent{Timestamp: 1, PeakHeight: 2, Cycle: 3, Speed: 0x123456})
	if err != nil {
		t.Fatalf("EncodeLine failed: %v", err)
	}
	want := "010000 020000 030000 563412"
	if got != want {
		t.Errorf("EncodeLine() = %q, want %q", got, want)
	}
}

func TestReversePairs(t *testing.T) {
	tests := map[string]string{
		"a1b2c3": "c3b2a1",
		"ab":     "ab",
		"a":      "a",
		"abc":    "cab",
		"010000": "000001",
	}
	for in, want := range tests {
		if got := reversePairs(in); got != want {
			t.Errorf("reversePairs(%q) = %q, want %q", in, got, want)
		}
	}
}
