package decode

import (
	"errors"
	"fmt"
)

// ErrFraming matches every FramingError via errors.Is.
var ErrFraming = errors.New("framing error")

// ErrFieldOverflow is returned by the encoders when a value does not fit
// the configured field width.
var ErrFieldOverflow = errors.New("field value exceeds field width")

// FramingKind classifies a malformed frame.
type FramingKind int

const (
	BadLength    FramingKind = iota // Binary length not a multiple of the block size
	BadWordCount                    // Text line without exactly four words
	BadHex                          // Text word that is not a hex number
	BadKind                         // Frame kind the decoder does not know
)

func (k FramingKind) String() string {
	switch k {
	case BadLength:
		return "bad_length"
	case BadWordCount:
		return "bad_word_count"
	case BadHex:
		return "bad_hex"
	case BadKind:
		return "bad_kind"
	default:
		return "unknown"
	}
}

// FramingError describes a frame that cannot be decoded. No events are
// produced for a frame that fails.
type FramingError struct {
	Kind      FramingKind
	Length    int    // Frame length in bytes
	BlockSize int    // Expected block size (binary frames)
	Words     int    // Word count (text frames)
	Word      string // Offending word (BadHex)
	Err       error  // Underlying parse error (BadHex)
}

func (e *FramingError) Error() string {
	switch e.Kind {
	case BadLength:
		return fmt.Sprintf("framing error: binary frame of %d bytes is not a multiple of block size %d", e.Length, e.BlockSize)
	case BadWordCount:
		return fmt.Sprintf("framing error: text frame has %d words, want 4", e.Words)
	case BadHex:
		return fmt.Sprintf("framing error: word %q is not hex: %v", e.Word, e.Err)
	default:
		return fmt.Sprintf("framing error: %s (%d bytes)", e.Kind, e.Length)
	}
}

func (e *FramingError) Is(target error) bool {
	return target == ErrFraming
}

func (e *FramingError) Unwrap() error {
	return e.Err
}
