package visual

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxBatchBytes bounds a single encoded batch on the wire.
const MaxBatchBytes = 64 << 20

// Batch is the wire message sent to external renderers.
type Batch struct {
	RunID       string   `msgpack:"run_id"`
	Seq         uint64   `msgpack:"seq"`
	PeakHeights []uint64 `msgpack:"peak_heights"`
	Final       bool     `msgpack:"final"`
}

// Marshal encodes b as msgpack.
func (b Batch) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(&b)
	if err != nil {
		return nil, fmt.Errorf("marshal batch %d: %w", b.Seq, err)
	}
	return data, nil
}

// UnmarshalBatch decodes a msgpack batch.
func UnmarshalBatch(data []byte) (Batch, error) {
	var b Batch
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("unmarshal batch: %w", err)
	}
	return b, nil
}

// WriteFrame writes b with a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, b Batch) error {
	data, err := b.Marshal()
	if err != nil {
		return err
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed batch. It returns io.EOF when r is
// exhausted at a frame boundary.
func ReadFrame(r io.Reader) (Batch, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Batch{}, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxBatchBytes {
		return Batch{}, fmt.Errorf("batch length %d exceeds %d", n, MaxBatchBytes)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Batch{}, fmt.Errorf("read batch: %w", err)
	}
	return UnmarshalBatch(data)
}
