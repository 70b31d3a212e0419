package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single frame's payload: 16 MiB.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge indicates a frame whose declared length exceeds the
// configured maximum. The connection carrying it must close.
var ErrFrameTooLarge = errors.New("frame too large")

// ErrTruncatedFrame indicates the stream ended mid-frame.
var ErrTruncatedFrame = errors.New("truncated frame")

// WriteFrame encodes the envelope as JSON and writes it as one frame: a
// big-endian u32 length followed by the payload bytes.
func WriteFrame(w io.Writer, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}

	return nil
}

// ReadFrame reads one length-prefixed frame and parses the envelope. A
// declared length above maxSize fails with ErrFrameTooLarge; a stream that
// ends mid-frame fails with ErrTruncatedFrame. A clean EOF at a frame
// boundary surfaces as io.EOF.
func ReadFrame(r io.Reader, maxSize uint32) (*Envelope, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}

		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)",
			ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) ||
			errors.Is(err, io.ErrUnexpectedEOF) {

			return nil, ErrTruncatedFrame
		}

		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}

	return &env, nil
}
