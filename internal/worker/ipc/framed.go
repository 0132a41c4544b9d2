// Package ipc implements the length-prefixed framed transport used between
// the host, the worker and the job process. One frame carries exactly one
// logical message; callers never observe a partial frame.
package ipc

import (
	"encoding/binary"
	"errors"
	"io"

	appErr "pvforge/pkg/errors"
)

// prefixSize is the width of the little-endian length prefix. It is part of
// the external wire contract: the pre-encoded out-of-memory payload embeds
// an 8-byte prefix, so the width is not negotiable.
const prefixSize = 8

// DefaultMaxFrameSize bounds a single frame. The length prefix crosses a
// trust boundary, so an adversarial peer must not be able to make the reader
// allocate without bound.
const DefaultMaxFrameSize = 64 * 1024 * 1024

// Send writes one frame: the payload length as an 8-byte little-endian
// prefix followed by the payload. It blocks until the frame is fully written.
func Send(w io.Writer, payload []byte) error {
	var prefix [prefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return appErr.TransportFailure(err)
	}
	if _, err := w.Write(payload); err != nil {
		return appErr.TransportFailure(err)
	}
	return nil
}

// Recv blocks until one full frame has been read and returns its payload.
// A stream that closes before the frame completes yields an error: partial
// frames are never delivered.
func Recv(r io.Reader) ([]byte, error) {
	return RecvLimited(r, DefaultMaxFrameSize)
}

// RecvLimited is Recv with an explicit frame size ceiling.
func RecvLimited(r io.Reader, maxSize uint64) ([]byte, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, appErr.Wrap(err, appErr.StreamClosed)
		}
		return nil, appErr.TransportFailure(err)
	}

	length := binary.LittleEndian.Uint64(prefix[:])
	if length > maxSize {
		return nil, appErr.Newf(appErr.FrameTooLarge, "frame of %d bytes exceeds limit %d", length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		// EOF mid-frame means the peer died or lied about the length.
		return nil, appErr.Wrapf(err, appErr.TransportError, "stream closed mid-frame: %v", err)
	}
	return payload, nil
}
