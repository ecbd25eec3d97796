// Package monitor streams camera frames from the browser into a focus
// session controller and engine events back out over a WebSocket.
package monitor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ashureev/focusforge/internal/vision"
)

// Client message types.
const (
	MsgStart        = "start"
	MsgStop         = "stop"
	MsgCameraReady  = "camera_ready"
	MsgCameraDenied = "camera_denied"
	MsgPing         = "ping"
)

// Server-only message types. Engine events and alert commands carry their
// own types.
const (
	MsgCameraRequest = "camera_request"
	MsgPong          = "pong"
	MsgError         = "error"
)

const (
	frameHeaderSize = 8
	maxDimension    = 1 << 14
)

// ErrBadFrame is returned for binary messages that are not a valid frame.
var ErrBadFrame = errors.New("malformed frame")

// clientMessage is a text message from the browser.
type clientMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// serverMessage is a control message to the browser.
type serverMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// DecodeFrame parses a binary frame message: big-endian uint32 width and
// height followed by width*height RGBA pixels.
func DecodeFrame(data []byte, maxBytes int) (vision.Frame, error) {
	if len(data) < frameHeaderSize {
		return vision.Frame{}, fmt.Errorf("%w: %d byte header", ErrBadFrame, len(data))
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return vision.Frame{}, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrBadFrame, len(data), maxBytes)
	}

	w := binary.BigEndian.Uint32(data[0:4])
	h := binary.BigEndian.Uint32(data[4:8])
	pix := data[frameHeaderSize:]
	if w == 0 || h == 0 || w > maxDimension || h > maxDimension ||
		uint64(w)*uint64(h)*vision.BytesPerPixel != uint64(len(pix)) {
		return vision.Frame{}, fmt.Errorf("%w: %dx%d with %d pixel bytes", ErrBadFrame, w, h, len(pix))
	}

	return vision.Frame{Width: int(w), Height: int(h), Pix: pix}, nil
}

// EncodeFrame is the inverse of DecodeFrame.
func EncodeFrame(f vision.Frame) []byte {
	out := make([]byte, frameHeaderSize+len(f.Pix))
	binary.BigEndian.PutUint32(out[0:4], uint32(f.Width))
	binary.BigEndian.PutUint32(out[4:8], uint32(f.Height))
	copy(out[frameHeaderSize:], f.Pix)
	return out
}
