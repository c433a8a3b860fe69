package capture

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// bytesPerPixel is the channel count of the BGR 8UC3 layout used for Frame.Pix.
const bytesPerPixel = 3

// Transform describes how a frame must be rotated and mirrored to match
// what the user sees on screen.
type Transform struct {
	// RotationDegrees is one of 0, 90, 180 or 270 (clockwise).
	RotationDegrees int `json:"rotation_degrees" yaml:"rotation_degrees"`

	// Mirror flips the frame horizontally after rotation (front camera).
	Mirror bool `json:"mirror" yaml:"mirror"`
}

// Validate reports whether the rotation is a supported right angle.
func (t Transform) Validate() error {
	switch t.RotationDegrees {
	case 0, 90, 180, 270:
		return nil
	}
	return fmt.Errorf("unsupported rotation %d (want 0, 90, 180 or 270)", t.RotationDegrees)
}

// Frame is a single captured video frame.
//
// A Frame is immutable once created. Seq is zero until admission, when the
// gate makes a stamped copy; that copy is what detectors see.
type Frame struct {
	Seq       uint64
	Pix       []byte // BGR, row-major, Width*Height*3 bytes
	Width     int
	Height    int
	Transform Transform
	Timestamp time.Time
}

// NewFrame wraps a raw BGR pixel buffer. The buffer is not copied.
func NewFrame(pix []byte, width, height int, t Transform) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if len(pix) != width*height*bytesPerPixel {
		return nil, fmt.Errorf("pixel buffer is %d bytes, want %d", len(pix), width*height*bytesPerPixel)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Frame{
		Pix:       pix,
		Width:     width,
		Height:    height,
		Transform: t,
		Timestamp: time.Now(),
	}, nil
}

// FrameFromMat copies a gocv Mat into a new Frame.
func FrameFromMat(mat *gocv.Mat, t Transform) (*Frame, error) {
	if mat == nil || mat.Empty() {
		return nil, errors.New("captured frame is empty")
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		converted := gocv.NewMat()
		defer converted.Close()
		mat.ConvertTo(&converted, gocv.MatTypeCV8UC3)
		return NewFrame(converted.ToBytes(), converted.Cols(), converted.Rows(), t)
	}
	return NewFrame(mat.ToBytes(), mat.Cols(), mat.Rows(), t)
}

// Oriented returns a new Mat holding the frame with its transform applied.
// The caller is responsible for closing the returned Mat.
func (f *Frame) Oriented() (gocv.Mat, error) {
	src, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap frame pixels: %w", err)
	}

	dst := gocv.NewMat()
	switch f.Transform.RotationDegrees {
	case 90:
		gocv.Rotate(src, &dst, gocv.Rotate90Clockwise)
	case 180:
		gocv.Rotate(src, &dst, gocv.Rotate180Clockwise)
	case 270:
		gocv.Rotate(src, &dst, gocv.Rotate90CounterClockwise)
	default:
		src.CopyTo(&dst)
	}
	src.Close()

	if f.Transform.Mirror {
		flipped := gocv.NewMat()
		gocv.Flip(dst, &flipped, 1)
		dst.Close()
		dst = flipped
	}
	return dst, nil
}

// EncodeJPEG encodes the oriented frame as JPEG.
func (f *Frame) EncodeJPEG() ([]byte, error) {
	mat, err := f.Oriented()
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory released by buf.Close.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// OrientedSize returns the width and height after rotation.
func (f *Frame) OrientedSize() (int, int) {
	if f.Transform.RotationDegrees == 90 || f.Transform.RotationDegrees == 270 {
		return f.Height, f.Width
	}
	return f.Width, f.Height
}
