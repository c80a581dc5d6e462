package model

import (
	"image"
	"time"
)

// Frame is a single decoded RGB image read from one camera during one tick.
type Frame struct {
	Role       Role
	Tick       uint64
	CapturedAt time.Time
	Image      image.Image
}

// Empty reports whether the frame carries no image.
func (f Frame) Empty() bool {
	return f.Image == nil || f.Image.Bounds().Empty()
}
