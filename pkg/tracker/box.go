package tracker

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrInvalidBox is returned for boxes with x1 >= x2 or y1 >= y2
	ErrInvalidBox = errors.New("invalid box geometry")
	// ErrInvalidMaxDisappeared is returned when maxDisappeared is not positive
	ErrInvalidMaxDisappeared = errors.New("maxDisappeared must be positive")
)

// Validate checks that the box has a positive width and height.
// Min is the (x1, y1) top left corner, Max is the (x2, y2) bottom right corner.
func Validate(box image.Rectangle) error {
	if box.Min.X >= box.Max.X || box.Min.Y >= box.Max.Y {
		return fmt.Errorf("%w: (%d,%d,%d,%d)", ErrInvalidBox,
			box.Min.X, box.Min.Y, box.Max.X, box.Max.Y)
	}
	return nil
}

// Centroid returns the rounded center point of the box
func Centroid(box image.Rectangle) image.Point {
	cx := math.Round(float64(box.Min.X+box.Max.X) / 2.0)
	cy := math.Round(float64(box.Min.Y+box.Max.Y) / 2.0)
	return image.Pt(int(cx), int(cy))
}
