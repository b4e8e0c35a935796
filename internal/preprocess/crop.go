package preprocess

import "image"

// CenterSquare returns the largest centered square inside a width x height
// image. When the excess is odd, the extra pixel is trimmed from the
// trailing (right or bottom) edge.
func CenterSquare(width, height int) image.Rectangle {
	side := min(width, height)
	x := (width - side) / 2
	y := (height - side) / 2
	return image.Rect(x, y, x+side, y+side)
}
