package ear

import "fmt"

// FaceMesh landmark indices of the eye contours, in Contour order.
var (
	LeftEyeIndices  = [6]int{362, 385, 387, 263, 373, 380}
	RightEyeIndices = [6]int{33, 160, 158, 133, 153, 144}
)

// ContourFromLandmarks picks the six eye points out of a full face mesh.
// Coordinates are scaled by width/height so normalized mesh output ends up in
// pixel space with a common scale on both axes.
func ContourFromLandmarks(mesh []Point, indices [6]int, width, height float64) (Contour, error) {
	var c Contour
	for i, idx := range indices {
		if idx < 0 || idx >= len(mesh) {
			return c, fmt.Errorf("landmark %d out of range (mesh has %d points)", idx, len(mesh))
		}
		c[i] = Point{X: mesh[idx].X * width, Y: mesh[idx].Y * height}
	}
	return c, nil
}
