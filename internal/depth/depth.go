// Package depth turns the apparent face width into a rough viewer distance.
package depth

const (
	// FocalLength is the webcam focal length used by the pinhole estimate.
	FocalLength = 615.0
	// FaceWidthCM is the width of an average adult face.
	FaceWidthCM = 14.0
	// ReferenceDistanceCM is the distance mapped to a zero offset.
	ReferenceDistanceCM = 30.0
)

// EstimateDistance returns the distance to the face in centimetres.
// Widths below one pixel are treated as one pixel.
func EstimateDistance(faceWidthPx float64) float64 {
	if faceWidthPx < 1 {
		faceWidthPx = 1
	}
	return (FaceWidthCM * FocalLength) / (faceWidthPx * 0.1)
}

// Offset maps a distance onto the Z axis expected by the scene consumer.
func Offset(distanceCM float64) float64 {
	return (distanceCM - ReferenceDistanceCM) / 100
}

// Z is Offset(EstimateDistance(faceWidthPx)), or 0 when no width is known.
func Z(faceWidthPx float64) float64 {
	if faceWidthPx <= 0 {
		return 0
	}
	return Offset(EstimateDistance(faceWidthPx))
}
