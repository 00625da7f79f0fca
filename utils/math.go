package utils

import "math"

// DegToRad converts an angle given in degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// AbsInt returns the absolute value of n.
func AbsInt(n int) int {
	if n < 0 {
		return -1 * n
	}
	return n
}
