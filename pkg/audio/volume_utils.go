package audio

import "math"

// volumeToPower maps linear volume to the exponent used by effects.Volume
// with Base 2. Values near zero are treated as silence.
func volumeToPower(vol float64) float64 {
	if vol <= 0.01 {
		return -10
	}
	return math.Log2(vol)
}
