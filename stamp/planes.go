package stamp

import "fmt"

// Split separates interleaved RGBA samples into an RGB colour plane and an
// alpha plane.
func Split(rgba []byte) (rgb, alpha []byte, err error) {
	if len(rgba)%4 != 0 {
		return nil, nil, fmt.Errorf("rgba buffer length %d is not a multiple of 4", len(rgba))
	}
	n := len(rgba) / 4
	rgb = make([]byte, 0, n*3)
	alpha = make([]byte, 0, n)
	for i := 0; i < len(rgba); i += 4 {
		rgb = append(rgb, rgba[i], rgba[i+1], rgba[i+2])
		alpha = append(alpha, rgba[i+3])
	}
	return rgb, alpha, nil
}

// Interleave is the inverse of Split.
func Interleave(rgb, alpha []byte) ([]byte, error) {
	if len(rgb) != len(alpha)*3 {
		return nil, fmt.Errorf("colour plane has %d bytes for %d alpha samples", len(rgb), len(alpha))
	}
	out := make([]byte, 0, len(alpha)*4)
	for i, a := range alpha {
		out = append(out, rgb[3*i], rgb[3*i+1], rgb[3*i+2], a)
	}
	return out, nil
}
