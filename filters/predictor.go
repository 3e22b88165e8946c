package filters

import (
	"errors"
	"fmt"

	"github.com/wudi/printmark/ir/raw"
)

// applyPredictor undoes the TIFF (2) or PNG (10..15) predictor selected in
// the DecodeParms of a Flate or LZW stream.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	if colors < 1 || bpc < 1 || columns < 1 {
		return nil, fmt.Errorf("invalid predictor parameters colors=%d bpc=%d columns=%d", colors, bpc, columns)
	}
	bpp := (colors*bpc + 7) / 8
	rowLen := (colors*bpc*columns + 7) / 8
	switch {
	case predictor == 2:
		return tiffPredict(data, rowLen, bpp, bpc)
	case predictor >= 10:
		return pngPredict(data, rowLen, bpp)
	}
	return nil, fmt.Errorf("unsupported predictor %d", predictor)
}

func tiffPredict(data []byte, rowLen, bpp, bpc int) ([]byte, error) {
	if bpc != 8 {
		return nil, fmt.Errorf("TIFF predictor with %d bits per component", bpc)
	}
	out := make([]byte, len(data))
	copy(out, data)
	for row := 0; row+rowLen <= len(out); row += rowLen {
		for i := row + bpp; i < row+rowLen; i++ {
			out[i] += out[i-bpp]
		}
	}
	return out, nil
}

func pngPredict(data []byte, rowLen, bpp int) ([]byte, error) {
	stride := rowLen + 1
	if len(data) < stride {
		return nil, errors.New("predictor data shorter than one row")
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		line := data[r*stride : (r+1)*stride]
		filter := line[0]
		copy(cur, line[1:])
		for i := 0; i < rowLen; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch filter {
			case 0:
			case 1:
				cur[i] += left
			case 2:
				cur[i] += up
			case 3:
				cur[i] += byte((int(left) + int(up)) / 2)
			case 4:
				cur[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("invalid PNG filter type %d", filter)
			}
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
