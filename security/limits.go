package security

import (
	"time"

	"github.com/wudi/printmark/filters"
)

// Limits bounds the resources one print job may consume while its document
// is parsed and decoded.
type Limits struct {
	// Maximum size of a submitted job payload. Default: 256 MB.
	MaxJobSize int64
	// Maximum decompressed stream size (prevent zip bombs). Default: 100 MB.
	MaxDecompressedSize int64
	// Maximum indirect reference depth. Default: 100.
	MaxIndirectDepth int
	// Maximum XRef chain depth (Prev entries). Default: 50.
	MaxXRefDepth int
	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64
	// Maximum raw stream length (bytes). Default: 50 MB.
	MaxStreamLength int64
	// Maximum decode time per stream. Default: 30s.
	MaxDecodeTime time.Duration
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxJobSize:          256 * 1024 * 1024,
		MaxDecompressedSize: 100 * 1024 * 1024,
		MaxIndirectDepth:    100,
		MaxXRefDepth:        50,
		MaxStringLength:     10 * 1024 * 1024,
		MaxStreamLength:     50 * 1024 * 1024,
		MaxDecodeTime:       30 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxJobSize == 0 {
		l.MaxJobSize = d.MaxJobSize
	}
	if l.MaxDecompressedSize == 0 {
		l.MaxDecompressedSize = d.MaxDecompressedSize
	}
	if l.MaxIndirectDepth == 0 {
		l.MaxIndirectDepth = d.MaxIndirectDepth
	}
	if l.MaxXRefDepth == 0 {
		l.MaxXRefDepth = d.MaxXRefDepth
	}
	if l.MaxStringLength == 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxStreamLength == 0 {
		l.MaxStreamLength = d.MaxStreamLength
	}
	if l.MaxDecodeTime == 0 {
		l.MaxDecodeTime = d.MaxDecodeTime
	}
	return l
}

// Filters returns the subset that governs stream decoding.
func (l Limits) Filters() filters.Limits {
	return filters.Limits{
		MaxDecompressedSize: l.MaxDecompressedSize,
		MaxDecodeTime:       l.MaxDecodeTime,
	}
}
