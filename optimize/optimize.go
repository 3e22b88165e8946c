// Package optimize compacts a raw document after it has been edited.
package optimize

import (
	"compress/flate"
	"context"
	"fmt"

	"github.com/wudi/printmark/ir/raw"
)

type Config struct {
	PruneUnreachable        bool
	CombineIdenticalObjects bool
	CompressStreams         bool
	// CompressionLevel is a compress/flate level.
	CompressionLevel int
	// MinCompressSize skips streams shorter than this many bytes.
	MinCompressSize int
}

// DefaultConfig enables every pass.
func DefaultConfig() Config {
	return Config{
		PruneUnreachable:        true,
		CombineIdenticalObjects: true,
		CompressStreams:         true,
		CompressionLevel:        flate.BestCompression,
		MinCompressSize:         64,
	}
}

type Optimizer struct {
	config Config
}

func New(config Config) *Optimizer {
	return &Optimizer{config: config}
}

// Optimize runs the enabled passes over doc in place. Stats reports what
// each pass removed or rewrote.
func (o *Optimizer) Optimize(ctx context.Context, doc *raw.Document) (Stats, error) {
	var stats Stats
	if doc == nil {
		return stats, nil
	}
	if o.config.PruneUnreachable {
		stats.Pruned = o.pruneUnreachable(doc)
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	if o.config.CombineIdenticalObjects {
		n, err := o.combineIdenticalObjects(ctx, doc)
		if err != nil {
			return stats, fmt.Errorf("failed to combine identical objects: %w", err)
		}
		stats.Combined = n
	}

	if o.config.CompressStreams {
		n, err := o.compressStreams(ctx, doc)
		if err != nil {
			return stats, fmt.Errorf("failed to compress streams: %w", err)
		}
		stats.Compressed = n
	}
	return stats, nil
}

type Stats struct {
	Pruned     int
	Combined   int
	Compressed int
}
