package optimize

import (
	"context"

	"github.com/wudi/printmark/filters"
	"github.com/wudi/printmark/ir/raw"
)

// compressStreams Flate-encodes every unfiltered stream that shrinks by
// doing so. Streams that already carry a /Filter are left untouched.
func (o *Optimizer) compressStreams(ctx context.Context, doc *raw.Document) (int, error) {
	n := 0
	for _, obj := range doc.Objects {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		stm, ok := obj.(*raw.StreamObj)
		if !ok || len(stm.Data) < o.config.MinCompressSize {
			continue
		}
		if _, filtered := stm.Dict.Lookup("Filter"); filtered {
			continue
		}
		compressed, err := filters.FlateEncode(stm.Data, o.config.CompressionLevel)
		if err != nil {
			return n, err
		}
		if len(compressed) >= len(stm.Data) {
			continue
		}
		stm.SetData(compressed)
		stm.Dict.Put("Filter", raw.NameLiteral("FlateDecode"))
		stm.Dict.Delete("DecodeParms")
		n++
	}
	return n, nil
}
