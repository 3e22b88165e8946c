package writer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/printmark/ir/raw"
)

// ErrDuplicateNumber reports two live generations of one object number.
var ErrDuplicateNumber = errors.New("object number used by two generations")

type Config struct {
	// Version overrides the header version. Empty keeps doc.Version, or 1.7.
	Version string
}

// Write serialises doc as a complete file with a single classic
// cross-reference table. Output is deterministic: objects are written in
// ascending number order and dictionary keys sorted.
func Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error {
	if doc.Trailer == nil {
		return raw.ErrNoCatalog
	}
	if _, ok := doc.Trailer.Lookup("Root"); !ok {
		return raw.ErrNoCatalog
	}
	refs := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		refs = append(refs, ref)
	}
	raw.SortRefs(refs)
	for i := 1; i < len(refs); i++ {
		if refs[i].Num == refs[i-1].Num {
			return fmt.Errorf("%w: %d", ErrDuplicateNumber, refs[i].Num)
		}
	}

	version := cfg.Version
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = "1.7"
	}

	cw := &countingWriter{w: bufio.NewWriter(w)}
	fmt.Fprintf(cw, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)

	hash, _ := blake2b.New(16, nil)
	offsets := make(map[int]int64, len(refs))
	gens := make(map[int]int, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		offsets[ref.Num] = cw.n
		gens[ref.Num] = ref.Gen
		body := SerializeObject(ref, doc.Objects[ref])
		hash.Write(body)
		if _, err := cw.Write(body); err != nil {
			return err
		}
	}

	size := 1
	if len(refs) > 0 {
		size = refs[len(refs)-1].Num + 1
	}
	xrefOffset := cw.n
	writeXRefTable(cw, size, offsets, gens)

	trailer := buildTrailer(doc.Trailer, size, hash.Sum(nil))
	cw.WriteString("trailer\n")
	cw.Write(SerializeValue(trailer))
	fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	if cw.err != nil {
		return cw.err
	}
	return cw.w.Flush()
}

// writeXRefTable emits one subsection covering 0..size-1. Unused numbers
// form the free list, headed by entry 0.
func writeXRefTable(cw *countingWriter, size int, offsets map[int]int64, gens map[int]int) {
	var free []int
	for num := 1; num < size; num++ {
		if _, ok := offsets[num]; !ok {
			free = append(free, num)
		}
	}
	nextFree := func(i int) int {
		if i < len(free) {
			return free[i]
		}
		return 0
	}
	fmt.Fprintf(cw, "xref\n0 %d\n", size)
	fmt.Fprintf(cw, "%010d 65535 f \n", nextFree(0))
	freeIdx := 0
	for num := 1; num < size; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(cw, "%010d %05d n \n", off, gens[num])
			continue
		}
		freeIdx++
		fmt.Fprintf(cw, "%010d 00001 f \n", nextFree(freeIdx))
	}
}

func buildTrailer(src *raw.DictObj, size int, digest []byte) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Put("Size", raw.NumberInt(int64(size)))
	for _, key := range []string{"Root", "Info"} {
		if v, ok := src.Lookup(key); ok {
			trailer.Put(key, v)
		}
	}
	first := digest
	if v, ok := src.Lookup("ID"); ok {
		if arr, ok := v.(*raw.ArrayObj); ok && arr.Len() == 2 {
			if s, ok := arr.Items[0].(raw.StringObj); ok && len(s.Bytes) > 0 {
				first = s.Bytes
			}
		}
	}
	trailer.Put("ID", raw.NewArray(raw.HexStr(first), raw.HexStr(digest)))
	return trailer
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

func (c *countingWriter) WriteString(s string) (int, error) { return c.Write([]byte(s)) }
