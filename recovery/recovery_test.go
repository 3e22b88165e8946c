package recovery_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/wudi/printmark/parser"
	"github.com/wudi/printmark/recovery"
)

// brokenPDF returns a document whose catalog dictionary is missing ">>".
func brokenPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	var offs [5]int
	offs[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R\nendobj\n")
	offs[2] = buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offs[3] = buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /MediaBox [0 0 612 792] /Parent 2 0 R /Resources << >> /Contents 4 0 R >>\nendobj\n")
	offs[4] = buf.Len()
	buf.WriteString("4 0 obj\n<< /Length 26 >>\nstream\nBT /F1 12 Tf (Hello) Tj ET\nendstream\nendobj\n")
	xrefOff := buf.Len()
	buf.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for i := 1; i < 5; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offs[i])
	}
	fmt.Fprintf(buf, "trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", xrefOff)
	return buf.Bytes()
}

func TestRecoveryStrategies(t *testing.T) {
	data := brokenPDF()

	t.Run("StrictStrategy", func(t *testing.T) {
		cfg := parser.Config{
			Recovery: recovery.NewStrictStrategy(),
		}
		_, err := parser.NewDocumentParser(cfg).Parse(context.Background(), data)
		if err == nil {
			t.Fatal("Expected error with StrictStrategy, got nil")
		}
	})

	t.Run("LenientStrategy", func(t *testing.T) {
		rec := recovery.NewLenientStrategy()
		cfg := parser.Config{
			Recovery: rec,
		}
		doc, err := parser.NewDocumentParser(cfg).Parse(context.Background(), data)
		if err != nil {
			t.Fatalf("Expected success with LenientStrategy, got error: %v", err)
		}
		pages, err := doc.Pages()
		if err != nil || len(pages) != 1 {
			t.Fatalf("expected one page after recovery, got %v (%v)", pages, err)
		}
		if len(rec.Problems()) == 0 {
			t.Fatal("expected the missing >> to be recorded")
		}
	})
}
