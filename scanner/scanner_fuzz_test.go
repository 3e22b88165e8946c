package scanner

import (
	"testing"

	"github.com/wudi/printmark/recovery"
)

func FuzzScanner(f *testing.F) {
	f.Add([]byte("<< /Type /Page >>"))
	f.Add([]byte("[ 1 2 3 ]"))
	f.Add([]byte("stream\n...data...\nendstream"))
	f.Add([]byte("(Hello World)"))
	f.Add([]byte("<AABBCC>"))
	f.Add([]byte("(unterminated \\"))

	f.Fuzz(func(t *testing.T, data []byte) {
		s := New(data, Config{
			MaxStringLength: 1024,
			MaxStreamLength: 1024,
			Recovery:        recovery.NewLenientStrategy(),
		})
		last := int64(-1)
		for {
			_, err := s.Next()
			if err != nil {
				break
			}
			if s.Position() <= last {
				t.Fatalf("scanner did not advance past %d", last)
			}
			last = s.Position()
		}
	})
}
