package rpm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// decompress inflates data if it carries a recognized compression magic
// header, returning it unchanged otherwise, using klauspost/compress for
// gzip and ulikunitz/xz for xz.
func decompress(data []byte) ([]byte, error) {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)

	case len(data) >= 6 && bytes.Equal(data[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xz stream: %w", err)
		}
		return io.ReadAll(r)

	default:
		return data, nil
	}
}
