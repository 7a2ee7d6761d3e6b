package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxSample is the PGM maximum gray value written into every header.
const maxSample = 255

// ImagePath names the frame file for a block: one directory per device and
// a file name carrying device, block id and the millisecond digits of the
// capture time.
func ImagePath(root string, device int, blockID uint64, ms int) string {
	dir := fmt.Sprintf("%03d", device)
	name := fmt.Sprintf("%03d_%03d_%03d.pgm", device, blockID, ms)
	return filepath.Join(root, dir, name)
}

// Millis extracts the digits following the first '.' of a capture time
// column. ok is false when the column carries no fractional part.
func Millis(timeText string) (int, bool) {
	dot := strings.IndexByte(timeText, '.')
	if dot < 0 {
		return 0, false
	}
	rest := timeText[dot+1:]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return v, true
}

// createImage truncates path and writes the binary graymap header.
func createImage(path string, width, height uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if _, err := fmt.Fprintf(f, "P5\n%d %d\n%d\n", width, height, maxSample); err != nil {
		f.Close()
		return fmt.Errorf("write image header: %w", err)
	}
	return f.Close()
}

// appendImage opens path in append mode, writes data and closes it again.
func appendImage(path string, data []byte) (int, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open image: %w", err)
	}
	n, err := f.Write(data)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("append image: %w", err)
	}
	return n, nil
}
