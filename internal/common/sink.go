package common

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink receives every decoded and diagnostic line of a run. Text written to a
// file-backed sink is echoed to the console writer as well.
type Sink struct {
	w    io.Writer
	buf  *bufio.Writer
	file *os.File
	path string
	err  error
}

// NewSink returns a sink that writes to w only.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// CreateFileSink truncates path and returns a sink writing to it and to echo.
// A nil echo writes to the file only.
func CreateFileSink(path string, echo io.Writer) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	buf := bufio.NewWriter(f)
	var w io.Writer = buf
	if echo != nil {
		w = io.MultiWriter(buf, echo)
	}
	return &Sink{w: w, buf: buf, file: f, path: path}, nil
}

// Path returns the backing file path, if any.
func (s *Sink) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Printf formats and appends to the sink. The first write error is kept and
// reported by Err and Close.
func (s *Sink) Printf(format string, args ...interface{}) {
	if s == nil || s.err != nil {
		return
	}
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		s.err = err
	}
}

// Println appends line followed by a newline.
func (s *Sink) Println(line string) {
	s.Printf("%s\n", line)
}

// Err returns the first write error.
func (s *Sink) Err() error {
	if s == nil {
		return nil
	}
	return s.err
}

// Close flushes and closes the backing file.
func (s *Sink) Close() error {
	if s == nil || s.file == nil {
		return s.Err()
	}
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if s.err != nil {
		return s.err
	}
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
