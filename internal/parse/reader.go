package parse

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	readChunkSize = 64 * 1024
	maxRecordSize = 16 * 1024 * 1024 // single line / record cap
)

// CountingReader tracks the raw bytes consumed from the underlying reader so
// progress can be reported against the file size.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Percent returns read progress in [0, 100]; 0 when the total is unknown.
func (r *CountingReader) Percent() float64 {
	if r.Total <= 0 {
		return 0
	}
	p := float64(r.BytesRead) / float64(r.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Input is an opened export file. Reader yields UTF-8 text with any byte
// order mark removed; UTF-16 files carrying a BOM are transcoded.
type Input struct {
	Reader  io.Reader
	Counter *CountingReader
	Size    int64

	file *os.File
}

func OpenInput(path string) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Wrap(err, CodeIO, path, "open input")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Wrap(err, CodeIO, path, "stat input")
	}
	counter := NewCountingReader(f, info.Size())
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	return &Input{
		Reader:  transform.NewReader(bufio.NewReaderSize(counter, readChunkSize), dec),
		Counter: counter,
		Size:    info.Size(),
		file:    f,
	}, nil
}

func (in *Input) Close() error {
	return in.file.Close()
}

// DecodeHead decodes a raw head window the same way OpenInput decodes a
// stream. Undecodable input is returned as-is.
func DecodeHead(raw []byte) string {
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// NewScanner returns a line scanner reading in fixed chunks. Partial lines at
// a chunk boundary are carried into the next read; a line longer than
// maxRecordSize fails with bufio.ErrTooLong.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, readChunkSize), maxRecordSize)
	return sc
}

// ScanError classifies a scanner failure.
func ScanError(err error, path string) error {
	if err == bufio.ErrTooLong {
		return Errorf(CodeParse, path, "record exceeds %d bytes", maxRecordSize)
	}
	return Wrap(err, CodeIO, path, fmt.Sprintf("read %s", path))
}
