package parse

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTimestamp(t *testing.T) {
	utc := time.UTC
	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{"seconds", float64(1700000000), 1700000000, true},
		{"millis", float64(1700000000123), 1700000000, true},
		{"json number", json.Number("1700000000"), 1700000000, true},
		{"numeric string", "1700000000000", 1700000000, true},
		{"rfc3339", "2023-11-14T22:13:20Z", 1700000000, true},
		{"rfc3339 offset", "2023-11-15T00:13:20+02:00", 1700000000, true},
		{"naive in loc", "2023-11-14T22:13:20", 1700000000, true},
		{"space separated", "2023-11-14 22:13:20", 1700000000, true},
		{"garbage", "yesterday", 0, false},
		{"negative", float64(-1), 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeTimestamp(tt.in, utc)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenInputStripsBOM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bom.txt")
	require.NoError(t, os.WriteFile(path, append([]byte{0xEF, 0xBB, 0xBF}, "hello\nworld\n"...), 0o644))

	in, err := OpenInput(path)
	require.NoError(t, err)
	defer in.Close()

	data, err := io.ReadAll(in.Reader)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))
	assert.Equal(t, in.Size, in.Counter.BytesRead)
	assert.Equal(t, 100.0, in.Counter.Percent())
}

func TestOpenInputUTF16(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "utf16.txt")
	// UTF-16LE with BOM: "hi\n"
	raw := []byte{0xFF, 0xFE, 'h', 0, 'i', 0, '\n', 0}
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	in, err := OpenInput(path)
	require.NoError(t, err)
	defer in.Close()

	data, err := io.ReadAll(in.Reader)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
	assert.Equal(t, "hi\n", DecodeHead(raw))
}

func TestOpenInputMissing(t *testing.T) {
	_, err := OpenInput(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, CodeIO, CodeOf(err))
}

func TestScannerCarriesPartialLines(t *testing.T) {
	long := strings.Repeat("a", readChunkSize+10)
	sc := NewScanner(strings.NewReader("one\r\n" + long + "\nthree"))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"one", long, "three"}, lines)
}

func TestMessageTypeNames(t *testing.T) {
	assert.Equal(t, "image", TypeImage.String())
	assert.Equal(t, TypeRecall, ParseMessageType("recall"))
	assert.Equal(t, TypeOther, ParseMessageType("hologram"))
	assert.False(t, MessageType(6).Valid())
	assert.Equal(t, 80, int(TypeSystem))
}

func TestErrorTaxonomy(t *testing.T) {
	diag := FormatDiagnosis{Path: "a.bin", Extension: ".bin", Suggestion: "no format"}
	err := Wrap(Unrecognized("a.bin", diag), CodeIO, "a.bin", "outer")
	assert.True(t, IsUnrecognized(err))
	d, ok := DiagnosisOf(err)
	require.True(t, ok)
	assert.Equal(t, ".bin", d.Extension)

	wrapped := Wrap(io.ErrUnexpectedEOF, CodeParse, "f.json", "decode")
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	assert.Equal(t, CodeParse, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(io.EOF))
}
