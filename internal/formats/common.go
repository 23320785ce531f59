package formats

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/Zuo-Peng/chimp/internal/parse"
	"github.com/Zuo-Peng/chimp/internal/sniff"
)

// Modules returns every built-in format in registration order.
func Modules() []parse.Module {
	return []parse.Module{
		ChatLab(),
		ChatLabJSONL(),
		Telegram(),
		Discord(),
		WhatsApp(),
		Line(),
		GenericJSONL(),
	}
}

// NewRegistry returns a registry holding every built-in format.
func NewRegistry() *sniff.Registry {
	return sniff.New(Modules()...)
}

// eachLine feeds every line of the input to fn. The slice passed to fn is
// only valid until fn returns.
func eachLine(ctx context.Context, opts parse.ParseOptions, e *parse.Emitter, fn func(n int, line []byte) error) error {
	in, err := parse.OpenInput(opts.FilePath)
	if err != nil {
		return err
	}
	defer in.Close()
	e.Track(in.Counter)

	sc := parse.NewScanner(in.Reader)
	n := 0
	for sc.Scan() {
		n++
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(n, sc.Bytes()); err != nil {
			return err
		}
		if err := e.Tick(); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return parse.ScanError(err, opts.FilePath)
	}
	return nil
}

func decodeLine(line []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	return dec.Decode(v)
}

// baseName is the file name without directory or extension.
func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// typeFromAny maps a numeric or named type to MessageType. Empty input is
// text.
func typeFromAny(v any) parse.MessageType {
	switch t := v.(type) {
	case nil:
		return parse.TypeText
	case string:
		if t == "" {
			return parse.TypeText
		}
		return parse.ParseMessageType(strings.ToLower(t))
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return parse.TypeOther
		}
		mt := parse.MessageType(n)
		if !mt.Valid() {
			return parse.TypeOther
		}
		return mt
	}
	return parse.TypeOther
}

// firstNonEmpty returns the first argument that is not blank.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
