package formats

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"regexp"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// chatlabPreprocessor rewrites a ChatLab document into ChatLab JSONL in one
// pass so that the meta is emitted first whatever the key order of the
// source. Members and messages are spooled to temporary files and
// concatenated behind the header.
type chatlabPreprocessor struct{}

var (
	metaKeyRe    = regexp.MustCompile(`"meta"\s*:`)
	recordsKeyRe = regexp.MustCompile(`"(members|messages)"\s*:`)
)

// NeedsPreprocess reports whether the meta key does not precede the member
// and message arrays in the head of the file.
func (chatlabPreprocessor) NeedsPreprocess(path string, size int64) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 8*1024)
	n, _ := io.ReadFull(f, buf)
	head := buf[:n]

	meta := metaKeyRe.FindIndex(head)
	if meta == nil {
		return true
	}
	records := recordsKeyRe.FindIndex(head)
	return records != nil && records[0] < meta[0]
}

func (chatlabPreprocessor) Preprocess(ctx context.Context, opts parse.ParseOptions, progress func(read, total int64)) (parse.Rewritten, error) {
	in, err := parse.OpenInput(opts.FilePath)
	if err != nil {
		return parse.Rewritten{}, err
	}
	defer in.Close()

	members, err := newSpool(opts.TempDir, "chimp-members-*.jsonl")
	if err != nil {
		return parse.Rewritten{}, err
	}
	defer members.discard()
	messages, err := newSpool(opts.TempDir, "chimp-messages-*.jsonl")
	if err != nil {
		return parse.Rewritten{}, err
	}
	defer messages.discard()

	var info *chatlabInfo
	var meta chatlabMeta
	count := 0
	report := func() {
		count++
		if count%1024 == 0 && progress != nil {
			progress(in.Counter.BytesRead, in.Size)
		}
	}

	dec := parse.NewJSONDecoder(in.Reader)
	err = parse.ReadObject(dec, func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch key {
		case "chatlab":
			info = &chatlabInfo{}
			return dec.Decode(info)
		case "meta":
			return dec.Decode(&meta)
		case "members":
			return parse.ReadArray(dec, func() error {
				var m chatlabMemberRecord
				if err := dec.Decode(&m.chatlabMember); err != nil {
					return err
				}
				m.Kind = recordMember
				report()
				return members.write(m)
			})
		case "messages":
			return parse.ReadArray(dec, func() error {
				var m chatlabMessageRecord
				if err := dec.Decode(&m.chatlabMessage); err != nil {
					return err
				}
				m.Kind = recordMessage
				report()
				return messages.write(m)
			})
		default:
			return parse.SkipValue(dec)
		}
	})
	if err != nil {
		return parse.Rewritten{}, parse.Wrap(err, parse.CodeParse, opts.FilePath, "malformed ChatLab document")
	}

	if meta.Name == "" {
		meta.Name = baseName(opts.FilePath)
	}
	out, err := newSpool(opts.TempDir, "chimp-chatlab-*.jsonl")
	if err != nil {
		return parse.Rewritten{}, err
	}
	if err := out.write(chatlabHeader{Kind: recordHeader, Chatlab: info, Meta: meta}); err != nil {
		out.discard()
		return parse.Rewritten{}, err
	}
	for _, s := range []*spool{members, messages} {
		if err := s.copyTo(out); err != nil {
			out.discard()
			return parse.Rewritten{}, err
		}
	}
	if err := out.close(); err != nil {
		out.discard()
		return parse.Rewritten{}, err
	}
	if progress != nil {
		progress(in.Size, in.Size)
	}
	return parse.Rewritten{Path: out.path, Parser: parse.ParserFunc(parseChatLabJSONL)}, nil
}

// spool is a buffered temporary JSONL file.
type spool struct {
	path string
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

func newSpool(dir, pattern string) (*spool, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, parse.Wrap(err, parse.CodeIO, dir, "create temporary file")
	}
	w := bufio.NewWriterSize(f, 256*1024)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &spool{path: f.Name(), f: f, w: w, enc: enc}, nil
}

// write appends v as one line.
func (s *spool) write(v any) error {
	if err := s.enc.Encode(v); err != nil {
		return parse.Wrap(err, parse.CodeIO, s.path, "write temporary file")
	}
	return nil
}

func (s *spool) copyTo(dst *spool) error {
	if err := s.w.Flush(); err != nil {
		return parse.Wrap(err, parse.CodeIO, s.path, "flush temporary file")
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return parse.Wrap(err, parse.CodeIO, s.path, "rewind temporary file")
	}
	if err := dst.w.Flush(); err != nil {
		return parse.Wrap(err, parse.CodeIO, dst.path, "flush temporary file")
	}
	if _, err := io.Copy(dst.f, s.f); err != nil {
		return parse.Wrap(err, parse.CodeIO, dst.path, "copy temporary file")
	}
	return nil
}

func (s *spool) close() error {
	err := errors.Join(s.w.Flush(), s.f.Close())
	if err != nil {
		return parse.Wrap(err, parse.CodeIO, s.path, "close temporary file")
	}
	return nil
}

// discard closes and removes the file. It is safe to call after close.
func (s *spool) discard() {
	s.f.Close()
	os.Remove(s.path)
}
