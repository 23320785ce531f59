package formats

import (
	"context"
	"regexp"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// ChatLabJSONL reads the line-delimited ChatLab layout: one header record
// followed by member and message records.
//
//	{"_type":"header","chatlab":{...},"meta":{...}}
//	{"_type":"member","platformId":"1","groupNickname":"A"}
//	{"_type":"message","sender":"1","timestamp":1700000000,"type":0,"content":"hi"}
func ChatLabJSONL() parse.Module {
	return parse.Module{
		Feature: parse.FormatFeature{
			ID:         "chatlab-jsonl",
			Name:       "ChatLab JSONL",
			Platform:   parse.PlatformChatLab,
			Priority:   11,
			Extensions: []string{".jsonl"},
			Signatures: parse.Signatures{
				Head:           []*regexp.Regexp{regexp.MustCompile(`"_type"\s*:\s*"header"`)},
				RequiredFields: []string{"_type", "meta"},
			},
		},
		Parser: parse.ParserFunc(parseChatLabJSONL),
	}
}

const (
	recordHeader  = "header"
	recordMember  = "member"
	recordMessage = "message"
)

type chatlabHeader struct {
	Kind    string       `json:"_type"`
	Chatlab *chatlabInfo `json:"chatlab,omitempty"`
	Meta    chatlabMeta  `json:"meta"`
}

type chatlabMemberRecord struct {
	Kind string `json:"_type"`
	chatlabMember
}

type chatlabMessageRecord struct {
	Kind string `json:"_type"`
	chatlabMessage
}

func parseChatLabJSONL(ctx context.Context, opts parse.ParseOptions, e *parse.Emitter) error {
	sink := newChatlabSink(e, opts.Location)
	err := eachLine(ctx, opts, e, func(n int, line []byte) error {
		if len(line) == 0 {
			return nil
		}
		var kind struct {
			Kind string `json:"_type"`
		}
		if err := decodeLine(line, &kind); err != nil {
			e.Log(parse.LogWarn, "line %d: skipping malformed record: %v", n, err)
			return nil
		}

		switch kind.Kind {
		case recordHeader:
			if e.MetaSent() {
				e.Log(parse.LogWarn, "line %d: ignoring repeated header", n)
				return nil
			}
			var h chatlabHeader
			if err := decodeLine(line, &h); err != nil {
				return parse.Errorf(parse.CodeParse, opts.FilePath, "line %d: malformed header: %v", n, err)
			}
			return sink.meta(h.Meta.toParsed(h.Chatlab, baseName(opts.FilePath)))
		case recordMember, recordMessage:
			if !e.MetaSent() {
				return parse.Errorf(parse.CodeParse, opts.FilePath, "line %d: %s record before header", n, kind.Kind)
			}
		default:
			e.Log(parse.LogWarn, "line %d: skipping record of unknown type %q", n, kind.Kind)
			return nil
		}

		if kind.Kind == recordMember {
			var m chatlabMemberRecord
			if err := decodeLine(line, &m); err != nil {
				e.Log(parse.LogWarn, "line %d: skipping malformed member: %v", n, err)
				return nil
			}
			return sink.member(m.chatlabMember)
		}
		var m chatlabMessageRecord
		if err := decodeLine(line, &m); err != nil {
			e.Log(parse.LogWarn, "line %d: skipping malformed message: %v", n, err)
			return nil
		}
		return sink.message(m.chatlabMessage)
	})
	if err != nil {
		return err
	}
	if !e.MetaSent() {
		return parse.Errorf(parse.CodeParse, opts.FilePath, "no header record found")
	}
	return nil
}
