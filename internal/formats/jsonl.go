package formats

import (
	"context"
	"regexp"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// GenericJSONL accepts any line-delimited log with one message per line:
//
//	{"sender":"a","name":"Alice","content":"hi","ts":1700000000}
//
// It is the fallback for .jsonl files and is tried last.
func GenericJSONL() parse.Module {
	return parse.Module{
		Feature: parse.FormatFeature{
			ID:         "jsonl",
			Name:       "Line-delimited JSON messages",
			Platform:   parse.PlatformUnknown,
			Priority:   90,
			Extensions: []string{".jsonl"},
			Signatures: parse.Signatures{
				Head:           []*regexp.Regexp{regexp.MustCompile(`(?m)^\s*\{`)},
				RequiredFields: []string{"sender", "content"},
			},
		},
		Parser: parse.ParserFunc(parseGenericJSONL),
	}
}

type genericRecord struct {
	ID         any    `json:"id"`
	Sender     any    `json:"sender"`
	SenderName string `json:"senderName"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Type       any    `json:"type"`
	Ts         any    `json:"ts"`
	Timestamp  any    `json:"timestamp"`
	Time       any    `json:"time"`
	ReplyTo    any    `json:"replyTo"`
}

func parseGenericJSONL(ctx context.Context, opts parse.ParseOptions, e *parse.Emitter) error {
	if err := e.Meta(parse.ParsedMeta{
		Name:     baseName(opts.FilePath),
		Platform: parse.PlatformUnknown,
	}); err != nil {
		return err
	}

	members := parse.NewMemberTracker()
	var lastTs int64
	skipped := 0
	err := eachLine(ctx, opts, e, func(n int, line []byte) error {
		if len(line) == 0 {
			return nil
		}
		var rec genericRecord
		if err := decodeLine(line, &rec); err != nil {
			skipped++
			e.Log(parse.LogWarn, "line %d: skipping malformed record: %v", n, err)
			return nil
		}
		sender := parse.Stringify(rec.Sender)
		if sender == "" {
			skipped++
			e.Log(parse.LogWarn, "line %d: skipping record without sender", n)
			return nil
		}

		ts, ok := parse.NormalizeTimestamp(firstSet(rec.Ts, rec.Timestamp, rec.Time), opts.Location)
		if !ok {
			ts = lastTs
		}
		lastTs = ts

		name := firstNonEmpty(rec.Name, rec.SenderName, sender)
		if err := members.Observe(e, parse.ParsedMember{PlatformID: sender, Name: name, NameSince: ts}); err != nil {
			return err
		}
		return e.Message(parse.ParsedMessage{
			SenderID:          sender,
			SenderName:        name,
			Timestamp:         ts,
			Type:              typeFromAny(rec.Type),
			Content:           rec.Content,
			PlatformMessageID: parse.Stringify(rec.ID),
			ReplyToMessageID:  parse.Stringify(rec.ReplyTo),
		})
	})
	if err != nil {
		return err
	}
	if skipped > 0 {
		e.Log(parse.LogInfo, "skipped %d unusable lines", skipped)
	}
	return nil
}

func firstSet(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
