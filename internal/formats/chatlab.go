package formats

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// ChatLab reads the ChatLab interchange document:
//
//	{"chatlab": {...}, "meta": {...}, "members": [...], "messages": [...]}
//
// Keys may appear in any order. Large files whose meta does not come first
// are rewritten to ChatLab JSONL before parsing.
func ChatLab() parse.Module {
	return parse.Module{
		Feature: parse.FormatFeature{
			ID:         "chatlab",
			Name:       "ChatLab JSON",
			Platform:   parse.PlatformChatLab,
			Priority:   10,
			Extensions: []string{".json"},
			Signatures: parse.Signatures{
				RequiredFields: []string{"chatlab", "meta", "messages"},
				FieldPatterns: []parse.FieldPattern{
					{Name: "chatlab.version", Pattern: regexp.MustCompile(`"version"\s*:\s*"\d+(\.\d+)*"`)},
				},
			},
		},
		Parser:       parse.ParserFunc(parseChatLab),
		Preprocessor: chatlabPreprocessor{},
	}
}

type chatlabInfo struct {
	Version    string `json:"version"`
	ExportedAt any    `json:"exportedAt,omitempty"`
	Generator  string `json:"generator,omitempty"`
}

type chatlabMeta struct {
	Name        string `json:"name"`
	Platform    string `json:"platform"`
	Type        string `json:"type"`
	GroupID     string `json:"groupId,omitempty"`
	Description string `json:"description,omitempty"`
}

type chatlabMember struct {
	PlatformID    string `json:"platformId"`
	AccountName   string `json:"accountName,omitempty"`
	GroupNickname string `json:"groupNickname,omitempty"`
	Role          string `json:"role,omitempty"`
	IsBot         bool   `json:"isBot,omitempty"`
}

type chatlabMessage struct {
	Sender            any    `json:"sender"`
	AccountName       string `json:"accountName,omitempty"`
	GroupNickname     string `json:"groupNickname,omitempty"`
	Timestamp         any    `json:"timestamp"`
	Type              any    `json:"type"`
	Content           string `json:"content"`
	PlatformMessageID any    `json:"platformMessageId,omitempty"`
	ReplyToMessageID  any    `json:"replyToMessageId,omitempty"`
}

func (m chatlabMeta) toParsed(info *chatlabInfo, fallbackName string) parse.ParsedMeta {
	out := parse.ParsedMeta{
		Name:     firstNonEmpty(m.Name, fallbackName),
		Platform: firstNonEmpty(strings.ToLower(m.Platform), parse.PlatformChatLab),
		GroupID:  m.GroupID,
	}
	switch strings.ToLower(m.Type) {
	case "group":
		out.Type = parse.ChatGroup
	case "private":
		out.Type = parse.ChatPrivate
	}
	extra := map[string]string{}
	if m.Description != "" {
		extra["description"] = m.Description
	}
	if info != nil {
		if info.Version != "" {
			extra["chatlabVersion"] = info.Version
		}
		if info.Generator != "" {
			extra["generator"] = info.Generator
		}
		if ts, ok := parse.NormalizeTimestamp(info.ExportedAt, time.UTC); ok {
			extra["exportedAt"] = time.Unix(ts, 0).UTC().Format(time.RFC3339)
		}
	}
	if len(extra) > 0 {
		out.Extra = extra
	}
	return out
}

func (m chatlabMember) toParsed() parse.ParsedMember {
	return parse.ParsedMember{
		PlatformID:  m.PlatformID,
		Name:        firstNonEmpty(m.GroupNickname, m.AccountName, m.PlatformID),
		AccountName: m.AccountName,
		Role:        m.Role,
		IsBot:       m.IsBot,
	}
}

// chatlabSink turns decoded ChatLab records into events. Records that
// arrive before the meta are held until it is known.
type chatlabSink struct {
	e       *parse.Emitter
	loc     *time.Location
	members *parse.MemberTracker
	lastTs  int64

	pendingMembers  []chatlabMember
	pendingMessages []chatlabMessage
}

func newChatlabSink(e *parse.Emitter, loc *time.Location) *chatlabSink {
	return &chatlabSink{e: e, loc: loc, members: parse.NewMemberTracker()}
}

func (s *chatlabSink) meta(m parse.ParsedMeta) error {
	if err := s.e.Meta(m); err != nil {
		return err
	}
	for _, mem := range s.pendingMembers {
		if err := s.member(mem); err != nil {
			return err
		}
	}
	for _, msg := range s.pendingMessages {
		if err := s.message(msg); err != nil {
			return err
		}
	}
	s.pendingMembers, s.pendingMessages = nil, nil
	return nil
}

func (s *chatlabSink) member(m chatlabMember) error {
	if m.PlatformID == "" {
		s.e.Log(parse.LogWarn, "skipping member without platformId")
		return nil
	}
	if !s.e.MetaSent() {
		s.pendingMembers = append(s.pendingMembers, m)
		return nil
	}
	p := m.toParsed()
	s.members.Seen(p)
	return s.e.Member(p)
}

func (s *chatlabSink) message(m chatlabMessage) error {
	if !s.e.MetaSent() {
		s.pendingMessages = append(s.pendingMessages, m)
		return nil
	}
	sender := parse.Stringify(m.Sender)
	if sender == "" {
		s.e.Log(parse.LogWarn, "skipping message without sender")
		return nil
	}
	ts, ok := parse.NormalizeTimestamp(m.Timestamp, s.loc)
	if !ok {
		ts = s.lastTs
	}
	s.lastTs = ts

	name := firstNonEmpty(m.GroupNickname, m.AccountName, sender)
	// a message without names does not rename a declared member
	if m.GroupNickname != "" || m.AccountName != "" || !s.members.Known(sender) {
		if err := s.members.Observe(s.e, parse.ParsedMember{
			PlatformID:  sender,
			Name:        name,
			AccountName: m.AccountName,
			NameSince:   ts,
		}); err != nil {
			return err
		}
	}
	return s.e.Message(parse.ParsedMessage{
		SenderID:          sender,
		SenderName:        name,
		Timestamp:         ts,
		Type:              typeFromAny(m.Type),
		Content:           m.Content,
		PlatformMessageID: parse.Stringify(m.PlatformMessageID),
		ReplyToMessageID:  parse.Stringify(m.ReplyToMessageID),
	})
}

func parseChatLab(ctx context.Context, opts parse.ParseOptions, e *parse.Emitter) error {
	in, err := parse.OpenInput(opts.FilePath)
	if err != nil {
		return err
	}
	defer in.Close()
	e.Track(in.Counter)

	sink := newChatlabSink(e, opts.Location)
	var info *chatlabInfo
	dec := parse.NewJSONDecoder(in.Reader)
	err = parse.ReadObject(dec, func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch key {
		case "chatlab":
			info = &chatlabInfo{}
			return decodeValue(dec, info, opts.FilePath, key)
		case "meta":
			var m chatlabMeta
			if err := decodeValue(dec, &m, opts.FilePath, key); err != nil {
				return err
			}
			return sink.meta(m.toParsed(info, baseName(opts.FilePath)))
		case "members":
			return parse.ReadArray(dec, func() error {
				var m chatlabMember
				if err := decodeValue(dec, &m, opts.FilePath, "members[]"); err != nil {
					return err
				}
				return sink.member(m)
			})
		case "messages":
			return parse.ReadArray(dec, func() error {
				var m chatlabMessage
				if err := decodeValue(dec, &m, opts.FilePath, "messages[]"); err != nil {
					return err
				}
				if err := sink.message(m); err != nil {
					return err
				}
				return e.Tick()
			})
		default:
			return parse.SkipValue(dec)
		}
	})
	if err != nil {
		return parse.Wrap(err, parse.CodeParse, opts.FilePath, "malformed ChatLab document")
	}
	if !e.MetaSent() {
		e.Log(parse.LogWarn, "document has no meta; using file name")
		return sink.meta(chatlabMeta{}.toParsed(info, baseName(opts.FilePath)))
	}
	return nil
}

func decodeValue(dec *json.Decoder, v any, path, key string) error {
	if err := dec.Decode(v); err != nil {
		return parse.Wrap(err, parse.CodeParse, path, "decode "+key)
	}
	return nil
}
