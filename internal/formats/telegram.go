package formats

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// Telegram reads a single-chat export from Telegram Desktop (result.json).
func Telegram() parse.Module {
	return parse.Module{
		Feature: parse.FormatFeature{
			ID:         "telegram",
			Name:       "Telegram Desktop JSON",
			Platform:   parse.PlatformTelegram,
			Priority:   20,
			Extensions: []string{".json"},
			Signatures: parse.Signatures{
				RequiredFields: []string{"name", "type", "id", "messages"},
				FieldPatterns: []parse.FieldPattern{
					{Name: "type", Pattern: regexp.MustCompile(`"type"\s*:\s*"(personal_chat|bot_chat|saved_messages|private_group|private_supergroup|public_supergroup|private_channel|public_channel)"`)},
				},
			},
		},
		Parser: parse.ParserFunc(parseTelegram),
	}
}

type tgMessage struct {
	ID            any             `json:"id"`
	Type          string          `json:"type"`
	Date          string          `json:"date"`
	DateUnix      string          `json:"date_unixtime"`
	From          string          `json:"from"`
	FromID        string          `json:"from_id"`
	Actor         string          `json:"actor"`
	ActorID       string          `json:"actor_id"`
	Action        string          `json:"action"`
	Text          json.RawMessage `json:"text"`
	Photo         string          `json:"photo"`
	File          string          `json:"file"`
	MediaType     string          `json:"media_type"`
	StickerEmoji  string          `json:"sticker_emoji"`
	ReplyTo       any             `json:"reply_to_message_id"`
	ForwardedFrom string          `json:"forwarded_from"`
	Location      json.RawMessage `json:"location_information"`
	Contact       json.RawMessage `json:"contact_information"`
	Poll          json.RawMessage `json:"poll"`
}

type tgEntity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	systemSenderID   = "system"
	systemSenderName = "System"
)

func parseTelegram(ctx context.Context, opts parse.ParseOptions, e *parse.Emitter) error {
	in, err := parse.OpenInput(opts.FilePath)
	if err != nil {
		return err
	}
	defer in.Close()
	e.Track(in.Counter)

	var name, chatType string
	var chatID any
	members := parse.NewMemberTracker()

	dec := parse.NewJSONDecoder(in.Reader)
	err = parse.ReadObject(dec, func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch key {
		case "name":
			return dec.Decode(&name)
		case "type":
			return dec.Decode(&chatType)
		case "id":
			return dec.Decode(&chatID)
		case "messages":
			if !e.MetaSent() {
				if err := e.Meta(telegramMeta(name, chatType, chatID, opts.FilePath)); err != nil {
					return err
				}
			}
			return parse.ReadArray(dec, func() error {
				var m tgMessage
				if err := dec.Decode(&m); err != nil {
					return err
				}
				if err := emitTelegramMessage(e, members, m, opts); err != nil {
					return err
				}
				return e.Tick()
			})
		default:
			return parse.SkipValue(dec)
		}
	})
	if err != nil {
		return parse.Wrap(err, parse.CodeParse, opts.FilePath, "malformed Telegram export")
	}
	if !e.MetaSent() {
		return e.Meta(telegramMeta(name, chatType, chatID, opts.FilePath))
	}
	return nil
}

func telegramMeta(name, chatType string, id any, path string) parse.ParsedMeta {
	m := parse.ParsedMeta{
		Name:     firstNonEmpty(name, baseName(path)),
		Platform: parse.PlatformTelegram,
		GroupID:  parse.Stringify(id),
		Type:     parse.ChatGroup,
	}
	switch chatType {
	case "personal_chat", "bot_chat", "saved_messages":
		m.Type = parse.ChatPrivate
	}
	if chatType != "" {
		m.Extra = map[string]string{"telegramType": chatType}
	}
	return m
}

func emitTelegramMessage(e *parse.Emitter, members *parse.MemberTracker, m tgMessage, opts parse.ParseOptions) error {
	ts, ok := parse.ParseTimestampString(m.DateUnix, opts.Location)
	if !ok {
		ts, _ = parse.ParseTimestampString(m.Date, opts.Location)
	}

	senderID, senderName := m.FromID, m.From
	if m.Type == "service" {
		senderID, senderName = m.ActorID, m.Actor
	}
	if senderID == "" {
		senderID, senderName = systemSenderID, systemSenderName
	}
	senderName = firstNonEmpty(senderName, senderID)

	if err := members.Observe(e, parse.ParsedMember{
		PlatformID: senderID,
		Name:       senderName,
		IsBot:      strings.HasPrefix(senderID, "bot"),
		NameSince:  ts,
	}); err != nil {
		return err
	}

	text, entities := telegramText(m.Text)
	msg := parse.ParsedMessage{
		SenderID:          senderID,
		SenderName:        senderName,
		Timestamp:         ts,
		Type:              telegramType(m, entities, text),
		Content:           text,
		PlatformMessageID: parse.Stringify(m.ID),
		ReplyToMessageID:  parse.Stringify(m.ReplyTo),
	}
	extra := map[string]string{}
	switch {
	case m.Type == "service":
		msg.Content = strings.TrimSpace(strings.ReplaceAll(m.Action, "_", " ") + " " + text)
		extra["action"] = m.Action
	case m.Photo != "":
		extra["file"] = m.Photo
	case m.File != "":
		extra["file"] = m.File
	case m.MediaType == "sticker" && text == "":
		msg.Content = m.StickerEmoji
	}
	if m.ForwardedFrom != "" {
		extra["forwardedFrom"] = m.ForwardedFrom
	}
	if len(extra) > 0 {
		msg.Extra = extra
	}
	return e.Message(msg)
}

func telegramType(m tgMessage, entities []tgEntity, text string) parse.MessageType {
	switch {
	case m.Type == "service":
		return parse.TypeSystem
	case m.ForwardedFrom != "":
		return parse.TypeForward
	case m.Photo != "":
		return parse.TypeImage
	case len(m.Location) > 0:
		return parse.TypeLocation
	case len(m.Contact) > 0:
		return parse.TypeContact
	case len(m.Poll) > 0:
		return parse.TypeOther
	}
	switch m.MediaType {
	case "voice_message", "audio_file":
		return parse.TypeVoice
	case "video_file", "video_message", "animation":
		return parse.TypeVideo
	case "sticker":
		return parse.TypeEmoji
	}
	if m.File != "" {
		return parse.TypeFile
	}
	if m.ReplyTo != nil {
		return parse.TypeReply
	}
	if len(entities) == 1 && entities[0].Type == "link" && strings.TrimSpace(text) == entities[0].Text {
		return parse.TypeLink
	}
	return parse.TypeText
}

// telegramText flattens the "text" field, which is either a string or an
// array mixing strings and formatted entities.
func telegramText(raw json.RawMessage) (string, []tgEntity) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		json.Unmarshal(raw, &s)
		return s, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil
	}
	var b strings.Builder
	var entities []tgEntity
	for _, p := range parts {
		p = bytes.TrimSpace(p)
		if len(p) > 0 && p[0] == '"' {
			var s string
			json.Unmarshal(p, &s)
			b.WriteString(s)
			continue
		}
		var ent tgEntity
		if err := json.Unmarshal(p, &ent); err == nil {
			b.WriteString(ent.Text)
			entities = append(entities, ent)
		}
	}
	return b.String(), entities
}
