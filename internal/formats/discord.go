package formats

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// Discord reads DiscordChatExporter JSON exports.
func Discord() parse.Module {
	return parse.Module{
		Feature: parse.FormatFeature{
			ID:         "discord",
			Name:       "DiscordChatExporter JSON",
			Platform:   parse.PlatformDiscord,
			Priority:   30,
			Extensions: []string{".json"},
			Signatures: parse.Signatures{
				Head:           []*regexp.Regexp{regexp.MustCompile(`"guild"\s*:\s*\{`)},
				RequiredFields: []string{"guild", "channel", "messages"},
			},
		},
		Parser: parse.ParserFunc(parseDiscord),
	}
}

type dcGuild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type dcChannel struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Topic    string `json:"topic"`
}

type dcAuthor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Discriminator string `json:"discriminator"`
	Nickname      string `json:"nickname"`
	IsBot         bool   `json:"isBot"`
	Roles         []struct {
		Name string `json:"name"`
	} `json:"roles"`
}

type dcMessage struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Timestamp   string   `json:"timestamp"`
	Content     string   `json:"content"`
	Author      dcAuthor `json:"author"`
	Attachments []struct {
		URL      string `json:"url"`
		FileName string `json:"fileName"`
	} `json:"attachments"`
	Stickers []struct {
		Name string `json:"name"`
	} `json:"stickers"`
	Reference *struct {
		MessageID string `json:"messageId"`
	} `json:"reference"`
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true}
var videoExts = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".mkv": true}
var audioExts = map[string]bool{".mp3": true, ".ogg": true, ".wav": true, ".m4a": true, ".opus": true}

func parseDiscord(ctx context.Context, opts parse.ParseOptions, e *parse.Emitter) error {
	in, err := parse.OpenInput(opts.FilePath)
	if err != nil {
		return err
	}
	defer in.Close()
	e.Track(in.Counter)

	var guild dcGuild
	var channel dcChannel
	members := parse.NewMemberTracker()

	dec := parse.NewJSONDecoder(in.Reader)
	err = parse.ReadObject(dec, func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch key {
		case "guild":
			return dec.Decode(&guild)
		case "channel":
			return dec.Decode(&channel)
		case "messages":
			if !e.MetaSent() {
				if err := e.Meta(discordMeta(guild, channel, opts.FilePath)); err != nil {
					return err
				}
			}
			return parse.ReadArray(dec, func() error {
				var m dcMessage
				if err := dec.Decode(&m); err != nil {
					return err
				}
				if err := emitDiscordMessage(e, members, m, opts); err != nil {
					return err
				}
				return e.Tick()
			})
		default:
			return parse.SkipValue(dec)
		}
	})
	if err != nil {
		return parse.Wrap(err, parse.CodeParse, opts.FilePath, "malformed Discord export")
	}
	if !e.MetaSent() {
		return e.Meta(discordMeta(guild, channel, opts.FilePath))
	}
	return nil
}

func discordMeta(g dcGuild, c dcChannel, path string) parse.ParsedMeta {
	name := c.Name
	if g.Name != "" && g.Name != "Direct Messages" && c.Name != "" {
		name = g.Name + " / #" + c.Name
	}
	m := parse.ParsedMeta{
		Name:     firstNonEmpty(name, baseName(path)),
		Platform: parse.PlatformDiscord,
		Type:     parse.ChatGroup,
		GroupID:  c.ID,
	}
	if c.Type == "DirectTextChat" {
		m.Type = parse.ChatPrivate
	}
	extra := map[string]string{}
	for k, v := range map[string]string{
		"guildId":     g.ID,
		"guildName":   g.Name,
		"category":    c.Category,
		"topic":       c.Topic,
		"channelType": c.Type,
	} {
		if v != "" {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		m.Extra = extra
	}
	return m
}

func emitDiscordMessage(e *parse.Emitter, members *parse.MemberTracker, m dcMessage, opts parse.ParseOptions) error {
	ts, _ := parse.ParseTimestampString(m.Timestamp, opts.Location)

	a := m.Author
	name := firstNonEmpty(a.Nickname, a.Name, a.ID)
	account := a.Name
	if a.Discriminator != "" && a.Discriminator != "0000" {
		account += "#" + a.Discriminator
	}
	member := parse.ParsedMember{
		PlatformID:  a.ID,
		Name:        name,
		AccountName: account,
		IsBot:       a.IsBot,
		NameSince:   ts,
	}
	if len(a.Roles) > 0 {
		member.Role = a.Roles[0].Name
	}
	if err := members.Observe(e, member); err != nil {
		return err
	}

	msg := parse.ParsedMessage{
		SenderID:          a.ID,
		SenderName:        name,
		Timestamp:         ts,
		Type:              parse.TypeText,
		Content:           m.Content,
		PlatformMessageID: m.ID,
	}
	if m.Reference != nil {
		msg.ReplyToMessageID = m.Reference.MessageID
	}

	switch m.Type {
	case "Default":
	case "Reply":
		msg.Type = parse.TypeReply
	case "Call":
		msg.Type = parse.TypeCall
	default:
		msg.Type = parse.TypeSystem
		if msg.Content == "" {
			msg.Content = m.Type
		}
	}

	if msg.Type == parse.TypeText && len(m.Attachments) > 0 {
		var urls []string
		for _, att := range m.Attachments {
			urls = append(urls, att.URL)
		}
		msg.Extra = map[string]string{"attachments": strings.Join(urls, " ")}
		ext := strings.ToLower(filepath.Ext(m.Attachments[0].FileName))
		switch {
		case imageExts[ext]:
			msg.Type = parse.TypeImage
		case videoExts[ext]:
			msg.Type = parse.TypeVideo
		case audioExts[ext]:
			msg.Type = parse.TypeVoice
		default:
			msg.Type = parse.TypeFile
		}
	}
	if msg.Type == parse.TypeText && msg.Content == "" && len(m.Stickers) > 0 {
		msg.Type = parse.TypeEmoji
		msg.Content = m.Stickers[0].Name
	}
	return e.Message(msg)
}
