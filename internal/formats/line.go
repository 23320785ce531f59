package formats

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// Line reads the plain-text chat history saved by LINE, in English or
// Japanese. Messages are grouped under date lines and carry only a time.
//
//	[LINE] Chat history with Alice
//	Saved on: 2023/12/31, 21:41
//
//	2023/12/30(Sat)
//	21:40	Alice	hello
func Line() parse.Module {
	return parse.Module{
		Feature: parse.FormatFeature{
			ID:         "line",
			Name:       "LINE chat history",
			Platform:   parse.PlatformLine,
			Priority:   50,
			Extensions: []string{".txt"},
			Signatures: parse.Signatures{
				Head: []*regexp.Regexp{regexp.MustCompile(`(?m)^\[LINE\]\s`)},
			},
		},
		Parser: parse.ParserFunc(parseLine),
	}
}

var (
	lineTitleGroup   = regexp.MustCompile(`^\[LINE\]\s+Chat history in\s+(.+)$`)
	lineTitlePrivate = regexp.MustCompile(`^\[LINE\]\s+Chat history with\s+(.+)$`)
	lineTitleJA      = regexp.MustCompile(`^\[LINE\]\s*(.+?)(との)?トーク履歴$`)
	lineDateYMD      = regexp.MustCompile(`^(\d{4})[/.](\d{1,2})[/.](\d{1,2})(?:\s*\(.+\))?\s*$`)
	lineDateMDY      = regexp.MustCompile(`^[A-Za-z]{3},\s*(\d{1,2})/(\d{1,2})/(\d{4})\s*$`)
	lineMessage      = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?:\s?([AaPp][Mm]))?\t(.*)$`)
)

var lineContentTypes = map[string]parse.MessageType{
	"[Sticker]":         parse.TypeEmoji,
	"[スタンプ]":            parse.TypeEmoji,
	"[Photo]":           parse.TypeImage,
	"[写真]":              parse.TypeImage,
	"[Video]":           parse.TypeVideo,
	"[動画]":              parse.TypeVideo,
	"[File]":            parse.TypeFile,
	"[ファイル]":            parse.TypeFile,
	"[Voice message]":   parse.TypeVoice,
	"[ボイスメッセージ]":        parse.TypeVoice,
	"[Location]":        parse.TypeLocation,
	"[位置情報]":            parse.TypeLocation,
	"[Contact]":         parse.TypeContact,
	"[連絡先]":             parse.TypeContact,
	"[Album]":           parse.TypeImage,
	"[アルバム]":            parse.TypeImage,
	"Unsent message":    parse.TypeRecall,
	"メッセージの送信を取り消しました": parse.TypeRecall,
}

func parseLine(ctx context.Context, opts parse.ParseOptions, e *parse.Emitter) error {
	members := parse.NewMemberTracker()
	var day time.Time
	var lastTs int64 // stamps messages seen before any date line
	var pending *parse.ParsedMessage
	metaDone := false

	emitMeta := func(title string) error {
		metaDone = true
		meta := parse.ParsedMeta{Name: baseName(opts.FilePath), Platform: parse.PlatformLine, Type: parse.ChatPrivate}
		switch {
		case lineTitleGroup.MatchString(title):
			meta.Name = lineTitleGroup.FindStringSubmatch(title)[1]
			meta.Type = parse.ChatGroup
		case lineTitlePrivate.MatchString(title):
			meta.Name = lineTitlePrivate.FindStringSubmatch(title)[1]
		case lineTitleJA.MatchString(title):
			m := lineTitleJA.FindStringSubmatch(title)
			meta.Name = m[1]
			if m[2] == "" {
				meta.Type = parse.ChatGroup
			}
		}
		return e.Meta(meta)
	}

	flush := func() error {
		if pending == nil {
			return nil
		}
		msg := *pending
		pending = nil
		msg.Content = unquoteLine(strings.TrimRight(msg.Content, "\n"))
		if msg.Type == parse.TypeText {
			msg.Type = classifyLine(msg.Content)
		}
		if err := members.Observe(e, parse.ParsedMember{PlatformID: msg.SenderID, Name: msg.SenderName, NameSince: msg.Timestamp}); err != nil {
			return err
		}
		return e.Message(msg)
	}

	err := eachLine(ctx, opts, e, func(n int, raw []byte) error {
		line := string(raw)
		if !metaDone {
			if strings.HasPrefix(line, "[LINE]") {
				return emitMeta(strings.TrimSpace(line))
			}
			if err := emitMeta(""); err != nil {
				return err
			}
		}

		if d, ok := lineDate(line, opts.Location); ok {
			if err := flush(); err != nil {
				return err
			}
			day = d
			return nil
		}

		m := lineMessage.FindStringSubmatch(line)
		if m == nil {
			if pending != nil {
				pending.Content += "\n" + line
			}
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		switch strings.ToUpper(m[3]) {
		case "PM":
			if hour < 12 {
				hour += 12
			}
		case "AM":
			if hour == 12 {
				hour = 0
			}
		}
		ts := lastTs
		if day.IsZero() {
			e.Log(parse.LogWarn, "line %d: message before any date line", n)
		} else {
			ts = day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute).Unix()
		}
		lastTs = ts

		sender, text, hasText := strings.Cut(m[4], "\t")
		if !hasText || sender == "" {
			pending = &parse.ParsedMessage{
				SenderID:   systemSenderID,
				SenderName: systemSenderName,
				Timestamp:  ts,
				Type:       parse.TypeSystem,
				Content:    strings.TrimSpace(strings.TrimPrefix(m[4], "\t")),
			}
			return nil
		}
		pending = &parse.ParsedMessage{
			SenderID:   sender,
			SenderName: sender,
			Timestamp:  ts,
			Type:       parse.TypeText,
			Content:    text,
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !metaDone {
		if err := emitMeta(""); err != nil {
			return err
		}
	}
	return flush()
}

func lineDate(line string, loc *time.Location) (time.Time, bool) {
	if m := lineDateYMD.FindStringSubmatch(line); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc), true
	}
	if m := lineDateMDY.FindStringSubmatch(line); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc), true
	}
	return time.Time{}, false
}

// unquoteLine strips the quotes LINE puts around multi-line messages.
func unquoteLine(s string) string {
	if strings.Contains(s, "\n") && len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func classifyLine(content string) parse.MessageType {
	c := strings.TrimSpace(content)
	if t, ok := lineContentTypes[c]; ok {
		return t
	}
	if strings.HasPrefix(c, "☎") {
		return parse.TypeCall
	}
	if (strings.HasPrefix(c, "http://") || strings.HasPrefix(c, "https://")) && !strings.ContainsAny(c, " \n") {
		return parse.TypeLink
	}
	return parse.TypeText
}
