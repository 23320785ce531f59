package formats

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// WhatsApp reads the plain-text "Export chat" transcript produced by the
// Android and iOS apps. Lines that do not start with a timestamp continue
// the previous message.
func WhatsApp() parse.Module {
	return parse.Module{
		Feature: parse.FormatFeature{
			ID:         "whatsapp",
			Name:       "WhatsApp text export",
			Platform:   parse.PlatformWhatsApp,
			Priority:   40,
			Extensions: []string{".txt"},
			Signatures: parse.Signatures{
				Head: []*regexp.Regexp{waAndroidLine, waIOSLine},
			},
		},
		Parser: parse.ParserFunc(parseWhatsApp),
	}
}

const (
	waDate = `(\d{1,2})[/.](\d{1,2})[/.](\d{2,4}),?\s`
	waTime = `(\d{1,2}):(\d{2})(?::(\d{2}))?(?:[\s\x{202F}]?([AaPp])\.?\s?[Mm]\.?)?`
)

var (
	waAndroidLine = regexp.MustCompile(`(?m)^\x{200E}?` + waDate + waTime + `\s[-–]\s(.*)$`)
	waIOSLine     = regexp.MustCompile(`(?m)^\x{200E}?\[` + waDate + waTime + `\]\s(.*)$`)
	waChatName    = regexp.MustCompile(`^WhatsApp Chat (?:with|-) (.+)$`)
	waAttachment  = regexp.MustCompile(`<attached: [^>]*?-(PHOTO|VIDEO|AUDIO|STICKER|GIF)?[^>]*>`)
)

// waLine is a parsed message header line.
type waLine struct {
	a, b, year        int // a/b are day and month in an order decided per file
	hour, minute, sec int
	meridiem          byte // 'a', 'p' or 0
	rest              string
}

func matchWhatsApp(line string) (waLine, bool) {
	line = strings.TrimPrefix(line, "\u200e")
	m := waIOSLine.FindStringSubmatch(line)
	if m == nil {
		m = waAndroidLine.FindStringSubmatch(line)
	}
	if m == nil {
		return waLine{}, false
	}
	var l waLine
	l.a, _ = strconv.Atoi(m[1])
	l.b, _ = strconv.Atoi(m[2])
	l.year, _ = strconv.Atoi(m[3])
	if l.year < 100 {
		l.year += 2000
	}
	l.hour, _ = strconv.Atoi(m[4])
	l.minute, _ = strconv.Atoi(m[5])
	if m[6] != "" {
		l.sec, _ = strconv.Atoi(m[6])
	}
	if m[7] != "" {
		l.meridiem = strings.ToLower(m[7])[0]
	}
	l.rest = m[8]
	return l, true
}

func (l waLine) time(dayFirst bool, loc *time.Location) int64 {
	day, month := l.b, l.a
	if dayFirst {
		day, month = l.a, l.b
	}
	hour := l.hour
	switch l.meridiem {
	case 'p':
		if hour < 12 {
			hour += 12
		}
	case 'a':
		if hour == 12 {
			hour = 0
		}
	}
	return time.Date(l.year, time.Month(month), day, hour, l.minute, l.sec, 0, loc).Unix()
}

// waHeadInfo is what the head window tells about a transcript.
type waHeadInfo struct {
	dayFirst bool
	senders  map[string]bool
}

// inspectWhatsAppHead decides the day/month order: a first component above
// 12 means day-first, a second above 12 means month-first, otherwise
// 12-hour clocks imply month-first.
func inspectWhatsAppHead(path string) waHeadInfo {
	info := waHeadInfo{senders: map[string]bool{}}
	f, err := os.Open(path)
	if err != nil {
		return info
	}
	defer f.Close()
	buf := make([]byte, 8*1024)
	n, _ := io.ReadFull(f, buf)

	var decided, sawMeridiem bool
	for _, line := range strings.Split(parse.DecodeHead(buf[:n]), "\n") {
		l, ok := matchWhatsApp(strings.TrimRight(line, "\r"))
		if !ok {
			continue
		}
		if sender, _, ok := splitSender(l.rest); ok {
			info.senders[sender] = true
		}
		if l.meridiem != 0 {
			sawMeridiem = true
		}
		if decided {
			continue
		}
		switch {
		case l.a > 12:
			info.dayFirst, decided = true, true
		case l.b > 12:
			info.dayFirst, decided = false, true
		}
	}
	if !decided {
		info.dayFirst = !sawMeridiem
	}
	return info
}

func splitSender(rest string) (sender, text string, ok bool) {
	i := strings.Index(rest, ": ")
	if i <= 0 {
		return "", rest, false
	}
	return rest[:i], rest[i+2:], true
}

func parseWhatsApp(ctx context.Context, opts parse.ParseOptions, e *parse.Emitter) error {
	head := inspectWhatsAppHead(opts.FilePath)

	name := baseName(opts.FilePath)
	if m := waChatName.FindStringSubmatch(name); m != nil {
		name = m[1]
	}
	meta := parse.ParsedMeta{Name: name, Platform: parse.PlatformWhatsApp, Type: parse.ChatPrivate}
	if len(head.senders) > 2 {
		meta.Type = parse.ChatGroup
	}
	if err := e.Meta(meta); err != nil {
		return err
	}

	members := parse.NewMemberTracker()
	var pending *parse.ParsedMessage
	flush := func() error {
		if pending == nil {
			return nil
		}
		msg := *pending
		pending = nil
		msg.Content = strings.TrimRight(msg.Content, "\n")
		msg.Type, msg.Content = classifyWhatsApp(msg.Content, msg.Type)
		if msg.Type == parse.TypeSystem {
			msg.SenderID, msg.SenderName = systemSenderID, systemSenderName
		}
		if err := members.Observe(e, parse.ParsedMember{PlatformID: msg.SenderID, Name: msg.SenderName, NameSince: msg.Timestamp}); err != nil {
			return err
		}
		return e.Message(msg)
	}

	err := eachLine(ctx, opts, e, func(n int, raw []byte) error {
		line := string(raw)
		l, ok := matchWhatsApp(line)
		if !ok {
			if pending != nil {
				pending.Content += "\n" + line
			} else if strings.TrimSpace(line) != "" {
				e.Log(parse.LogWarn, "line %d: skipping text before the first message", n)
			}
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		ts := l.time(head.dayFirst, opts.Location)
		sender, text, ok := splitSender(l.rest)
		if !ok {
			pending = &parse.ParsedMessage{
				SenderID:   systemSenderID,
				SenderName: systemSenderName,
				Timestamp:  ts,
				Type:       parse.TypeSystem,
				Content:    l.rest,
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
	return flush()
}

// classifyWhatsApp maps placeholder texts to message types.
func classifyWhatsApp(content string, t parse.MessageType) (parse.MessageType, string) {
	if t == parse.TypeSystem {
		return t, content
	}
	c := strings.TrimSpace(strings.TrimPrefix(content, "\u200e"))
	switch c {
	case "<Media omitted>":
		return parse.TypeOther, c
	case "image omitted":
		return parse.TypeImage, c
	case "video omitted", "GIF omitted":
		return parse.TypeVideo, c
	case "audio omitted":
		return parse.TypeVoice, c
	case "sticker omitted":
		return parse.TypeEmoji, c
	case "This message was deleted", "You deleted this message":
		return parse.TypeRecall, c
	}
	if strings.HasPrefix(c, "Messages and calls are end-to-end encrypted") {
		return parse.TypeSystem, c
	}
	if strings.HasPrefix(c, "location: ") || strings.HasPrefix(c, "Location: ") {
		return parse.TypeLocation, c
	}
	if strings.HasSuffix(c, "document omitted") || strings.HasSuffix(c, "(file attached)") {
		ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(c, " (file attached)")))
		if imageExts[ext] {
			return parse.TypeImage, c
		}
		return parse.TypeFile, c
	}
	if m := waAttachment.FindStringSubmatch(c); m != nil {
		switch m[1] {
		case "PHOTO":
			return parse.TypeImage, c
		case "VIDEO", "GIF":
			return parse.TypeVideo, c
		case "AUDIO":
			return parse.TypeVoice, c
		case "STICKER":
			return parse.TypeEmoji, c
		}
		return parse.TypeFile, c
	}
	if strings.HasPrefix(c, "http://") || strings.HasPrefix(c, "https://") {
		if !strings.ContainsAny(c, " \n") {
			return parse.TypeLink, c
		}
	}
	return t, content
}
