package render

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"github.com/Zuo-Peng/chimp/internal/parse"
	"github.com/Zuo-Peng/chimp/internal/store"
)

const (
	colorReset   = "\033[0m"
	colorSender  = "\033[1;34m" // bold blue
	colorSystem  = "\033[2;35m" // dim magenta
	colorDim     = "\033[2m"
	colorHit     = "\033[43m" // yellow background
	colorBoldRed = "\033[1;31m"
	colorGreen   = "\033[32m"
	colorRed     = "\033[31m"
)

type Options struct {
	HitMessageID int64 // -1 renders the whole session
	Context      int   // messages before/after hit to show
	Width        int   // wrap width (0 = no wrap)
	Query        string
	Location     *time.Location
}

// highlightKeywords wraps case-insensitive matches of query terms in bold red ANSI codes.
func highlightKeywords(text, query string) string {
	if query == "" {
		return text
	}
	for _, term := range strings.Fields(query) {
		term = strings.Trim(term, `"`)
		if term == "" {
			continue
		}
		lower := strings.ToLower(term)
		i := 0
		for i < len(text) {
			idx := strings.Index(strings.ToLower(text[i:]), lower)
			if idx < 0 {
				break
			}
			pos := i + idx
			orig := text[pos : pos+len(term)]
			replacement := colorBoldRed + orig + colorReset
			text = text[:pos] + replacement + text[pos+len(term):]
			i = pos + len(replacement)
		}
	}
	return text
}

func indentLines(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// wrapLine breaks a single line into multiple lines that fit within maxWidth
// visible columns, correctly skipping ANSI escape sequences when measuring width.
func wrapLine(line string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{line}
	}

	var result []string
	var cur strings.Builder
	visW := 0

	i := 0
	for i < len(line) {
		// ESC[ ... m
		if i+1 < len(line) && line[i] == '\033' && line[i+1] == '[' {
			j := i + 2
			for j < len(line) && line[j] != 'm' {
				j++
			}
			if j < len(line) {
				j++
			}
			cur.WriteString(line[i:j])
			i = j
			continue
		}

		r, size := utf8.DecodeRuneInString(line[i:])
		rw := runewidth.RuneWidth(r)

		if visW+rw > maxWidth {
			result = append(result, cur.String())
			cur.Reset()
			visW = 0
		}

		cur.WriteRune(r)
		visW += rw
		i += size
	}

	if cur.Len() > 0 {
		result = append(result, cur.String())
	}
	if len(result) == 0 {
		return []string{""}
	}
	return result
}

// Truncate cuts s to width display columns.
func Truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// Pad right-pads s to width display columns.
func Pad(s string, width int) string {
	return runewidth.FillRight(Truncate(s, width), width)
}

// Conversation renders messages of sess around opts.HitMessageID. It returns
// the content and the 0-based line of the hit header (-1 if no hit).
func Conversation(ctx context.Context, sess *store.Session, opts Options) (string, int, error) {
	if opts.Context == 0 {
		opts.Context = 10
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	info, err := sess.Info(ctx)
	if err != nil {
		return "", -1, fmt.Errorf("get session: %w", err)
	}
	msgs, hitIdx, startPos, total, err := sess.MessagesWindow(ctx, opts.HitMessageID, opts.Context)
	if err != nil {
		return "", -1, fmt.Errorf("get messages: %w", err)
	}

	var b strings.Builder
	hitLine := -1
	lineCount := 0
	writeLine := func(s string) {
		for _, wl := range wrapLine(s, opts.Width) {
			b.WriteString(wl)
			b.WriteString("\n")
			lineCount++
		}
	}

	writeLine(fmt.Sprintf("%s--- %s [%s/%s] %d messages ---%s", colorDim, info.Name, info.Platform, info.Type, total, colorReset))
	if total == 0 {
		writeLine("(empty session)")
		return b.String(), -1, nil
	}
	if startPos > 0 {
		writeLine(fmt.Sprintf("%s... (%d messages before) ...%s", colorDim, startPos, colorReset))
	}

	for i, m := range msgs {
		ts := m.Timestamp.In(opts.Location).Format("2006-01-02 15:04:05")
		label := m.SenderName
		if label == "" {
			label = m.SenderPlatformID
		}
		system := m.Type == parse.TypeSystem || m.Type == parse.TypeRecall

		if i == hitIdx {
			hitLine = lineCount
			writeLine(fmt.Sprintf("%s>> %s > %s <<%s", colorHit, label, ts, colorReset))
		} else if system {
			writeLine(fmt.Sprintf("%s%s > %s%s", colorSystem, label, ts, colorReset))
		} else {
			writeLine(fmt.Sprintf("%s%s >%s %s%s%s", colorSender, label, colorReset, colorDim, ts, colorReset))
		}

		text := Content(m.Type, m.Content)
		if system {
			text = colorDim + text + colorReset
		}
		text = highlightKeywords(text, opts.Query)
		for _, tl := range strings.Split(indentLines(text, "  "), "\n") {
			writeLine(tl)
		}
	}

	if after := total - startPos - len(msgs); after > 0 {
		writeLine(fmt.Sprintf("%s... (%d messages after) ...%s", colorDim, after, colorReset))
	}
	return b.String(), hitLine, nil
}

// Content prefixes non-text messages with their type.
func Content(t parse.MessageType, content string) string {
	if t == parse.TypeText {
		return content
	}
	if content == "" {
		return "[" + t.String() + "]"
	}
	return "[" + t.String() + "] " + content
}

// Diagnosis explains a format diagnosis as a per-format check table.
func Diagnosis(d parse.FormatDiagnosis, color bool) string {
	mark := func(ok bool) string {
		switch {
		case ok && color:
			return colorGreen + "yes" + colorReset
		case ok:
			return "yes"
		case color:
			return colorRed + "no " + colorReset
		default:
			return "no "
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "file:       %s\n", d.Path)
	fmt.Fprintf(&b, "extension:  %s\n", d.Extension)
	if d.ReadError != "" {
		fmt.Fprintf(&b, "read error: %s\n", d.ReadError)
	}
	if d.Matched != nil {
		fmt.Fprintf(&b, "matched:    %s (%s)\n", d.Matched.FormatName, d.Matched.FormatID)
	}
	if d.BestMatch != nil && d.Matched == nil {
		fmt.Fprintf(&b, "closest:    %s (%s)\n", d.BestMatch.FormatName, d.BestMatch.FormatID)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "%s  %-4s %-4s %-4s %-4s\n", Pad("FORMAT", 28), "EXT", "HEAD", "KEYS", "PATS")
	for _, c := range d.Checks {
		fmt.Fprintf(&b, "%s  %s  %s  %s  %s", Pad(c.FormatID, 28),
			mark(c.ExtensionMatch), mark(c.SignatureMatch), mark(c.FieldsMatch), mark(c.PatternsMatch))
		var notes []string
		if len(c.MissingFields) > 0 {
			notes = append(notes, "missing "+strings.Join(c.MissingFields, ", "))
		}
		if len(c.FailedPatterns) > 0 {
			notes = append(notes, "failed "+strings.Join(c.FailedPatterns, ", "))
		}
		if len(notes) > 0 {
			b.WriteString("  " + strings.Join(notes, "; "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(d.Suggestion)
	b.WriteString("\n")
	return b.String()
}
