package sniff

import (
	"fmt"
	"strings"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// Diagnose evaluates every check of every format against path without
// stopping early and explains the outcome. It never fails; read errors are
// reported in the diagnosis. Repeated calls on an unchanged file return the
// same result.
func (r *Registry) Diagnose(path string) parse.FormatDiagnosis {
	ext := fileExt(path)
	d := parse.FormatDiagnosis{
		Path:           path,
		Extension:      ext,
		Checks:         []parse.FormatMatchCheck{},
		PartialMatches: []parse.FormatMatchCheck{},
	}

	head, err := readHead(path)
	if err != nil {
		d.ReadError = err.Error()
		d.Suggestion = fmt.Sprintf("cannot read file: %v", err)
		return d
	}

	for _, m := range r.modules {
		c := r.check(m.Feature, ext, head, false)
		d.Checks = append(d.Checks, c)
		switch {
		case c.Full():
			if d.Matched == nil {
				matched := c
				d.Matched = &matched
			}
		case c.ExtensionMatch:
			d.PartialMatches = append(d.PartialMatches, c)
		}
	}

	// registry order: the first partial match is the one reported
	if len(d.PartialMatches) > 0 {
		first := d.PartialMatches[0]
		d.BestMatch = &first
	}
	d.Suggestion = r.suggest(d, head)
	return d
}

func (r *Registry) suggest(d parse.FormatDiagnosis, head string) string {
	if d.Matched != nil {
		return fmt.Sprintf("file matches %s (%s)", d.Matched.FormatName, d.Matched.FormatID)
	}

	ext := d.Extension
	if ext == "" {
		ext = "(none)"
	}
	if len(d.PartialMatches) == 0 {
		return fmt.Sprintf("unsupported file extension %s: no registered format accepts it (supported: %s)",
			ext, strings.Join(r.Extensions(), ", "))
	}

	best := d.BestMatch
	var b strings.Builder
	fmt.Fprintf(&b, "no registered format matched this %s file; closest is %s", ext, best.FormatName)
	var reasons []string
	if !best.SignatureMatch {
		reasons = append(reasons, fmt.Sprintf("expected header signature not found in the first %d KiB", HeadSize/1024))
	}
	if len(best.MissingFields) > 0 {
		reasons = append(reasons, "missing fields: "+strings.Join(best.MissingFields, ", "))
	}
	if len(best.FailedPatterns) > 0 {
		reasons = append(reasons, "unexpected values for: "+strings.Join(best.FailedPatterns, ", "))
	}
	if len(reasons) > 0 {
		b.WriteString(" (" + strings.Join(reasons, "; ") + ")")
	}
	if d.Extension == ".json" || d.Extension == ".jsonl" {
		b.WriteString(". " + shapeHint(head))
	}
	return b.String()
}

// shapeHint describes how the content starts, for JSON-family files.
func shapeHint(head string) string {
	trimmed := strings.TrimLeft(head, " \t\r\n")
	if trimmed == "" {
		return "The file is empty"
	}
	switch trimmed[0] {
	case '{':
		return "Content starts with '{' (a JSON object) but its keys do not match any known export"
	case '[':
		return "Content starts with '[' (a JSON array); supported exports are a single top-level object or one object per line"
	default:
		return "Content does not start with '{' or '[' and is probably not JSON"
	}
}
