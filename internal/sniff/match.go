package sniff

import (
	"regexp"
	"strings"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// check runs the extension, head signature, required field and field
// pattern checks in that order. With shortCircuit set it stops at the first
// failure; later checks are then reported as failed.
func (r *Registry) check(f parse.FormatFeature, ext, head string, shortCircuit bool) parse.FormatMatchCheck {
	c := parse.FormatMatchCheck{
		FormatID:   f.ID,
		FormatName: f.Name,
		Priority:   f.Priority,
	}

	c.ExtensionMatch = hasExtension(f, ext)
	if !c.ExtensionMatch && shortCircuit {
		return c
	}

	c.SignatureMatch = len(f.Signatures.Head) == 0
	for _, re := range f.Signatures.Head {
		if re.MatchString(head) {
			c.SignatureMatch = true
			break
		}
	}
	if !c.SignatureMatch && shortCircuit {
		return c
	}

	for _, field := range f.Signatures.RequiredFields {
		if !fieldPresent(head, r.fields[field]) {
			c.MissingFields = append(c.MissingFields, field)
			if shortCircuit {
				return c
			}
		}
	}
	c.FieldsMatch = len(c.MissingFields) == 0

	for _, fp := range f.Signatures.FieldPatterns {
		if !fp.Pattern.MatchString(head) {
			c.FailedPatterns = append(c.FailedPatterns, fp.Name)
			if shortCircuit {
				return c
			}
		}
	}
	c.PatternsMatch = len(c.FailedPatterns) == 0
	return c
}

// fieldKeys compiles the key pattern for each segment of a required field.
// Dotted names require every segment to be present somewhere in the head;
// nesting is not verified.
func fieldKeys(field string) []*regexp.Regexp {
	var res []*regexp.Regexp
	for _, seg := range strings.Split(field, ".") {
		if seg == "" {
			continue
		}
		res = append(res, regexp.MustCompile(`"`+regexp.QuoteMeta(seg)+`"\s*:`))
	}
	return res
}

// fieldPresent reports whether every key pattern matches head.
func fieldPresent(head string, keys []*regexp.Regexp) bool {
	for _, re := range keys {
		if !re.MatchString(head) {
			return false
		}
	}
	return true
}
