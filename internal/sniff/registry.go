package sniff

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

// HeadSize is the number of leading bytes inspected by content checks.
const HeadSize = 8 * 1024

// Registry holds format modules ordered by priority. Register is meant for
// start-up; after that the registry is read-only and safe for concurrent use.
type Registry struct {
	modules []parse.Module
	fields  map[string][]*regexp.Regexp // required field -> key patterns
}

func New(modules ...parse.Module) *Registry {
	r := &Registry{fields: make(map[string][]*regexp.Regexp)}
	for _, m := range modules {
		r.Register(m)
	}
	return r
}

// Register adds m and keeps modules sorted by ascending priority. Equal
// priorities keep registration order.
func (r *Registry) Register(m parse.Module) {
	if r.fields == nil {
		r.fields = make(map[string][]*regexp.Regexp)
	}
	for _, field := range m.Feature.Signatures.RequiredFields {
		if _, ok := r.fields[field]; !ok {
			r.fields[field] = fieldKeys(field)
		}
	}
	r.modules = append(r.modules, m)
	sort.SliceStable(r.modules, func(i, j int) bool {
		return r.modules[i].Feature.Priority < r.modules[j].Feature.Priority
	})
}

// Formats lists every registered feature in priority order.
func (r *Registry) Formats() []parse.FormatFeature {
	out := make([]parse.FormatFeature, len(r.modules))
	for i, m := range r.modules {
		out[i] = m.Feature
	}
	return out
}

// Extensions lists the distinct extensions accepted by any format.
func (r *Registry) Extensions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range r.modules {
		for _, ext := range m.Feature.Extensions {
			ext = normalizeExt(ext)
			if !seen[ext] {
				seen[ext] = true
				out = append(out, ext)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Sniff returns the first format, in priority order, whose checks all pass.
// An unreadable file matches nothing.
func (r *Registry) Sniff(path string) (parse.FormatFeature, bool) {
	m, ok := r.Module(path)
	if !ok {
		return parse.FormatFeature{}, false
	}
	return m.Feature, true
}

// Module returns the module that would parse path.
func (r *Registry) Module(path string) (parse.Module, bool) {
	ext := fileExt(path)
	var head string
	var loaded bool
	for _, m := range r.modules {
		if !hasExtension(m.Feature, ext) {
			continue
		}
		if !loaded {
			h, err := readHead(path)
			if err != nil {
				return parse.Module{}, false
			}
			head, loaded = h, true
		}
		if r.check(m.Feature, ext, head, true).Full() {
			return m, true
		}
	}
	return parse.Module{}, false
}

func (r *Registry) Parser(path string) (parse.Parser, bool) {
	m, ok := r.Module(path)
	if !ok {
		return nil, false
	}
	return m.Parser, true
}

// ModuleByID returns the first module registered under id.
func (r *Registry) ModuleByID(id string) (parse.Module, bool) {
	for _, m := range r.modules {
		if m.Feature.ID == id {
			return m, true
		}
	}
	return parse.Module{}, false
}

func (r *Registry) ParserByID(id string) (parse.Parser, bool) {
	m, ok := r.ModuleByID(id)
	if !ok {
		return nil, false
	}
	return m.Parser, true
}

// readHead returns the decoded first HeadSize bytes of path.
func readHead(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, HeadSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return parse.DecodeHead(buf[:n]), nil
}

func fileExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func hasExtension(f parse.FormatFeature, ext string) bool {
	for _, e := range f.Extensions {
		if normalizeExt(e) == ext {
			return true
		}
	}
	return false
}
