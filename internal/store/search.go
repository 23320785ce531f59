package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

type Hit struct {
	SessionID   string
	SessionName string
	Platform    string
	MessageID   int64
	SenderName  string
	Timestamp   time.Time
	Type        parse.MessageType
	Snippet     string
	Rank        float64
}

type SearchOptions struct {
	Query    string
	Session  string // "" = all sessions
	Platform string
	Sender   string // platform id or display name
	Since    time.Time
	Limit    int
}

// containsCJK reports whether s has characters the unicode61 tokenizer does
// not split into words.
func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			return true
		}
	}
	return false
}

// ftsQuery quotes every term so user input is never read as FTS5 syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}

// makeSnippet extracts a snippet around the first occurrence of query in text.
func makeSnippet(text, query string, contextChars int) string {
	lower := strings.ToLower(text)
	qLower := strings.ToLower(query)
	idx := strings.Index(lower, qLower)
	runes := []rune(text)
	if idx < 0 || len(lower) != len(text) {
		if len(runes) > contextChars*2 {
			return string(runes[:contextChars*2]) + "..."
		}
		return text
	}
	qRunes := []rune(query)
	runePos := len([]rune(text[:idx]))
	start := max(runePos-contextChars, 0)
	end := min(runePos+len(qRunes)+contextChars, len(runes))
	prefix, suffix := "", ""
	if start > 0 {
		prefix = "..."
	}
	if end < len(runes) {
		suffix = "..."
	}
	snippet := string(runes[start:runePos]) +
		">>>" + string(runes[runePos:runePos+len(qRunes)]) + "<<<" +
		string(runes[runePos+len(qRunes):end])
	return prefix + snippet + suffix
}

// Search looks for messages across sessions. Results are ordered by rank
// for word queries and newest first for CJK substring queries.
func (s *Store) Search(ctx context.Context, opts SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	ids := []string{opts.Session}
	if opts.Session == "" {
		var err error
		if ids, err = s.sessionIDs(); err != nil {
			return nil, err
		}
	}

	var hits []Hit
	for _, id := range ids {
		sess, err := s.OpenSession(ctx, id)
		if err != nil {
			if opts.Session != "" {
				return nil, err
			}
			s.logger.Warn("skipping session", "id", id, "error", err)
			continue
		}
		found, err := sess.Search(ctx, opts)
		sess.Close()
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", id, err)
		}
		hits = append(hits, found...)
	}

	cjk := containsCJK(opts.Query)
	sort.SliceStable(hits, func(i, j int) bool {
		if !cjk && hits[i].Rank != hits[j].Rank {
			return hits[i].Rank < hits[j].Rank
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

// Search looks for messages in this session only.
func (ss *Session) Search(ctx context.Context, opts SearchOptions) ([]Hit, error) {
	info, err := ss.Info(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Platform != "" && !strings.EqualFold(opts.Platform, info.Platform) {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	cjk := containsCJK(opts.Query)
	var conditions []string
	var args []any
	var from, snippet, rank, order string
	if cjk {
		from = "messages msg"
		conditions = append(conditions, "msg.content LIKE ?")
		args = append(args, "%"+opts.Query+"%")
		snippet, rank, order = "msg.content", "0", "msg.ts DESC"
	} else {
		from = "messages_fts JOIN messages msg ON messages_fts.rowid = msg.id"
		conditions = append(conditions, "messages_fts MATCH ?")
		args = append(args, ftsQuery(opts.Query))
		snippet = "snippet(messages_fts, 0, '>>>', '<<<', '...', 40)"
		rank, order = "bm25(messages_fts, 1.0)", "rank"
	}

	if opts.Sender != "" {
		conditions = append(conditions, "(m.platform_id = ? OR m.name = ? OR msg.sender_name = ?)")
		args = append(args, opts.Sender, opts.Sender, opts.Sender)
	}
	if !opts.Since.IsZero() {
		conditions = append(conditions, "msg.ts >= ?")
		args = append(args, opts.Since.Unix())
	}

	query := fmt.Sprintf(`
		SELECT msg.id, msg.sender_name, msg.ts, msg.type, %s AS snip, %s AS rank
		FROM %s
		JOIN members m ON m.id = msg.sender_id
		WHERE %s
		ORDER BY %s
		LIMIT ?`, snippet, rank, from, strings.Join(conditions, " AND "), order)
	args = append(args, opts.Limit)

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		h := Hit{SessionID: info.ID, SessionName: info.Name, Platform: info.Platform}
		var ts int64
		var typ int
		if err := rows.Scan(&h.MessageID, &h.SenderName, &ts, &typ, &h.Snippet, &h.Rank); err != nil {
			return nil, err
		}
		h.Timestamp = time.Unix(ts, 0)
		h.Type = parse.MessageType(typ)
		if cjk {
			h.Snippet = makeSnippet(h.Snippet, opts.Query, 30)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
