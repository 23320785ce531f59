package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

const (
	StatusImporting = "importing"
	StatusComplete  = "complete"
)

// Source describes the file a session was imported from.
type Source struct {
	Path   string
	Format string
	Size   int64
}

// Stats is recorded when an import completes.
type Stats struct {
	Duration time.Duration
}

type SessionInfo struct {
	ID           string
	Name         string
	Platform     string
	Type         parse.ChatType
	GroupID      string
	Extra        map[string]string
	SourcePath   string
	Format       string
	SourceSize   int64
	Status       string
	CreatedAt    time.Time
	ImportedAt   time.Time
	Duration     time.Duration
	MemberCount  int
	MessageCount int
	FirstMessage time.Time
	LastMessage  time.Time
}

type Member struct {
	ID          int64
	PlatformID  string
	Name        string
	AccountName string
	Role        string
	IsBot       bool
	Placeholder bool
}

type NameChange struct {
	Name  string
	Since time.Time
}

type MessageRow struct {
	ID                int64
	SenderPlatformID  string
	SenderName        string
	Timestamp         time.Time
	Type              parse.MessageType
	Content           string
	PlatformMessageID string
	ReplyToMessageID  string
	Extra             map[string]string
}

type memberRef struct {
	id   int64
	name string
}

// Session is one session database. Writes are not safe for concurrent use.
type Session struct {
	ID string
	db *sql.DB

	members map[string]memberRef
}

func newSession(id string, db *sql.DB) *Session {
	return &Session{ID: id, db: db, members: make(map[string]memberRef)}
}

// CreateSession starts a new session database for meta.
func (s *Store) CreateSession(ctx context.Context, meta parse.ParsedMeta, src Source) (*Session, error) {
	id := uuid.NewString()
	path := s.path(id)
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Session, error) {
		db.Close()
		os.Remove(path)
		return nil, err
	}

	extra, err := encodeExtra(meta.Extra)
	if err != nil {
		return fail(err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion,
	); err != nil {
		return fail(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session (id, name, platform, type, group_id, extra, source_path, format, source_size, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, meta.Name, meta.Platform, string(meta.Type), meta.GroupID, extra,
		src.Path, src.Format, src.Size, StatusImporting, time.Now().Unix(),
	); err != nil {
		return fail(fmt.Errorf("insert session: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return newSession(id, db), nil
}

func (ss *Session) Close() error {
	return ss.db.Close()
}

// AppendMembers upserts a batch in one transaction. A member whose name
// changes gets a name history row.
func (ss *Session) AppendMembers(ctx context.Context, members []parse.ParsedMember) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	staged := make(map[string]memberRef)
	for _, m := range members {
		if m.PlatformID == "" {
			continue
		}
		ref, err := ss.upsertMember(ctx, tx, staged, m, false)
		if err != nil {
			return err
		}
		staged[m.PlatformID] = ref
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for k, v := range staged {
		ss.members[k] = v
	}
	return nil
}

// AppendMessages inserts a batch in one transaction. Senders that were never
// declared are added as placeholder members.
func (ss *Session) AppendMessages(ctx context.Context, messages []parse.ParsedMessage) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (sender_id, sender_name, ts, type, content, platform_message_id, reply_to_message_id, extra)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	staged := make(map[string]memberRef)
	for _, m := range messages {
		ref, ok := staged[m.SenderID]
		if !ok {
			ref, ok = ss.members[m.SenderID]
		}
		if !ok {
			ref, err = ss.upsertMember(ctx, tx, staged, parse.ParsedMember{
				PlatformID: m.SenderID,
				Name:       firstNonEmpty(m.SenderName, m.SenderID),
				NameSince:  m.Timestamp,
			}, true)
			if err != nil {
				return err
			}
			staged[m.SenderID] = ref
		}
		extra, err := encodeExtra(m.Extra)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			ref.id, m.SenderName, m.Timestamp, int(m.Type), m.Content,
			m.PlatformMessageID, m.ReplyToMessageID, extra,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for k, v := range staged {
		ss.members[k] = v
	}
	return nil
}

// upsertMember writes m and returns its row. A placeholder never overwrites
// a declared member.
func (ss *Session) upsertMember(ctx context.Context, tx *sql.Tx, staged map[string]memberRef, m parse.ParsedMember, placeholder bool) (memberRef, error) {
	ref, known := staged[m.PlatformID]
	if !known {
		ref, known = ss.members[m.PlatformID]
	}
	if !known {
		err := tx.QueryRowContext(ctx,
			"SELECT id, name FROM members WHERE platform_id = ?", m.PlatformID,
		).Scan(&ref.id, &ref.name)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return ref, err
		default:
			known = true
		}
	}

	if !known {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO members (platform_id, name, account_name, role, is_bot, placeholder)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.PlatformID, m.Name, m.AccountName, m.Role, m.IsBot, placeholder,
		)
		if err != nil {
			return ref, fmt.Errorf("insert member: %w", err)
		}
		if ref.id, err = res.LastInsertId(); err != nil {
			return ref, err
		}
		ref.name = m.Name
		return ref, addHistory(ctx, tx, ref.id, m.Name, m.NameSince)
	}
	if placeholder {
		return ref, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET
		    name = CASE WHEN ? != '' THEN ? ELSE name END,
		    account_name = CASE WHEN ? != '' THEN ? ELSE account_name END,
		    role = CASE WHEN ? != '' THEN ? ELSE role END,
		    is_bot = ?,
		    placeholder = 0
		 WHERE id = ?`,
		m.Name, m.Name, m.AccountName, m.AccountName, m.Role, m.Role, m.IsBot, ref.id,
	); err != nil {
		return ref, fmt.Errorf("update member: %w", err)
	}
	if m.Name != "" && m.Name != ref.name {
		ref.name = m.Name
		if err := addHistory(ctx, tx, ref.id, m.Name, m.NameSince); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

func addHistory(ctx context.Context, tx *sql.Tx, memberID int64, name string, since int64) error {
	if name == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO member_name_history (member_id, name, since) VALUES (?, ?, ?)",
		memberID, name, since,
	)
	return err
}

// Finish marks the session complete.
func (ss *Session) Finish(ctx context.Context, st Stats) error {
	_, err := ss.db.ExecContext(ctx,
		"UPDATE session SET status = ?, imported_at = ?, duration_ms = ? WHERE id = ?",
		StatusComplete, time.Now().Unix(), st.Duration.Milliseconds(), ss.ID,
	)
	return err
}

func (ss *Session) Info(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	var chatType, extra string
	var created, imported, durMs int64
	err := ss.db.QueryRowContext(ctx,
		`SELECT id, name, platform, type, group_id, extra, source_path, format, source_size,
		        status, created_at, imported_at, duration_ms
		 FROM session LIMIT 1`,
	).Scan(&info.ID, &info.Name, &info.Platform, &chatType, &info.GroupID, &extra,
		&info.SourcePath, &info.Format, &info.SourceSize,
		&info.Status, &created, &imported, &durMs)
	if err == sql.ErrNoRows {
		return info, fmt.Errorf("%w: %s has no session row", ErrNotFound, ss.ID)
	}
	if err != nil {
		return info, err
	}
	info.Type = parse.ChatType(chatType)
	info.Extra = decodeExtra(extra)
	info.CreatedAt = time.Unix(created, 0)
	if imported > 0 {
		info.ImportedAt = time.Unix(imported, 0)
	}
	info.Duration = time.Duration(durMs) * time.Millisecond

	if err := ss.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM members").Scan(&info.MemberCount); err != nil {
		return info, err
	}
	var first, last sql.NullInt64
	if err := ss.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(ts), MAX(ts) FROM messages",
	).Scan(&info.MessageCount, &first, &last); err != nil {
		return info, err
	}
	if first.Valid {
		info.FirstMessage = time.Unix(first.Int64, 0)
		info.LastMessage = time.Unix(last.Int64, 0)
	}
	return info, nil
}

// Members lists members ordered by message count, most active first.
func (ss *Session) Members(ctx context.Context) ([]Member, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT m.id, m.platform_id, m.name, m.account_name, m.role, m.is_bot, m.placeholder
		FROM members m
		LEFT JOIN (SELECT sender_id, COUNT(*) AS n FROM messages GROUP BY sender_id) c ON c.sender_id = m.id
		ORDER BY COALESCE(c.n, 0) DESC, m.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.PlatformID, &m.Name, &m.AccountName, &m.Role, &m.IsBot, &m.Placeholder); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// NameHistory returns the names a member has used, oldest first.
func (ss *Session) NameHistory(ctx context.Context, platformID string) ([]NameChange, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT h.name, h.since FROM member_name_history h
		JOIN members m ON m.id = h.member_id
		WHERE m.platform_id = ?
		ORDER BY h.since, h.rowid`, platformID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NameChange
	for rows.Next() {
		var c NameChange
		var since int64
		if err := rows.Scan(&c.Name, &since); err != nil {
			return nil, err
		}
		c.Since = time.Unix(since, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

const messageColumns = `
	msg.id, m.platform_id, msg.sender_name, msg.ts, msg.type, msg.content,
	msg.platform_message_id, msg.reply_to_message_id, msg.extra`

func scanMessage(rows *sql.Rows) (MessageRow, error) {
	var r MessageRow
	var ts int64
	var typ int
	var extra string
	if err := rows.Scan(&r.ID, &r.SenderPlatformID, &r.SenderName, &ts, &typ, &r.Content,
		&r.PlatformMessageID, &r.ReplyToMessageID, &extra); err != nil {
		return r, err
	}
	r.Timestamp = time.Unix(ts, 0)
	r.Type = parse.MessageType(typ)
	r.Extra = decodeExtra(extra)
	return r, nil
}

// MessagesWindow returns up to around messages either side of hitID in
// source order. With hitID < 0 every message is returned. startPos is the
// number of messages before the window and total the session size.
func (ss *Session) MessagesWindow(ctx context.Context, hitID int64, around int) (msgs []MessageRow, hitIdx, startPos, total int, err error) {
	if err = ss.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&total); err != nil {
		return nil, -1, 0, 0, err
	}

	// 0-based position of the hit
	hitPos := -1
	if hitID >= 0 {
		err = ss.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE id < ?", hitID).Scan(&hitPos)
		if err != nil {
			return nil, -1, 0, 0, err
		}
	}

	limit := total
	if hitPos >= 0 {
		startPos = max(hitPos-around, 0)
		limit = min(hitPos+around+1, total) - startPos
	}

	rows, err := ss.db.QueryContext(ctx,
		"SELECT"+messageColumns+` FROM messages msg JOIN members m ON m.id = msg.sender_id
		 ORDER BY msg.id LIMIT ? OFFSET ?`,
		limit, startPos,
	)
	if err != nil {
		return nil, -1, 0, 0, err
	}
	defer rows.Close()

	hitIdx = -1
	for rows.Next() {
		r, err := scanMessage(rows)
		if err != nil {
			return nil, -1, 0, 0, err
		}
		if r.ID == hitID {
			hitIdx = len(msgs)
		}
		msgs = append(msgs, r)
	}
	return msgs, hitIdx, startPos, total, rows.Err()
}

func encodeExtra(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode extra: %w", err)
	}
	return string(b), nil
}

func decodeExtra(s string) map[string]string {
	if s == "" {
		return nil
	}
	var out map[string]string
	if json.Unmarshal([]byte(s), &out) != nil {
		return nil
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
