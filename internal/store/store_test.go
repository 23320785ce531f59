package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data"), nil)
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Store) *Session {
	t.Helper()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, parse.ParsedMeta{
		Name:     "Team",
		Platform: parse.PlatformTelegram,
		Type:     parse.ChatGroup,
		Extra:    map[string]string{"telegramType": "private_group"},
	}, Source{Path: "/tmp/result.json", Format: "telegram", Size: 1234})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.AppendMembers(ctx, []parse.ParsedMember{
		{PlatformID: "u1", Name: "Alice", AccountName: "alice", Role: "owner", NameSince: 100},
		{PlatformID: "u2", Name: "Bob", NameSince: 100},
	}))
	require.NoError(t, sess.AppendMessages(ctx, []parse.ParsedMessage{
		{SenderID: "u1", SenderName: "Alice", Timestamp: 100, Type: parse.TypeText, Content: "the quick brown fox"},
		{SenderID: "u2", SenderName: "Bob", Timestamp: 200, Type: parse.TypeText, Content: "lazy dog sleeps"},
		{SenderID: "u3", SenderName: "Carol", Timestamp: 300, Type: parse.TypeImage, Content: "[photo]", Extra: map[string]string{"file": "p.jpg"}},
		{SenderID: "u1", SenderName: "Alice", Timestamp: 400, Type: parse.TypeText, Content: "今日は良い天気ですね"},
	}))
	require.NoError(t, sess.AppendMembers(ctx, []parse.ParsedMember{
		{PlatformID: "u1", Name: "Alice B.", NameSince: 350},
	}))
	return sess
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sess := seed(t, s)
	require.NoError(t, sess.Finish(ctx, Stats{Duration: 1500 * time.Millisecond}))

	info, err := sess.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, info.ID)
	assert.Equal(t, "Team", info.Name)
	assert.Equal(t, parse.ChatGroup, info.Type)
	assert.Equal(t, "private_group", info.Extra["telegramType"])
	assert.Equal(t, StatusComplete, info.Status)
	assert.Equal(t, 3, info.MemberCount)
	assert.Equal(t, 4, info.MessageCount)
	assert.Equal(t, int64(100), info.FirstMessage.Unix())
	assert.Equal(t, int64(400), info.LastMessage.Unix())
	assert.Equal(t, 1500*time.Millisecond, info.Duration)

	members, err := sess.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "u1", members[0].PlatformID, "most active first")
	assert.Equal(t, "Alice B.", members[0].Name)
	assert.Equal(t, "alice", members[0].AccountName, "empty fields do not erase")
	assert.True(t, members[2].Placeholder)
	assert.Equal(t, "Carol", members[2].Name)

	history, err := sess.NameHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Alice", history[0].Name)
	assert.Equal(t, "Alice B.", history[1].Name)
	assert.Equal(t, int64(350), history[1].Since.Unix())
}

func TestPlaceholderPromoted(t *testing.T) {
	ctx := context.Background()
	sess := seed(t, newStore(t))
	require.NoError(t, sess.AppendMembers(ctx, []parse.ParsedMember{{PlatformID: "u3", Name: "Caroline", NameSince: 500}}))

	members, err := sess.Members(ctx)
	require.NoError(t, err)
	var carol Member
	for _, m := range members {
		if m.PlatformID == "u3" {
			carol = m
		}
	}
	assert.False(t, carol.Placeholder)
	assert.Equal(t, "Caroline", carol.Name)
}

func TestMessagesWindow(t *testing.T) {
	ctx := context.Background()
	sess := seed(t, newStore(t))

	all, hitIdx, start, total, err := sess.MessagesWindow(ctx, -1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, -1, hitIdx)
	assert.Equal(t, 0, start)
	assert.Equal(t, 4, total)
	assert.Equal(t, "u3", all[2].SenderPlatformID)
	assert.Equal(t, "p.jpg", all[2].Extra["file"])

	win, hitIdx, start, _, err := sess.MessagesWindow(ctx, all[2].ID, 1)
	require.NoError(t, err)
	require.Len(t, win, 3)
	assert.Equal(t, 1, hitIdx)
	assert.Equal(t, 1, start)
	assert.Equal(t, all[2].ID, win[hitIdx].ID)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sess := seed(t, s)

	hits, err := s.Search(ctx, SearchOptions{Query: "fox"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, sess.ID, hits[0].SessionID)
	assert.Equal(t, "Alice", hits[0].SenderName)
	assert.Contains(t, hits[0].Snippet, ">>>fox<<<")

	hits, err = s.Search(ctx, SearchOptions{Query: "天気"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Snippet, ">>>天気<<<")

	hits, err = s.Search(ctx, SearchOptions{Query: "dog", Sender: "u1"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(ctx, SearchOptions{Query: `"unbalanced`, Session: sess.ID})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(ctx, SearchOptions{Query: "dog", Platform: "discord"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestListOpenDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seed(t, s)
	b := seed(t, s)
	require.NoError(t, b.Finish(ctx, Stats{}))

	// stray files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.db"), []byte("x"), 0o644))

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	statuses := map[string]string{}
	for _, info := range list {
		statuses[info.ID] = info.Status
	}
	assert.Equal(t, StatusImporting, statuses[a.ID])
	assert.Equal(t, StatusComplete, statuses[b.ID])

	reopened, err := s.OpenSession(ctx, a.ID)
	require.NoError(t, err)
	info, err := reopened.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, info.MessageCount)
	require.NoError(t, reopened.Close())

	require.NoError(t, a.Close())
	require.NoError(t, s.DeleteSession(a.ID))
	_, err = s.OpenSession(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSession(a.ID), ErrNotFound)
}

func TestInvalidIDs(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"", "../etc/passwd", "notes"} {
		_, err := s.OpenSession(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound, id)
		assert.ErrorIs(t, s.DeleteSession(id), ErrNotFound, id)
	}
}

func TestBatchRollsBackOnCancel(t *testing.T) {
	s := newStore(t)
	sess := seed(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var batch []parse.ParsedMessage
	for i := 0; i < 10; i++ {
		batch = append(batch, parse.ParsedMessage{SenderID: "u1", Timestamp: int64(1000 + i), Content: fmt.Sprint(i)})
	}
	assert.Error(t, sess.AppendMessages(ctx, batch))

	info, err := sess.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, info.MessageCount)
}

func TestMakeSnippet(t *testing.T) {
	assert.Equal(t, "...ck >>>brown<<< fo...", makeSnippet("the quick brown fox", "brown", 3))
	assert.Equal(t, "short", makeSnippet("short", "zzz", 10))
	assert.Equal(t, `"a" "b""c"`, ftsQuery(`a b"c`))
}
