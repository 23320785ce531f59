package render

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/chimp/internal/logging"
	"github.com/Zuo-Peng/chimp/internal/parse"
	"github.com/Zuo-Peng/chimp/internal/store"
)

func TestWrapLineCountsWideRunes(t *testing.T) {
	lines := wrapLine("你好世界", 4)
	assert.Equal(t, []string{"你好", "世界"}, lines)

	lines = wrapLine("\033[1mabcdef\033[0m", 3)
	assert.Equal(t, []string{"\033[1mabc", "def\033[0m"}, lines)
}

func TestHighlightKeywords(t *testing.T) {
	got := highlightKeywords("Hello hello", `"hello"`)
	assert.Equal(t, colorBoldRed+"Hello"+colorReset+" "+colorBoldRed+"hello"+colorReset, got)
	assert.Equal(t, "plain", highlightKeywords("plain", ""))
}

func TestTruncateAndPad(t *testing.T) {
	assert.Equal(t, "ab…", Truncate("abcdef", 3))
	assert.Equal(t, "日本 ", Pad("日本", 5))
}

func TestContent(t *testing.T) {
	assert.Equal(t, "hi", Content(parse.TypeText, "hi"))
	assert.Equal(t, "[image]", Content(parse.TypeImage, ""))
	assert.Equal(t, "[link] https://x", Content(parse.TypeLink, "https://x"))
}

func TestConversationMarksHit(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, parse.ParsedMeta{Name: "Team", Platform: "telegram", Type: parse.ChatGroup}, store.Source{Path: "x.json"})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.AppendMembers(ctx, []parse.ParsedMember{{PlatformID: "a", Name: "Alice"}}))
	var batch []parse.ParsedMessage
	for i := 0; i < 30; i++ {
		batch = append(batch, parse.ParsedMessage{SenderID: "a", SenderName: "Alice", Timestamp: int64(1000 + i), Content: "line"})
	}
	batch[15].Content = "needle here"
	require.NoError(t, sess.AppendMessages(ctx, batch))

	hits, err := sess.Search(ctx, store.SearchOptions{Query: "needle"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	out, hitLine, err := Conversation(ctx, sess, Options{HitMessageID: hits[0].MessageID, Context: 2, Query: "needle", Location: time.UTC})
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.Greater(t, hitLine, 0)
	assert.Contains(t, lines[hitLine], ">> Alice")
	assert.Contains(t, out, "(13 messages before)")
	assert.Contains(t, out, "(12 messages after)")
	assert.Contains(t, out, colorBoldRed+"needle"+colorReset)
}

func TestDiagnosis(t *testing.T) {
	d := parse.FormatDiagnosis{
		Path:      "/tmp/a.json",
		Extension: ".json",
		Checks: []parse.FormatMatchCheck{{
			FormatID: "telegram", FormatName: "Telegram", ExtensionMatch: true, SignatureMatch: true,
			MissingFields: []string{"messages"}, PatternsMatch: true,
		}},
		Suggestion: "no registered format matched this .json file",
	}
	out := Diagnosis(d, false)
	assert.Contains(t, out, "missing messages")
	assert.Contains(t, out, "telegram")
	assert.True(t, strings.HasSuffix(out, "no registered format matched this .json file\n"))
}
