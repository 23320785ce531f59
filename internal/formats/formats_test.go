package formats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run detects path with the built-in registry and drains its stream.
func run(t *testing.T, path string, opts parse.ParseOptions) (string, []parse.Event) {
	t.Helper()
	m, ok := NewRegistry().Module(path)
	require.True(t, ok, "format of %s not detected", path)
	opts.FilePath = path
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var events []parse.Event
	for ev := range parse.Stream(ctx, m, opts) {
		events = append(events, ev)
	}
	return m.Feature.ID, events
}

func only(events []parse.Event, k parse.EventKind) []parse.Event {
	var out []parse.Event
	for _, ev := range events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func collect(t *testing.T, events []parse.Event) *parse.Result {
	t.Helper()
	ch := make(chan parse.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	res, err := parse.Collect(ch)
	require.NoError(t, err)
	return res
}

// assertOrdered checks that meta comes first and every sender is declared
// before the batch that references it.
func assertOrdered(t *testing.T, events []parse.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	declared := map[string]bool{}
	metaSeen := false
	for _, ev := range events {
		switch ev.Kind {
		case parse.EventMeta:
			assert.False(t, metaSeen, "meta emitted twice")
			metaSeen = true
		case parse.EventMembers:
			assert.True(t, metaSeen, "members before meta")
			for _, m := range ev.Members {
				declared[m.PlatformID] = true
			}
		case parse.EventMessages:
			assert.True(t, metaSeen, "messages before meta")
			for _, m := range ev.Messages {
				assert.True(t, declared[m.SenderID], "sender %q not declared", m.SenderID)
			}
		}
	}
	last := events[len(events)-1]
	require.Equal(t, parse.EventProgress, last.Kind, "stream ended with %v", last.Err)
	assert.Equal(t, parse.StageDone, last.Progress.Stage)
	assert.Equal(t, 100.0, last.Progress.Percentage)
}

func TestGenericJSONLThreeMessages(t *testing.T) {
	path := writeFixture(t, "chat.jsonl", `{"sender":"a","content":"one","ts":1700000000}
{"sender":"a","content":"two","ts":1700000001}
{"sender":"a","content":"three","ts":1700000002}
`)
	id, events := run(t, path, parse.ParseOptions{})
	assert.Equal(t, "jsonl", id)
	assertOrdered(t, events)

	require.Len(t, only(events, parse.EventMeta), 1)
	members := only(events, parse.EventMembers)
	require.Len(t, members, 1)
	assert.Equal(t, "a", members[0].Members[0].PlatformID)
	batches := only(events, parse.EventMessages)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Messages, 3)
	assert.Equal(t, "three", batches[0].Messages[2].Content)
	assert.Equal(t, int64(1700000002), batches[0].Messages[2].Timestamp)
}

func TestGenericJSONLBatchCount(t *testing.T) {
	for _, tc := range []struct{ records, batch, want int }{
		{23, 5, 5},
		{20, 5, 4},
		{1, 5000, 1},
	} {
		t.Run(fmt.Sprintf("%d/%d", tc.records, tc.batch), func(t *testing.T) {
			var b strings.Builder
			for i := 0; i < tc.records; i++ {
				fmt.Fprintf(&b, `{"sender":"u%d","content":"m%d","ts":%d}`+"\n", i%4, i, 1700000000+i)
			}
			_, events := run(t, writeFixture(t, "log.jsonl", b.String()), parse.ParseOptions{BatchSize: tc.batch})
			assertOrdered(t, events)

			batches := only(events, parse.EventMessages)
			assert.Len(t, batches, tc.want)
			total := 0
			for _, ev := range batches {
				assert.LessOrEqual(t, len(ev.Messages), tc.batch)
				total += len(ev.Messages)
			}
			assert.Equal(t, tc.records, total)
		})
	}
}

func TestGenericJSONLSkipsBadLines(t *testing.T) {
	path := writeFixture(t, "chat.jsonl", `{"sender":"a","content":"ok","ts":"2024-01-01T00:00:00Z"}
not json
{"content":"no sender"}
{"sender":"b","content":"no time"}
`)
	var logs []string
	_, events := run(t, path, parse.ParseOptions{OnLog: func(_ parse.LogLevel, msg string) { logs = append(logs, msg) }})
	assertOrdered(t, events)

	res := collect(t, events)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, res.Messages[0].Timestamp, res.Messages[1].Timestamp)
	assert.NotEmpty(t, logs)
}

func TestDiagnoseTextWithoutSignature(t *testing.T) {
	path := writeFixture(t, "notes.txt", "just some notes\nnothing to see\n")
	reg := NewRegistry()

	_, ok := reg.Sniff(path)
	assert.False(t, ok)

	d := reg.Diagnose(path)
	assert.Nil(t, d.Matched)
	assert.NotEmpty(t, d.PartialMatches)
	require.NotNil(t, d.BestMatch)
	assert.Contains(t, d.Suggestion, ".txt")
}

func TestDiagnoseUnsupportedExtension(t *testing.T) {
	path := writeFixture(t, "chat.csv", "a,b,c\n")
	d := NewRegistry().Diagnose(path)
	assert.Empty(t, d.PartialMatches)
	assert.Nil(t, d.BestMatch)
	assert.Contains(t, d.Suggestion, ".csv")
	assert.Contains(t, d.Suggestion, ".jsonl")
}

func TestDiagnoseJSONShapeHint(t *testing.T) {
	path := writeFixture(t, "list.json", `[{"a":1}]`)
	d := NewRegistry().Diagnose(path)
	assert.Nil(t, d.Matched)
	assert.Contains(t, d.Suggestion, "JSON array")
}

const chatlabDoc = `{
  "chatlab": {"version": "0.0.2", "exportedAt": 1704067200, "generator": "test"},
  "meta": {"name": "Team", "platform": "qq", "type": "group", "groupId": "g1"},
  "members": [
    {"platformId": "1", "accountName": "alice", "groupNickname": "Alice"},
    {"platformId": "2", "accountName": "bob"}
  ],
  "messages": [
    {"sender": "1", "accountName": "alice", "groupNickname": "Alice", "timestamp": 1704067200, "type": 0, "content": "hi"},
    {"sender": "2", "accountName": "bob", "timestamp": 1704067260000, "type": 1, "content": "[image]"},
    {"sender": "3", "accountName": "carol", "timestamp": "2024-01-01T00:02:00Z", "type": 0, "content": "late joiner"}
  ]
}`

func TestChatLab(t *testing.T) {
	id, events := run(t, writeFixture(t, "team.json", chatlabDoc), parse.ParseOptions{})
	assert.Equal(t, "chatlab", id)
	assertOrdered(t, events)

	res := collect(t, events)
	assert.Equal(t, "Team", res.Meta.Name)
	assert.Equal(t, "qq", res.Meta.Platform)
	assert.Equal(t, parse.ChatGroup, res.Meta.Type)
	assert.Equal(t, "0.0.2", res.Meta.Extra["chatlabVersion"])
	assert.Equal(t, "2024-01-01T00:00:00Z", res.Meta.Extra["exportedAt"])

	require.Len(t, res.Members, 3)
	assert.Equal(t, "Alice", res.Members[0].Name)
	assert.Equal(t, "carol", res.Members[2].Name)

	require.Len(t, res.Messages, 3)
	assert.Equal(t, int64(1704067260), res.Messages[1].Timestamp)
	assert.Equal(t, parse.TypeImage, res.Messages[1].Type)
	assert.Equal(t, int64(1704067320), res.Messages[2].Timestamp)
}

const chatlabReversed = `{
  "messages": [
    {"sender": "1", "timestamp": 1704067200, "type": 0, "content": "first"},
    {"sender": "2", "timestamp": 1704067201, "type": 0, "content": "second"}
  ],
  "members": [{"platformId": "1", "groupNickname": "Alice"}],
  "meta": {"name": "Reversed", "platform": "chatlab", "type": "private"},
  "chatlab": {"version": "1.0"}
}`

func TestChatLabMetaLastSmallFile(t *testing.T) {
	_, events := run(t, writeFixture(t, "rev.json", chatlabReversed), parse.ParseOptions{})
	assertOrdered(t, events)

	res := collect(t, events)
	assert.Equal(t, "Reversed", res.Meta.Name)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "first", res.Messages[0].Content)
}

func TestChatLabPreprocessed(t *testing.T) {
	tmp := t.TempDir()
	var stages []parse.Stage
	id, events := run(t, writeFixture(t, "rev.json", chatlabReversed), parse.ParseOptions{
		TempDir:             tmp,
		PreprocessThreshold: 1,
		OnProgress:          func(p parse.ParseProgress) { stages = append(stages, p.Stage) },
	})
	assert.Equal(t, "chatlab", id)
	assertOrdered(t, events)

	res := collect(t, events)
	assert.Equal(t, "Reversed", res.Meta.Name)
	assert.Equal(t, parse.ChatPrivate, res.Meta.Type)
	assert.Equal(t, "1.0", res.Meta.Extra["chatlabVersion"])
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "second", res.Messages[1].Content)

	assert.Contains(t, stages, parse.StageReading)
	assert.Contains(t, stages, parse.StageParsing)
	last := 0.0
	for _, ev := range only(events, parse.EventProgress) {
		assert.GreaterOrEqual(t, ev.Progress.Percentage, last)
		last = ev.Progress.Percentage
	}

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left, "temporary files left behind")
}

func TestChatLabJSONL(t *testing.T) {
	path := writeFixture(t, "team.jsonl", `{"_type":"header","chatlab":{"version":"0.0.2"},"meta":{"name":"Lines","platform":"wechat","type":"group"}}
{"_type":"member","platformId":"1","groupNickname":"A"}
{"_type":"message","sender":"1","timestamp":1700000000,"type":0,"content":"hi"}
{"_type":"message","sender":"2","accountName":"B","timestamp":1700000005,"type":"text","content":"yo"}
{"_type":"mystery"}
`)
	id, events := run(t, path, parse.ParseOptions{})
	assert.Equal(t, "chatlab-jsonl", id)
	assertOrdered(t, events)

	res := collect(t, events)
	assert.Equal(t, "Lines", res.Meta.Name)
	require.Len(t, res.Members, 2)
	assert.Equal(t, "B", res.Members[1].Name)
	require.Len(t, res.Messages, 2)
}

func TestChatLabJSONLRecordBeforeHeader(t *testing.T) {
	path := writeFixture(t, "bad.jsonl", `{"_type":"message","sender":"1","timestamp":1,"content":"x"}
{"_type":"header","meta":{"name":"Late"}}
`)
	m := ChatLabJSONL()
	var last parse.Event
	for ev := range parse.Stream(context.Background(), m, parse.ParseOptions{FilePath: path}) {
		last = ev
	}
	require.Equal(t, parse.EventError, last.Kind)
	assert.Equal(t, parse.CodeParse, parse.CodeOf(last.Err))
}

const telegramDoc = `{
 "name": "Family",
 "type": "private_group",
 "id": 42,
 "messages": [
  {"id": 1, "type": "service", "date": "2024-01-01T10:00:00", "date_unixtime": "1704103200", "actor": "Alice", "actor_id": "user1", "action": "create_group", "title": "Family", "text": ""},
  {"id": 2, "type": "message", "date": "2024-01-01T10:01:00", "date_unixtime": "1704103260", "from": "Alice", "from_id": "user1", "text": ["Hi ", {"type": "bold", "text": "all"}]},
  {"id": 3, "type": "message", "date": "2024-01-01T10:02:00", "date_unixtime": "1704103320", "from": "Bob", "from_id": "user2", "photo": "photos/p.jpg", "text": ""},
  {"id": 4, "type": "message", "date": "2024-01-01T10:03:00", "from": "Bob", "from_id": "user2", "reply_to_message_id": 2, "text": "hey"}
 ]
}`

func TestTelegram(t *testing.T) {
	id, events := run(t, writeFixture(t, "result.json", telegramDoc), parse.ParseOptions{})
	assert.Equal(t, "telegram", id)
	assertOrdered(t, events)

	res := collect(t, events)
	assert.Equal(t, "Family", res.Meta.Name)
	assert.Equal(t, parse.ChatGroup, res.Meta.Type)
	assert.Equal(t, "42", res.Meta.GroupID)
	require.Len(t, res.Members, 2)

	require.Len(t, res.Messages, 4)
	assert.Equal(t, parse.TypeSystem, res.Messages[0].Type)
	assert.Equal(t, "create group", res.Messages[0].Content)
	assert.Equal(t, "Hi all", res.Messages[1].Content)
	assert.Equal(t, parse.TypeImage, res.Messages[2].Type)
	assert.Equal(t, parse.TypeReply, res.Messages[3].Type)
	assert.Equal(t, "2", res.Messages[3].ReplyToMessageID)
	// no date_unixtime: the local date is read in the configured zone
	assert.Equal(t, time.Date(2024, 1, 1, 10, 3, 0, 0, time.UTC).Unix(), res.Messages[3].Timestamp)
}

const discordDoc = `{
 "guild": {"id": "1", "name": "Gophers"},
 "channel": {"id": "10", "type": "GuildTextChat", "category": "General", "name": "chat", "topic": null},
 "messages": [
  {"id": "100", "type": "Default", "timestamp": "2024-01-01T10:00:00+00:00", "content": "hello",
   "author": {"id": "u1", "name": "alice", "discriminator": "0000", "nickname": "Alice", "isBot": false, "roles": [{"name": "Admin"}]}},
  {"id": "101", "type": "Reply", "timestamp": "2024-01-01T10:01:00+00:00", "content": "hi",
   "author": {"id": "u2", "name": "bob", "discriminator": "1234", "nickname": "Bob", "isBot": true}, "reference": {"messageId": "100"}},
  {"id": "102", "type": "Default", "timestamp": "2024-01-01T10:02:00+00:00", "content": "",
   "author": {"id": "u1", "name": "alice", "discriminator": "0000", "nickname": "Alice"}, "attachments": [{"url": "https://cdn.example/x.png", "fileName": "x.png"}]}
 ],
 "messageCount": 3
}`

func TestDiscord(t *testing.T) {
	id, events := run(t, writeFixture(t, "export.json", discordDoc), parse.ParseOptions{})
	assert.Equal(t, "discord", id)
	assertOrdered(t, events)

	res := collect(t, events)
	assert.Equal(t, "Gophers / #chat", res.Meta.Name)
	assert.Equal(t, parse.ChatGroup, res.Meta.Type)
	assert.Equal(t, "10", res.Meta.GroupID)

	require.Len(t, res.Members, 2)
	assert.Equal(t, "Admin", res.Members[0].Role)
	assert.Equal(t, "bob#1234", res.Members[1].AccountName)
	assert.True(t, res.Members[1].IsBot)

	require.Len(t, res.Messages, 3)
	assert.Equal(t, parse.TypeReply, res.Messages[1].Type)
	assert.Equal(t, "100", res.Messages[1].ReplyToMessageID)
	assert.Equal(t, parse.TypeImage, res.Messages[2].Type)
	assert.Equal(t, "https://cdn.example/x.png", res.Messages[2].Extra["attachments"])
}

func TestWhatsApp(t *testing.T) {
	path := writeFixture(t, "WhatsApp Chat with Bob.txt", `12/01/2024, 21:40 - Messages and calls are end-to-end encrypted. No one outside of this chat, not even WhatsApp, can read or listen to them.
12/01/2024, 21:41 - Alice: hello
there
12/01/2024, 21:42 - Bob: <Media omitted>
13/01/2024, 09:00 - Alice: https://example.com
`)
	id, events := run(t, path, parse.ParseOptions{})
	assert.Equal(t, "whatsapp", id)
	assertOrdered(t, events)

	res := collect(t, events)
	assert.Equal(t, "Bob", res.Meta.Name)
	assert.Equal(t, parse.ChatPrivate, res.Meta.Type)

	require.Len(t, res.Messages, 4)
	assert.Equal(t, parse.TypeSystem, res.Messages[0].Type)
	assert.Equal(t, "system", res.Messages[0].SenderID)
	assert.Equal(t, "hello\nthere", res.Messages[1].Content)
	assert.Equal(t, time.Date(2024, 1, 12, 21, 41, 0, 0, time.UTC).Unix(), res.Messages[1].Timestamp)
	assert.Equal(t, parse.TypeOther, res.Messages[2].Type)
	assert.Equal(t, parse.TypeLink, res.Messages[3].Type)
	assert.Equal(t, time.Date(2024, 1, 13, 9, 0, 0, 0, time.UTC).Unix(), res.Messages[3].Timestamp)
}

func TestWhatsAppIOSMonthFirst(t *testing.T) {
	path := writeFixture(t, "_chat.txt", "[1/2/24, 9:41:05 PM] Ann: one\n[1/2/24, 9:42:00 PM] Ben: two\n[1/2/24, 9:43:00 PM] Cid: three\n")
	id, events := run(t, path, parse.ParseOptions{})
	assert.Equal(t, "whatsapp", id)

	res := collect(t, events)
	assert.Equal(t, parse.ChatGroup, res.Meta.Type)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 21, 41, 5, 0, time.UTC).Unix(), res.Messages[0].Timestamp)
}

func TestLine(t *testing.T) {
	path := writeFixture(t, "line.txt", "\ufeff[LINE] Chat history in Friends\nSaved on: 2024/01/02, 10:00\n\n2024/01/01(Mon)\n"+
		"09:05\tAlice\tHappy new year\n"+
		"09:06\tBob\t[Sticker]\n"+
		"09:07\tAlice\t\"line one\nline two\"\n"+
		"09:08\t\tBob unsent a message.\n\n"+
		"2024/01/02(Tue)\n"+
		"08:00\tBob\t[Photo]\n")
	id, events := run(t, path, parse.ParseOptions{})
	assert.Equal(t, "line", id)
	assertOrdered(t, events)

	res := collect(t, events)
	assert.Equal(t, "Friends", res.Meta.Name)
	assert.Equal(t, parse.ChatGroup, res.Meta.Type)

	require.Len(t, res.Messages, 5)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC).Unix(), res.Messages[0].Timestamp)
	assert.Equal(t, parse.TypeEmoji, res.Messages[1].Type)
	assert.Equal(t, "line one\nline two", res.Messages[2].Content)
	assert.Equal(t, parse.TypeSystem, res.Messages[3].Type)
	assert.Equal(t, "Bob unsent a message.", res.Messages[3].Content)
	assert.Equal(t, parse.TypeImage, res.Messages[4].Type)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC).Unix(), res.Messages[4].Timestamp)
}

func TestLineJapanesePrivate(t *testing.T) {
	path := writeFixture(t, "jp.txt", "[LINE] 花子とのトーク履歴\n保存日時：2024/01/02 10:00\n\n2024/01/01(月)\n12:00\t花子\t[スタンプ]\n")
	_, events := run(t, path, parse.ParseOptions{})
	res := collect(t, events)
	assert.Equal(t, "花子", res.Meta.Name)
	assert.Equal(t, parse.ChatPrivate, res.Meta.Type)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, parse.TypeEmoji, res.Messages[0].Type)
}

func TestLineMessageBeforeDate(t *testing.T) {
	path := writeFixture(t, "nodate.txt", "[LINE] Chat history with Bob\n"+
		"09:00\tBob\tno date yet\n"+
		"2024/01/01(Mon)\n"+
		"09:05\tBob\tdated\n")
	_, events := run(t, path, parse.ParseOptions{})
	res := collect(t, events)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, int64(0), res.Messages[0].Timestamp)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC).Unix(), res.Messages[1].Timestamp)
	for _, m := range res.Members {
		assert.GreaterOrEqual(t, m.NameSince, int64(0))
	}
}

func TestRegistryDetectsEveryFixture(t *testing.T) {
	reg := NewRegistry()
	for name, tc := range map[string]struct{ file, content, want string }{
		"chatlab":  {"a.json", chatlabDoc, "chatlab"},
		"telegram": {"b.json", telegramDoc, "telegram"},
		"discord":  {"c.JSON", discordDoc, "discord"},
	} {
		t.Run(name, func(t *testing.T) {
			f, ok := reg.Sniff(writeFixture(t, tc.file, tc.content))
			require.True(t, ok)
			assert.Equal(t, tc.want, f.ID)
		})
	}
}
