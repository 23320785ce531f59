package parse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeModule(fn ParserFunc) Module {
	return Module{
		Feature: FormatFeature{ID: "fake", Name: "Fake", Platform: PlatformUnknown},
		Parser:  fn,
	}
}

func messages(n int) ParserFunc {
	return func(ctx context.Context, opts ParseOptions, e *Emitter) error {
		if err := e.Meta(ParsedMeta{Name: "chat", Platform: PlatformUnknown}); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			sender := fmt.Sprintf("u%d", i%3)
			if i < 3 {
				if err := e.Member(ParsedMember{PlatformID: sender, Name: sender}); err != nil {
					return err
				}
			}
			if err := e.Message(ParsedMessage{SenderID: sender, Timestamp: int64(i), Content: "x"}); err != nil {
				return err
			}
		}
		return nil
	}
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func kinds(events []Event, k EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func TestStreamBatchesAndOrdering(t *testing.T) {
	events := drain(t, Stream(context.Background(), fakeModule(messages(12)), ParseOptions{FilePath: "x", BatchSize: 5}))

	var content []Event
	for _, ev := range events {
		if ev.Kind != EventProgress {
			content = append(content, ev)
		}
	}
	require.NotEmpty(t, content)
	assert.Equal(t, EventMeta, content[0].Kind)
	assert.Len(t, kinds(events, EventMeta), 1)
	assert.Empty(t, kinds(events, EventError))

	batches := kinds(events, EventMessages)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Messages, 5)
	assert.Len(t, batches[1].Messages, 5)
	assert.Len(t, batches[2].Messages, 2)

	// every sender is declared before the batch that uses it
	declared := map[string]bool{}
	for _, ev := range content {
		switch ev.Kind {
		case EventMembers:
			for _, m := range ev.Members {
				declared[m.PlatformID] = true
			}
		case EventMessages:
			for _, m := range ev.Messages {
				assert.True(t, declared[m.SenderID], "sender %s undeclared", m.SenderID)
			}
		}
	}

	last := events[len(events)-1]
	require.Equal(t, EventProgress, last.Kind)
	assert.Equal(t, StageDone, last.Progress.Stage)
	assert.Equal(t, 100.0, last.Progress.Percentage)
	assert.Equal(t, 12, last.Progress.MessagesProcessed)
}

func TestStreamProgressMonotonic(t *testing.T) {
	var seen []float64
	opts := ParseOptions{FilePath: "x", BatchSize: 1, OnProgress: func(p ParseProgress) {
		seen = append(seen, p.Percentage)
	}}
	events := drain(t, Stream(context.Background(), fakeModule(messages(50)), opts))

	progress := kinds(events, EventProgress)
	require.NotEmpty(t, progress)
	require.Len(t, seen, len(progress))
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Progress.Percentage, progress[i-1].Progress.Percentage)
	}
}

func TestStreamMembersBeforeMetaIsError(t *testing.T) {
	p := ParserFunc(func(ctx context.Context, opts ParseOptions, e *Emitter) error {
		return e.Member(ParsedMember{PlatformID: "a"})
	})
	events := drain(t, Stream(context.Background(), fakeModule(p), ParseOptions{FilePath: "x"}))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Kind)
	assert.Equal(t, CodeParse, CodeOf(last.Err))
	assert.Empty(t, kinds(events, EventMembers))
}

func TestStreamDuplicateMeta(t *testing.T) {
	p := ParserFunc(func(ctx context.Context, opts ParseOptions, e *Emitter) error {
		if err := e.Meta(ParsedMeta{Name: "a"}); err != nil {
			return err
		}
		return e.Meta(ParsedMeta{Name: "b"})
	})
	events := drain(t, Stream(context.Background(), fakeModule(p), ParseOptions{FilePath: "x"}))

	assert.Len(t, kinds(events, EventMeta), 1)
	assert.Equal(t, EventError, events[len(events)-1].Kind)
}

func TestStreamParserErrorIsTerminal(t *testing.T) {
	boom := errors.New("boom")
	p := ParserFunc(func(ctx context.Context, opts ParseOptions, e *Emitter) error {
		if err := e.Meta(ParsedMeta{Name: "a"}); err != nil {
			return err
		}
		if err := e.Message(ParsedMessage{SenderID: "a"}); err != nil {
			return err
		}
		return boom
	})
	events := drain(t, Stream(context.Background(), fakeModule(p), ParseOptions{FilePath: "x"}))

	errs := kinds(events, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, EventError, events[len(events)-1].Kind)
	assert.ErrorIs(t, errs[0].Err, boom)
	assert.Equal(t, CodeParse, CodeOf(errs[0].Err))
	// the buffered message is not flushed after a failure
	assert.Empty(t, kinds(events, EventMessages))
}

func TestStreamRecoversPanic(t *testing.T) {
	p := ParserFunc(func(ctx context.Context, opts ParseOptions, e *Emitter) error {
		panic("bad input")
	})
	events := drain(t, Stream(context.Background(), fakeModule(p), ParseOptions{FilePath: "x"}))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Kind)
	assert.Contains(t, last.Err.Error(), "bad input")
}

func TestStreamWithoutMetaFails(t *testing.T) {
	p := ParserFunc(func(ctx context.Context, opts ParseOptions, e *Emitter) error {
		return nil
	})
	events := drain(t, Stream(context.Background(), fakeModule(p), ParseOptions{FilePath: "x"}))
	assert.Equal(t, EventError, events[len(events)-1].Kind)
}

func TestStreamCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := Stream(ctx, fakeModule(messages(100000)), ParseOptions{FilePath: "x", BatchSize: 10})

	first := <-ch
	assert.NotEqual(t, EventError, first.Kind)
	cancel()

	// the producer must observe cancellation and close the channel
	drain(t, ch)
}

func TestCollectSummarizeWalk(t *testing.T) {
	mod := fakeModule(messages(7))
	opts := ParseOptions{FilePath: "x", BatchSize: 3}

	res, err := Collect(Stream(context.Background(), mod, opts))
	require.NoError(t, err)
	assert.Equal(t, "chat", res.Meta.Name)
	assert.Len(t, res.Members, 3)
	assert.Len(t, res.Messages, 7)

	sum, err := Summarize(Stream(context.Background(), mod, opts), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.MemberCount)
	assert.Equal(t, 7, sum.MessageCount)

	var batches, metas int
	err = Walk(Stream(context.Background(), mod, opts), Callbacks{
		OnMeta:         func(ParsedMeta) error { metas++; return nil },
		OnMessageBatch: func(b []ParsedMessage) error { batches++; return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, metas)
	assert.Equal(t, 3, batches)
}

func TestCollectKeepsRenamedMembers(t *testing.T) {
	p := ParserFunc(func(ctx context.Context, opts ParseOptions, e *Emitter) error {
		if err := e.Meta(ParsedMeta{Name: "chat"}); err != nil {
			return err
		}
		if err := e.Member(ParsedMember{PlatformID: "a", Name: "Alice", NameSince: 1}); err != nil {
			return err
		}
		if err := e.Message(ParsedMessage{SenderID: "a", Timestamp: 1, Content: "hi"}); err != nil {
			return err
		}
		if err := e.Member(ParsedMember{PlatformID: "a", Name: "Alicia", NameSince: 5}); err != nil {
			return err
		}
		return e.Message(ParsedMessage{SenderID: "a", Timestamp: 5, Content: "new name"})
	})

	res, err := Collect(Stream(context.Background(), fakeModule(p), ParseOptions{FilePath: "x"}))
	require.NoError(t, err)
	require.Len(t, res.Members, 2)
	assert.Equal(t, ParsedMember{PlatformID: "a", Name: "Alice", NameSince: 1}, res.Members[0])
	assert.Equal(t, ParsedMember{PlatformID: "a", Name: "Alicia", NameSince: 5}, res.Members[1])

	sum, err := Summarize(Stream(context.Background(), fakeModule(p), ParseOptions{FilePath: "x"}), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.MemberCount)
}

func TestCollectPropagatesError(t *testing.T) {
	p := ParserFunc(func(ctx context.Context, opts ParseOptions, e *Emitter) error {
		return Errorf(CodeIO, "x", "disk gone")
	})
	_, err := Collect(Stream(context.Background(), fakeModule(p), ParseOptions{FilePath: "x"}))
	require.Error(t, err)
	assert.Equal(t, CodeIO, CodeOf(err))
}
