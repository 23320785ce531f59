package parse

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// share of the percentage range given to a preprocessing pass
const preprocessShare = 40

// Stream runs m's parser on opts.FilePath in its own goroutine and returns
// the resulting events. The channel holds at most one pending event, so the
// parser is suspended until the consumer takes it. The channel is closed
// after the last event; an EventError is always last. Cancelling ctx stops
// the producer.
func Stream(ctx context.Context, m Module, opts ParseOptions) <-chan Event {
	opts = opts.Defaults()
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		e := newEmitter(ctx, out, opts)
		err := run(ctx, m, opts, e)
		if err == nil {
			err = e.finish()
		}
		if err != nil {
			e.fail(err)
		}
	}()
	return out
}

func run(ctx context.Context, m Module, opts ParseOptions, e *Emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Errorf(CodeParse, opts.FilePath, "parser %s panicked: %v", m.Feature.ID, r)
		}
	}()

	path := opts.FilePath
	parser := m.Parser
	if m.Preprocessor != nil {
		info, err := os.Stat(path)
		if err != nil {
			return Wrap(err, CodeIO, path, "stat input")
		}
		if info.Size() >= opts.PreprocessThreshold && m.Preprocessor.NeedsPreprocess(path, info.Size()) {
			e.setPass(0, preprocessShare)
			if err := e.progress(StageReading, 0, "preprocessing", true); err != nil {
				return err
			}
			var perr error
			rw, err := m.Preprocessor.Preprocess(ctx, opts, func(read, total int64) {
				if perr == nil {
					perr = e.passProgress(StageReading, read, total)
				}
			})
			if err == nil {
				err = perr
			}
			if err != nil {
				return classify(ctx, err, path, "preprocess")
			}
			defer os.Remove(rw.Path)
			opts.FilePath = rw.Path
			parser = rw.Parser
			e.setPass(preprocessShare, 100-preprocessShare)
		}
	}

	if err := e.progress(StageParsing, e.lastPct, "", true); err != nil {
		return err
	}
	if parser == nil {
		return Errorf(CodeParse, path, "format %s has no parser", m.Feature.ID)
	}
	if err := parser.Parse(ctx, opts, e); err != nil {
		return classify(ctx, err, path, fmt.Sprintf("parse %s", m.Feature.ID))
	}
	return nil
}

func classify(ctx context.Context, err error, path, message string) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return Wrap(err, CodeParse, path, message)
}
