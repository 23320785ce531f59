// Package importer drives a parse stream into the session store, one
// goroutine per file, and exposes the parsing entry points used by the CLI.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/Zuo-Peng/chimp/internal/notify"
	"github.com/Zuo-Peng/chimp/internal/parse"
	"github.com/Zuo-Peng/chimp/internal/sniff"
	"github.com/Zuo-Peng/chimp/internal/store"
)

// DefaultProgressBuffer is the number of intermediate updates Job.Progress
// holds; one more slot is kept for the final update.
const DefaultProgressBuffer = 64

// SessionWriter receives one import's batches.
type SessionWriter interface {
	SessionID() string
	AppendMembers(ctx context.Context, members []parse.ParsedMember) error
	AppendMessages(ctx context.Context, messages []parse.ParsedMessage) error
	Finish(ctx context.Context, st store.Stats) error
	Close() error
}

// Persister creates the session an import writes into.
type Persister interface {
	Begin(ctx context.Context, meta parse.ParsedMeta, src store.Source) (SessionWriter, error)
}

// FromStore adapts a store to Persister.
func FromStore(s *store.Store) Persister {
	return storePersister{s}
}

type storePersister struct{ st *store.Store }

func (p storePersister) Begin(ctx context.Context, meta parse.ParsedMeta, src store.Source) (SessionWriter, error) {
	sess, err := p.st.CreateSession(ctx, meta, src)
	if err != nil {
		return nil, err
	}
	return storeSession{sess}, nil
}

type storeSession struct{ *store.Session }

func (s storeSession) SessionID() string { return s.ID }

type Options struct {
	BatchSize           int
	PreprocessThreshold int64
	TempDir             string
	Location            *time.Location

	MaxConcurrent  int
	WaitTimeout    time.Duration
	ProgressBuffer int

	Logger    *slog.Logger
	Tracer    trace.Tracer
	Publisher notify.Publisher
}

type Importer struct {
	registry  *sniff.Registry
	persister Persister
	limiter   *Limiter
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
	publisher notify.Publisher
}

// New builds an importer. persister may be nil when only the parsing entry
// points are used.
func New(registry *sniff.Registry, persister Persister, opts Options) *Importer {
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = DefaultProgressBuffer
	}
	imp := &Importer{
		registry:  registry,
		persister: persister,
		limiter:   NewLimiter(opts.MaxConcurrent, opts.WaitTimeout),
		opts:      opts,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		publisher: opts.Publisher,
	}
	if imp.logger == nil {
		imp.logger = slog.Default()
	}
	if imp.tracer == nil {
		imp.tracer = noop.NewTracerProvider().Tracer("")
	}
	if imp.publisher == nil {
		imp.publisher = notify.Nop{}
	}
	return imp
}

func (imp *Importer) Limiter() *Limiter {
	return imp.limiter
}

// Job is a running import. Progress is closed before Done delivers the
// Result.
type Job struct {
	ID       string
	Path     string
	Progress <-chan parse.ParseProgress
	Done     <-chan Result
}

// Wait returns the job's result, draining any remaining progress.
func (j *Job) Wait() Result {
	for range j.Progress {
	}
	return <-j.Done
}

type Result struct {
	JobID     string
	Path      string
	SessionID string // set once the session exists, even if the import later failed
	Format    string
	Name      string
	Platform  string
	Members   int
	Messages  int
	Duration  time.Duration
	Err       error
}

// Import starts importing path and returns immediately. Intermediate
// progress updates are dropped when the receiver falls behind; the import
// never waits on them. The last update is always delivered. Cancelling ctx abandons the import and keeps the batches already
// committed.
func (imp *Importer) Import(ctx context.Context, path string) *Job {
	// one slot stays free for the final update
	progress := make(chan parse.ParseProgress, imp.opts.ProgressBuffer+1)
	done := make(chan Result, 1)
	job := &Job{ID: uuid.NewString(), Path: path, Progress: progress, Done: done}
	go imp.run(ctx, job, progress, done)
	return job
}

func (imp *Importer) run(ctx context.Context, job *Job, progress chan<- parse.ParseProgress, done chan<- Result) {
	start := time.Now()
	res := Result{JobID: job.ID, Path: job.Path}
	log := imp.logger.With("job", job.ID, "path", job.Path)

	ctx, span := imp.tracer.Start(ctx, "chimp.import", trace.WithAttributes(
		attribute.String("import.job_id", job.ID),
		attribute.String("import.path", job.Path),
	))

	var last parse.ParseProgress
	undelivered := false
	emit := func(p parse.ParseProgress) {
		last, undelivered = p, true
		// this goroutine is the only sender, so a free slot stays free
		if len(progress) < cap(progress)-1 {
			progress <- p
			undelivered = false
		}
		imp.publish(ctx, notify.Event{
			JobID: job.ID, Path: job.Path, Kind: notify.KindProgress,
			Stage: string(p.Stage), Percentage: p.Percentage,
		})
	}

	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(
			attribute.String("import.format", res.Format),
			attribute.String("import.session_id", res.SessionID),
			attribute.Int("import.members", res.Members),
			attribute.Int("import.messages", res.Messages),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, string(parse.CodeOf(res.Err)))
			log.Warn("import failed", "error", res.Err, "session", res.SessionID)
		} else {
			span.SetStatus(codes.Ok, "")
			log.Info("import complete", "session", res.SessionID, "format", res.Format,
				"messages", res.Messages, "duration", res.Duration)
		}
		span.End()
		imp.publishResult(context.WithoutCancel(ctx), res)

		if undelivered {
			progress <- last
		}
		close(progress)
		done <- res
		close(done)
	}()

	if imp.persister == nil {
		res.Err = errors.New("importer has no session store")
		return
	}
	if err := imp.limiter.Acquire(ctx); err != nil {
		res.Err = err
		return
	}
	defer imp.limiter.Release()

	imp.publish(ctx, notify.Event{JobID: job.ID, Path: job.Path, Kind: notify.KindStarted})
	res.Err = imp.execute(ctx, job, start, log, span, emit, &res)
}

func (imp *Importer) execute(ctx context.Context, job *Job, start time.Time, log *slog.Logger, span trace.Span, emit func(parse.ParseProgress), res *Result) (err error) {
	path := job.Path
	emit(parse.ParseProgress{Stage: parse.StageDetecting})

	mod, ok := imp.registry.Module(path)
	if !ok {
		return parse.Unrecognized(path, imp.registry.Diagnose(path))
	}
	res.Format = mod.Feature.ID
	span.AddEvent("format.detected", trace.WithAttributes(attribute.String("format", mod.Feature.ID)))

	info, err := os.Stat(path)
	if err != nil {
		return parse.Wrap(err, parse.CodeIO, path, "stat input")
	}

	sctx, cancel := context.WithCancel(ctx)
	events := parse.Stream(sctx, mod, imp.parseOptions(parse.ParseOptions{
		FilePath: path,
		OnLog:    logBridge(ctx, log),
	}))
	// the producer is gone, and its temp files with it, before we return
	defer func() {
		cancel()
		for range events {
		}
	}()

	var sess SessionWriter
	defer func() {
		if sess == nil {
			return
		}
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = parse.Wrap(cerr, parse.CodePersistence, path, "close session")
		}
	}()

	for ev := range events {
		switch ev.Kind {
		case parse.EventMeta:
			res.Name, res.Platform = ev.Meta.Name, ev.Meta.Platform
			src := store.Source{Path: path, Format: mod.Feature.ID, Size: info.Size()}
			sess, err = imp.persister.Begin(ctx, *ev.Meta, src)
			if err != nil {
				return persistErr(ctx, err, path, "create session")
			}
			res.SessionID = sess.SessionID()
			span.AddEvent("session.created", trace.WithAttributes(attribute.String("session_id", res.SessionID)))

		case parse.EventMembers:
			if err := sess.AppendMembers(ctx, ev.Members); err != nil {
				return persistErr(ctx, err, path, "append members")
			}
			res.Members += len(ev.Members)
			span.AddEvent("batch.members", trace.WithAttributes(attribute.Int("count", len(ev.Members))))

		case parse.EventMessages:
			if err := sess.AppendMessages(ctx, ev.Messages); err != nil {
				return persistErr(ctx, err, path, "append messages")
			}
			res.Messages += len(ev.Messages)
			span.AddEvent("batch.messages", trace.WithAttributes(attribute.Int("count", len(ev.Messages))))

		case parse.EventProgress:
			emit(*ev.Progress)

		case parse.EventError:
			return ev.Err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if sess == nil {
		return parse.Errorf(parse.CodeParse, path, "stream ended without meta")
	}
	if err := sess.Finish(ctx, store.Stats{Duration: time.Since(start)}); err != nil {
		return persistErr(ctx, err, path, "finish session")
	}
	return nil
}

// ImportAll imports every path with at most MaxConcurrent running at once.
// onProgress, if set, is called from the import goroutines concurrently.
// Results are in input order; per-file failures are in Result.Err.
func (imp *Importer) ImportAll(ctx context.Context, paths []string, onProgress func(path string, p parse.ParseProgress)) []Result {
	results := make([]Result, len(paths))
	var g errgroup.Group
	g.SetLimit(imp.limiter.Status().MaxConcurrent)
	for i, path := range paths {
		g.Go(func() error {
			job := imp.Import(ctx, path)
			for p := range job.Progress {
				if onProgress != nil {
					onProgress(path, p)
				}
			}
			results[i] = <-job.Done
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (imp *Importer) parseOptions(o parse.ParseOptions) parse.ParseOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = imp.opts.BatchSize
	}
	if o.PreprocessThreshold <= 0 {
		o.PreprocessThreshold = imp.opts.PreprocessThreshold
	}
	if o.TempDir == "" {
		o.TempDir = imp.opts.TempDir
	}
	if o.Location == nil {
		o.Location = imp.opts.Location
	}
	return o.Defaults()
}

func (imp *Importer) publish(ctx context.Context, ev notify.Event) {
	if err := imp.publisher.Publish(ctx, ev); err != nil {
		imp.logger.Debug("publish import event", "kind", ev.Kind, "error", err)
	}
}

func (imp *Importer) publishResult(ctx context.Context, res Result) {
	ev := notify.Event{
		JobID:     res.JobID,
		Path:      res.Path,
		Kind:      notify.KindDone,
		SessionID: res.SessionID,
		Format:    res.Format,
		Messages:  res.Messages,
	}
	if res.Err != nil {
		ev.Kind = notify.KindFailed
		ev.Error = res.Err.Error()
		ev.Code = string(parse.CodeOf(res.Err))
	}
	imp.publish(ctx, ev)
}

func persistErr(ctx context.Context, err error, path, message string) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}
	return parse.Wrap(err, parse.CodePersistence, path, message)
}

func logBridge(ctx context.Context, log *slog.Logger) func(parse.LogLevel, string) {
	return func(level parse.LogLevel, msg string) {
		lvl := slog.LevelInfo
		switch level {
		case parse.LogWarn:
			lvl = slog.LevelWarn
		case parse.LogError:
			lvl = slog.LevelError
		}
		log.Log(ctx, lvl, msg, "source", "parser")
	}
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Path, r.Err)
	}
	return fmt.Sprintf("%s: session %s (%s, %d messages)", r.Path, r.SessionID, r.Format, r.Messages)
}
