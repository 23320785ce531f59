package parse

import (
	"context"
	"fmt"
	"time"
)

const (
	progressInterval = 100 * time.Millisecond
	tickEvery        = 256
)

// Emitter is the parser side of a stream. It enforces event ordering, cuts
// members and messages into batches of ParseOptions.BatchSize and throttles
// progress. It is not safe for concurrent use; one parser owns it.
type Emitter struct {
	ctx  context.Context
	out  chan<- Event
	opts ParseOptions

	metaSent bool
	members  []ParsedMember
	messages []ParsedMessage

	processed int
	ticks     int

	counter  *CountingReader
	base     float64
	span     float64
	stage    Stage
	lastPct  float64
	lastSent time.Time
	now      func() time.Time
}

func newEmitter(ctx context.Context, out chan<- Event, opts ParseOptions) *Emitter {
	return &Emitter{
		ctx:  ctx,
		out:  out,
		opts: opts,
		span: 100,
		now:  time.Now,
	}
}

// Track makes progress percentages follow the bytes consumed by c.
func (e *Emitter) Track(c *CountingReader) {
	e.counter = c
}

// MetaSent reports whether Meta has been called.
func (e *Emitter) MetaSent() bool {
	return e.metaSent
}

// Processed returns the number of messages accepted so far.
func (e *Emitter) Processed() int {
	return e.processed
}

func (e *Emitter) Meta(m ParsedMeta) error {
	if e.metaSent {
		return Errorf(CodeParse, e.opts.FilePath, "%v", errMetaDuplicate)
	}
	e.metaSent = true
	return e.send(Event{Kind: EventMeta, Meta: &m})
}

func (e *Emitter) Member(m ParsedMember) error {
	if !e.metaSent {
		return Errorf(CodeParse, e.opts.FilePath, "%v", errMetaMissing)
	}
	e.members = append(e.members, m)
	if len(e.members) >= e.opts.BatchSize {
		return e.flushMembers()
	}
	return nil
}

func (e *Emitter) Message(m ParsedMessage) error {
	if !e.metaSent {
		return Errorf(CodeParse, e.opts.FilePath, "%v", errMetaMissing)
	}
	e.messages = append(e.messages, m)
	e.processed++
	if len(e.messages) >= e.opts.BatchSize {
		if err := e.flushMessages(); err != nil {
			return err
		}
		return e.Progress(StageParsing, "")
	}
	return nil
}

// Flush emits any buffered members and messages.
func (e *Emitter) Flush() error {
	if err := e.flushMembers(); err != nil {
		return err
	}
	return e.flushMessages()
}

func (e *Emitter) flushMembers() error {
	if len(e.members) == 0 {
		return nil
	}
	batch := e.members
	e.members = make([]ParsedMember, 0, len(batch))
	return e.send(Event{Kind: EventMembers, Members: batch})
}

// flushMessages always flushes pending members first so every sender is
// declared no later than the batch that references it.
func (e *Emitter) flushMessages() error {
	if err := e.flushMembers(); err != nil {
		return err
	}
	if len(e.messages) == 0 {
		return nil
	}
	batch := e.messages
	e.messages = make([]ParsedMessage, 0, len(batch))
	return e.send(Event{Kind: EventMessages, Messages: batch})
}

// Tick is called once per consumed record and reports progress at a
// bounded cadence.
func (e *Emitter) Tick() error {
	e.ticks++
	if e.ticks%tickEvery != 0 {
		return nil
	}
	return e.Progress(StageParsing, "")
}

// Progress emits a progress event unless one for the same stage was sent
// within progressInterval. Percentages never decrease.
func (e *Emitter) Progress(stage Stage, message string) error {
	pct := e.lastPct
	if e.counter != nil {
		pct = e.base + e.span*e.counter.Percent()/100
	}
	return e.progress(stage, pct, message, false)
}

func (e *Emitter) passProgress(stage Stage, read, total int64) error {
	pct := e.lastPct
	if total > 0 {
		pct = e.base + e.span*float64(read)/float64(total)
	}
	return e.progress(stage, pct, "", false)
}

func (e *Emitter) progress(stage Stage, pct float64, message string, force bool) error {
	now := e.now()
	if !force && stage == e.stage && now.Sub(e.lastSent) < progressInterval {
		return nil
	}
	if pct < e.lastPct {
		pct = e.lastPct
	}
	if pct > 100 {
		pct = 100
	}
	e.stage = stage
	e.lastPct = pct
	e.lastSent = now

	p := ParseProgress{
		Stage:             stage,
		Percentage:        pct,
		MessagesProcessed: e.processed,
		Message:           message,
	}
	if e.counter != nil {
		p.BytesRead = e.counter.BytesRead
		p.TotalBytes = e.counter.Total
	}
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(p)
	}
	return e.send(Event{Kind: EventProgress, Progress: &p})
}

// Log forwards a diagnostic line to ParseOptions.OnLog.
func (e *Emitter) Log(level LogLevel, format string, args ...any) {
	if e.opts.OnLog != nil {
		e.opts.OnLog(level, fmt.Sprintf(format, args...))
	}
}

func (e *Emitter) setPass(base, span float64) {
	e.base = base
	e.span = span
	e.counter = nil
}

func (e *Emitter) finish() error {
	if err := e.Flush(); err != nil {
		return err
	}
	if !e.metaSent {
		return Errorf(CodeParse, e.opts.FilePath, "no chat data found")
	}
	if e.counter != nil {
		e.counter.BytesRead = e.counter.Total
	}
	return e.progress(StageDone, 100, "", true)
}

func (e *Emitter) send(ev Event) error {
	select {
	case e.out <- ev:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

func (e *Emitter) fail(err error) {
	select {
	case e.out <- Event{Kind: EventError, Err: err}:
	case <-e.ctx.Done():
	}
}
