package parse

// The helpers below are projections over one event stream. A consumer that
// stops early must cancel the context passed to Stream so the producer exits.

// Result is a fully materialized parse.
type Result struct {
	Meta     ParsedMeta
	Members  []ParsedMember
	Messages []ParsedMessage
}

// Collect gathers every member and message in emission order. A member
// re-declared under a new name appears once per declaration, so the name
// history survives; collapsing is left to the store.
func Collect(events <-chan Event) (*Result, error) {
	var res Result
	var haveMeta bool
	for ev := range events {
		switch ev.Kind {
		case EventMeta:
			res.Meta = *ev.Meta
			haveMeta = true
		case EventMembers:
			res.Members = append(res.Members, ev.Members...)
		case EventMessages:
			res.Messages = append(res.Messages, ev.Messages...)
		case EventError:
			return nil, ev.Err
		}
	}
	if !haveMeta {
		return nil, Errorf(CodeParse, "", "stream ended without meta")
	}
	return &res, nil
}

// Summary holds counts without message bodies.
type Summary struct {
	Meta         ParsedMeta
	MemberCount  int
	MessageCount int
}

// Summarize counts distinct members and all messages, optionally reporting
// progress.
func Summarize(events <-chan Event, onProgress func(ParseProgress)) (*Summary, error) {
	var s Summary
	var haveMeta bool
	seen := make(map[string]struct{})
	for ev := range events {
		switch ev.Kind {
		case EventMeta:
			s.Meta = *ev.Meta
			haveMeta = true
		case EventMembers:
			for _, m := range ev.Members {
				seen[m.PlatformID] = struct{}{}
			}
		case EventMessages:
			s.MessageCount += len(ev.Messages)
		case EventProgress:
			if onProgress != nil {
				onProgress(*ev.Progress)
			}
		case EventError:
			return nil, ev.Err
		}
	}
	if !haveMeta {
		return nil, Errorf(CodeParse, "", "stream ended without meta")
	}
	s.MemberCount = len(seen)
	return &s, nil
}

// Callbacks receive stream events one at a time. Any nil callback is
// skipped; an error from a callback stops the walk.
type Callbacks struct {
	OnProgress     func(ParseProgress)
	OnMeta         func(ParsedMeta) error
	OnMembers      func([]ParsedMember) error
	OnMessageBatch func([]ParsedMessage) error
	OnLog          func(level LogLevel, msg string)
}

func Walk(events <-chan Event, cb Callbacks) error {
	for ev := range events {
		var err error
		switch ev.Kind {
		case EventMeta:
			if cb.OnMeta != nil {
				err = cb.OnMeta(*ev.Meta)
			}
		case EventMembers:
			if cb.OnMembers != nil {
				err = cb.OnMembers(ev.Members)
			}
		case EventMessages:
			if cb.OnMessageBatch != nil {
				err = cb.OnMessageBatch(ev.Messages)
			}
		case EventProgress:
			if cb.OnProgress != nil {
				cb.OnProgress(*ev.Progress)
			}
		case EventError:
			return ev.Err
		}
		if err != nil {
			return err
		}
	}
	return nil
}
