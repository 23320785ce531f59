package parse

import (
	"context"
	"regexp"
	"time"
)

// Platform identifiers shared by formats and the store.
const (
	PlatformChatLab  = "chatlab"
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
	PlatformWhatsApp = "whatsapp"
	PlatformLine     = "line"
	PlatformUnknown  = "unknown"
)

// ChatType is the kind of conversation a file holds.
type ChatType string

const (
	ChatGroup   ChatType = "group"
	ChatPrivate ChatType = "private"
)

// FieldPattern is a named regular expression that must match somewhere in
// the head window. The name is reported in diagnoses.
type FieldPattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// Signatures are the content checks applied to the head window of a file.
type Signatures struct {
	Head           []*regexp.Regexp // at least one must match
	RequiredFields []string         // "a.b" checks each segment
	FieldPatterns  []FieldPattern   // all must match
}

// FormatFeature describes one supported export format. It is immutable once
// registered.
type FormatFeature struct {
	ID         string
	Name       string
	Platform   string
	Priority   int // lower is tried first
	Extensions []string
	Signatures Signatures
}

// Parser turns one file into a sequence of events emitted through e.
// Returning an error ends the stream with a terminal error event.
type Parser interface {
	Parse(ctx context.Context, opts ParseOptions, e *Emitter) error
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, opts ParseOptions, e *Emitter) error

func (f ParserFunc) Parse(ctx context.Context, opts ParseOptions, e *Emitter) error {
	return f(ctx, opts, e)
}

// Rewritten is the result of a preprocessing pass: an intermediate file and
// the parser that reads it.
type Rewritten struct {
	Path   string
	Parser Parser
}

// Preprocessor rewrites inputs that cannot be streamed in a single pass.
// NeedsPreprocess is only consulted for files of at least
// ParseOptions.PreprocessThreshold bytes.
type Preprocessor interface {
	NeedsPreprocess(path string, size int64) bool
	Preprocess(ctx context.Context, opts ParseOptions, progress func(read, total int64)) (Rewritten, error)
}

// Module pairs a FormatFeature with its parser and optional preprocessor.
type Module struct {
	Feature      FormatFeature
	Parser       Parser
	Preprocessor Preprocessor
}

// DefaultBatchSize is used when ParseOptions.BatchSize is not positive.
const DefaultBatchSize = 5000

// DefaultPreprocessThreshold is the input size above which bulk JSON formats
// are rewritten to line-delimited form before parsing.
const DefaultPreprocessThreshold = 64 << 20

type ParseOptions struct {
	FilePath   string
	BatchSize  int
	OnProgress func(ParseProgress)
	OnLog      func(level LogLevel, msg string)

	// TempDir holds preprocessing intermediates. Empty means os.TempDir.
	TempDir             string
	PreprocessThreshold int64

	// Location is used by transcript formats whose timestamps carry no zone.
	Location *time.Location
}

// Defaults returns o with zero fields replaced by their defaults.
func (o ParseOptions) Defaults() ParseOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PreprocessThreshold <= 0 {
		o.PreprocessThreshold = DefaultPreprocessThreshold
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

type ParsedMeta struct {
	Name     string            `json:"name"`
	Platform string            `json:"platform"`
	Type     ChatType          `json:"type,omitempty"`
	GroupID  string            `json:"groupId,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// ParsedMember is one participant. A member re-emitted with a different Name
// records a name change effective from NameSince.
type ParsedMember struct {
	PlatformID  string `json:"platformId"`
	Name        string `json:"name"`
	AccountName string `json:"accountName,omitempty"`
	Role        string `json:"role,omitempty"`
	IsBot       bool   `json:"isBot,omitempty"`
	NameSince   int64  `json:"nameSince,omitempty"`
}

type ParsedMessage struct {
	SenderID          string            `json:"senderId"`
	SenderName        string            `json:"senderName"`
	Timestamp         int64             `json:"timestamp"` // epoch seconds
	Type              MessageType       `json:"type"`
	Content           string            `json:"content"`
	PlatformMessageID string            `json:"platformMessageId,omitempty"`
	ReplyToMessageID  string            `json:"replyToMessageId,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Stage is the phase reported by progress events.
type Stage string

const (
	StageDetecting Stage = "detecting"
	StageReading   Stage = "reading"
	StageParsing   Stage = "parsing"
	StageSaving    Stage = "saving"
	StageDone      Stage = "done"
	StageError     Stage = "error"
)

type ParseProgress struct {
	Stage             Stage   `json:"stage"`
	Percentage        float64 `json:"percentage"`
	BytesRead         int64   `json:"bytesRead"`
	TotalBytes        int64   `json:"totalBytes"`
	MessagesProcessed int     `json:"messagesProcessed"`
	Message           string  `json:"message,omitempty"`
}

// EventKind tags the populated field of an Event.
type EventKind int

const (
	EventMeta EventKind = iota
	EventMembers
	EventMessages
	EventProgress
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMeta:
		return "meta"
	case EventMembers:
		return "members"
	case EventMessages:
		return "messages"
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one element of a parse stream. Exactly one payload field is set,
// selected by Kind.
type Event struct {
	Kind     EventKind
	Meta     *ParsedMeta
	Members  []ParsedMember
	Messages []ParsedMessage
	Progress *ParseProgress
	Err      error
}

// FormatMatchCheck records how one format fared against a file.
type FormatMatchCheck struct {
	FormatID       string   `json:"formatId"`
	FormatName     string   `json:"formatName"`
	Priority       int      `json:"priority"`
	ExtensionMatch bool     `json:"extensionMatch"`
	SignatureMatch bool     `json:"signatureMatch"`
	FieldsMatch    bool     `json:"fieldsMatch"`
	MissingFields  []string `json:"missingFields,omitempty"`
	PatternsMatch  bool     `json:"patternsMatch"`
	FailedPatterns []string `json:"failedPatterns,omitempty"`
}

// Full reports whether every check passed.
func (c FormatMatchCheck) Full() bool {
	return c.ExtensionMatch && c.SignatureMatch && c.FieldsMatch && c.PatternsMatch
}

// FormatDiagnosis explains why a file was or was not recognized.
type FormatDiagnosis struct {
	Path           string             `json:"path"`
	Extension      string             `json:"extension"`
	ReadError      string             `json:"readError,omitempty"`
	Matched        *FormatMatchCheck  `json:"matched,omitempty"`
	Checks         []FormatMatchCheck `json:"checks"`
	PartialMatches []FormatMatchCheck `json:"partialMatches"`
	BestMatch      *FormatMatchCheck  `json:"bestMatch,omitempty"`
	Suggestion     string             `json:"suggestion"`
}
