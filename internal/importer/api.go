package importer

import (
	"context"
	"os"

	"github.com/Zuo-Peng/chimp/internal/parse"
)

func (imp *Importer) DetectFormat(path string) (parse.FormatFeature, bool) {
	return imp.registry.Sniff(path)
}

func (imp *Importer) DiagnoseFormat(path string) parse.FormatDiagnosis {
	return imp.registry.Diagnose(path)
}

func (imp *Importer) SupportedFormats() []parse.FormatFeature {
	return imp.registry.Formats()
}

// ParseFile selects a parser for opts.FilePath and starts streaming it.
// Zero options fall back to the importer's settings. The caller must drain
// the channel or cancel ctx.
func (imp *Importer) ParseFile(ctx context.Context, opts parse.ParseOptions) (<-chan parse.Event, error) {
	mod, ok := imp.registry.Module(opts.FilePath)
	if !ok {
		return nil, parse.Unrecognized(opts.FilePath, imp.registry.Diagnose(opts.FilePath))
	}
	if opts.OnLog == nil {
		opts.OnLog = logBridge(ctx, imp.logger.With("path", opts.FilePath))
	}
	return parse.Stream(ctx, mod, imp.parseOptions(opts)), nil
}

// ParseFileSync materializes the whole file. Only suitable for inputs that
// fit in memory.
func (imp *Importer) ParseFileSync(ctx context.Context, opts parse.ParseOptions) (*parse.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := imp.ParseFile(ctx, opts)
	if err != nil {
		return nil, err
	}
	return parse.Collect(events)
}

// FileInfo summarizes a file without keeping its messages.
type FileInfo struct {
	Name         string `json:"name"`
	Format       string `json:"format"`
	Platform     string `json:"platform"`
	MessageCount int    `json:"messageCount"`
	MemberCount  int    `json:"memberCount"`
	FileSize     int64  `json:"fileSize"`
}

func (imp *Importer) ParseFileInfo(ctx context.Context, opts parse.ParseOptions) (*FileInfo, error) {
	st, err := os.Stat(opts.FilePath)
	if err != nil {
		return nil, parse.Wrap(err, parse.CodeIO, opts.FilePath, "stat input")
	}
	feature, ok := imp.registry.Sniff(opts.FilePath)
	if !ok {
		return nil, parse.Unrecognized(opts.FilePath, imp.registry.Diagnose(opts.FilePath))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := imp.ParseFile(ctx, opts)
	if err != nil {
		return nil, err
	}
	sum, err := parse.Summarize(events, nil)
	if err != nil {
		return nil, err
	}
	return &FileInfo{
		Name:         sum.Meta.Name,
		Format:       feature.ID,
		Platform:     sum.Meta.Platform,
		MessageCount: sum.MessageCount,
		MemberCount:  sum.MemberCount,
		FileSize:     st.Size(),
	}, nil
}

// StreamFile parses opts.FilePath and hands each event to cb. An error
// returned by a callback stops parsing.
func (imp *Importer) StreamFile(ctx context.Context, opts parse.ParseOptions, cb parse.Callbacks) error {
	if cb.OnLog != nil && opts.OnLog == nil {
		opts.OnLog = cb.OnLog
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := imp.ParseFile(ctx, opts)
	if err != nil {
		return err
	}
	err = parse.Walk(events, cb)
	cancel()
	for range events {
	}
	return err
}
