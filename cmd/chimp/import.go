package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chimp/internal/importer"
	"github.com/Zuo-Peng/chimp/internal/parse"
	"github.com/Zuo-Peng/chimp/internal/render"
	"github.com/Zuo-Peng/chimp/internal/scan"
	"github.com/Zuo-Peng/chimp/internal/tui"
)

func importCmd() *cobra.Command {
	var asJSON, plain bool

	cmd := &cobra.Command{
		Use:   "import <file-or-dir>...",
		Short: "Import chat exports into the session store",
		Long: `Imports each file into its own session. Directories are searched for
files with a supported extension. Each imported session id is printed; use
'chimp show <id>' to read it back.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{store: true, wire: true})
			if err != nil {
				return err
			}
			defer a.close()

			files, err := scan.Expand(args, a.registry.Extensions())
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no importable files found")
			}
			paths := scan.Paths(files)

			var results []importer.Result
			if !plain && !asJSON && isTerminal(os.Stdout) {
				results, err = tui.Import(cmd.Context(), a.imp, paths)
				if err != nil {
					return err
				}
			} else {
				var mu sync.Mutex
				last := map[string]parse.Stage{}
				results = a.imp.ImportAll(cmd.Context(), paths, func(path string, p parse.ParseProgress) {
					mu.Lock()
					defer mu.Unlock()
					if last[path] != p.Stage {
						last[path] = p.Stage
						fmt.Fprintf(os.Stderr, "%s: %s\n", filepath.Base(path), p.Stage)
					}
				})
			}

			if asJSON {
				type row struct {
					Path      string `json:"path"`
					SessionID string `json:"sessionId,omitempty"`
					Format    string `json:"format,omitempty"`
					Members   int    `json:"members"`
					Messages  int    `json:"messages"`
					Error     string `json:"error,omitempty"`
					Code      string `json:"code,omitempty"`
				}
				rows := make([]row, len(results))
				for i, r := range results {
					rows[i] = row{Path: r.Path, SessionID: r.SessionID, Format: r.Format, Members: r.Members, Messages: r.Messages}
					if r.Err != nil {
						rows[i].Error, rows[i].Code = r.Err.Error(), string(parse.CodeOf(r.Err))
					}
				}
				if err := printJSON(cmd.OutOrStdout(), rows); err != nil {
					return err
				}
			} else {
				tui.Summary(cmd.OutOrStdout(), results)
				for _, r := range results {
					if d, ok := parse.DiagnosisOf(r.Err); ok {
						fmt.Fprintln(os.Stderr)
						fmt.Fprint(os.Stderr, render.Diagnosis(*d, isTerminal(os.Stderr)))
					}
				}
			}

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d import(s) failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain progress lines instead of the interactive view")
	return cmd
}
