package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Zuo-Peng/chimp/internal/render"
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return w
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func detectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "detect <file>...",
		Short: "Report which export format each file is",
		Long: `Prints one tab-separated line per file: path, format id, format name.
Files no format accepts are reported as "-" and make the command fail.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			type detection struct {
				Path   string `json:"path"`
				Format string `json:"format,omitempty"`
				Name   string `json:"name,omitempty"`
			}
			var out []detection
			unknown := 0
			for _, path := range args {
				d := detection{Path: path}
				if f, ok := a.imp.DetectFormat(path); ok {
					d.Format, d.Name = f.ID, f.Name
				} else {
					unknown++
				}
				out = append(out, d)
			}

			w := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(w, out); err != nil {
					return err
				}
			} else {
				for _, d := range out {
					if d.Format == "" {
						fmt.Fprintf(w, "%s\t-\tunrecognized\n", d.Path)
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", d.Path, d.Format, d.Name)
				}
			}
			if unknown > 0 {
				return fmt.Errorf("%d of %d file(s) unrecognized; run 'chimp diagnose <file>' for details", unknown, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func diagnoseCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diagnose <file>",
		Short: "Explain which format checks a file passes and fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			d := a.imp.DiagnoseFormat(args[0])
			if asJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Diagnosis(d, isTerminal(os.Stdout)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func formatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List supported export formats in detection order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			formats := a.imp.SupportedFormats()
			w := cmd.OutOrStdout()
			if asJSON {
				type row struct {
					ID         string   `json:"id"`
					Name       string   `json:"name"`
					Platform   string   `json:"platform"`
					Priority   int      `json:"priority"`
					Extensions []string `json:"extensions"`
				}
				rows := make([]row, len(formats))
				for i, f := range formats {
					rows[i] = row{f.ID, f.Name, f.Platform, f.Priority, f.Extensions}
				}
				return printJSON(w, rows)
			}
			fmt.Fprintf(w, "%s %s %s %s\n", render.Pad("ID", 14), render.Pad("PLATFORM", 10), render.Pad("EXT", 8), "NAME")
			for _, f := range formats {
				exts := ""
				for i, e := range f.Extensions {
					if i > 0 {
						exts += ","
					}
					exts += e
				}
				fmt.Fprintf(w, "%s %s %s %s\n", render.Pad(f.ID, 14), render.Pad(f.Platform, 10), render.Pad(exts, 8), f.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
