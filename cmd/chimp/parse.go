package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chimp/internal/importer"
	"github.com/Zuo-Peng/chimp/internal/parse"
	"github.com/Zuo-Peng/chimp/internal/render"
)

func parseCmd() *cobra.Command {
	var asJSON, dump bool

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a file without importing it",
		Long: `Parses the file and prints a summary. With --dump every record is written
to stdout as one JSON object per line while the file is still being read:
  {"kind":"meta","data":{...}}
  {"kind":"members","data":[...]}
  {"kind":"messages","data":[...]}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			opts := parse.ParseOptions{FilePath: args[0]}
			w := cmd.OutOrStdout()
			if dump {
				err = dumpFile(cmd, a, opts, w)
			} else {
				var info *importer.FileInfo
				info, err = a.imp.ParseFileInfo(cmd.Context(), opts)
				switch {
				case err != nil:
				case asJSON:
					return printJSON(w, info)
				default:
					printFileInfo(w, info)
					return nil
				}
			}

			if d, ok := parse.DiagnosisOf(err); ok {
				fmt.Fprint(os.Stderr, render.Diagnosis(*d, isTerminal(os.Stderr)))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the summary as JSON")
	cmd.Flags().BoolVar(&dump, "dump", false, "Stream all parsed records as JSON lines")
	return cmd
}

func dumpFile(cmd *cobra.Command, a *app, opts parse.ParseOptions, w io.Writer) error {
	enc := json.NewEncoder(w)
	line := func(kind string, v any) error {
		return enc.Encode(struct {
			Kind string `json:"kind"`
			Data any    `json:"data"`
		}{kind, v})
	}
	return a.imp.StreamFile(cmd.Context(), opts, parse.Callbacks{
		OnMeta:         func(m parse.ParsedMeta) error { return line("meta", m) },
		OnMembers:      func(m []parse.ParsedMember) error { return line("members", m) },
		OnMessageBatch: func(m []parse.ParsedMessage) error { return line("messages", m) },
	})
}

func printFileInfo(w io.Writer, info *importer.FileInfo) {
	fmt.Fprintf(w, "name:     %s\n", info.Name)
	fmt.Fprintf(w, "format:   %s\n", info.Format)
	fmt.Fprintf(w, "platform: %s\n", info.Platform)
	fmt.Fprintf(w, "members:  %d\n", info.MemberCount)
	fmt.Fprintf(w, "messages: %d\n", info.MessageCount)
	fmt.Fprintf(w, "size:     %.1f MB\n", float64(info.FileSize)/1024/1024)
}
