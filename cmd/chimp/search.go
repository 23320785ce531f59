package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chimp/internal/store"
	"github.com/Zuo-Peng/chimp/internal/tui"
)

const (
	sColorReset   = "\033[0m"
	sColorBoldRed = "\033[1;31m"
	sColorBlue    = "\033[1;34m"
	sColorDim     = "\033[2m"
)

func colorizeSnippet(snippet string) string {
	snippet = strings.ReplaceAll(snippet, ">>>", sColorBoldRed)
	snippet = strings.ReplaceAll(snippet, "<<<", sColorReset)
	return snippet
}

func searchCmd() *cobra.Command {
	var session, platform, sender, since string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across imported messages",
		Long: `Search message content in every imported session. Output is TSV for fzf:
  sessionId, messageId, time, platform, session, sender, snippet

Recommended shell function (add to .zshrc):
  chimpf() {
    chimp search "$*" | fzf \
      --ansi \
      --delimiter='\t' --with-nth=3.. \
      --preview 'chimp show {1} --hit {2} --context 5 --query {q}' \
      --preview-window=right:60%:wrap \
      --preview-debounce=150
  }`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			opts := store.SearchOptions{
				Session:  session,
				Platform: platform,
				Sender:   sender,
				Limit:    limit,
			}
			if since != "" {
				t, err := time.ParseInLocation("2006-01-02", since, a.loc)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				opts.Since = t
			}

			// Interactive TUI when stdout is a terminal; TSV output for pipes
			if isTerminal(os.Stdout) {
				return tui.Search(a.store, args[0], opts, cmd.OutOrStdout())
			}

			opts.Query = args[0]
			hits, err := a.store.Search(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintln(os.Stderr, "No results found.")
				return nil
			}

			w := cmd.OutOrStdout()
			for _, h := range hits {
				snippet := strings.ReplaceAll(h.Snippet, "\t", " ")
				snippet = strings.ReplaceAll(snippet, "\n", " ")
				snippet = colorizeSnippet(snippet)
				name := strings.ReplaceAll(h.SessionName, "\t", " ")
				// first two fields (sessionId, messageId) stay plain for fzf {1} {2}
				fmt.Fprintf(w, "%s\t%d\t%s%s%s\t%s%s%s\t%s\t%s\t%s\n",
					h.SessionID,
					h.MessageID,
					sColorDim, h.Timestamp.In(a.loc).Format("2006-01-02 15:04"), sColorReset,
					sColorBlue, h.Platform, sColorReset,
					name,
					h.SenderName,
					snippet,
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Only search this session id")
	cmd.Flags().StringVar(&platform, "platform", "", "Filter by platform (telegram, whatsapp, ...)")
	cmd.Flags().StringVar(&sender, "sender", "", "Filter by sender id or name")
	cmd.Flags().StringVar(&since, "since", "", "Only messages since date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max results")
	return cmd
}
