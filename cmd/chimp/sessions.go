package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chimp/internal/render"
	"github.com/Zuo-Peng/chimp/internal/store"
	"github.com/Zuo-Peng/chimp/internal/tui"
)

func sessionsCmd() *cobra.Command {
	var platform string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse imported sessions, newest first",
		Long: `Opens a TUI listing every imported session when stdout is a terminal.
Type to search message content. Otherwise prints a TSV table:
  id, imported, platform, messages, members, name`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			if !asJSON && isTerminal(os.Stdout) {
				return tui.Browse(a.store, store.SearchOptions{Platform: platform, Limit: 200}, cmd.OutOrStdout())
			}

			sessions, err := a.store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			var out []store.SessionInfo
			for _, s := range sessions {
				if platform == "" || s.Platform == platform {
					out = append(out, s)
				}
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, out)
			}
			for _, s := range out {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					s.ID, s.ImportedAt.In(a.loc).Format("2006-01-02 15:04"), s.Platform,
					s.MessageCount, s.MemberCount, render.Truncate(s.Name, 60))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "Only sessions from this platform")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete imported sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			for _, id := range args {
				if err := a.store.DeleteSession(id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}
