package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chimp/internal/render"
	"github.com/Zuo-Peng/chimp/internal/store"
)

func showCmd() *cobra.Command {
	var hit int64
	var context int
	var query string
	var members, history bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's messages, optionally around a search hit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			sess, err := a.store.OpenSession(ctx, args[0])
			if err != nil {
				return err
			}
			defer sess.Close()

			w := cmd.OutOrStdout()
			if members {
				return printMembers(cmd, sess, w, history)
			}

			width := 0
			if isTerminal(os.Stdout) {
				width = terminalWidth()
			}
			out, _, err := render.Conversation(ctx, sess, render.Options{
				HitMessageID: hit,
				Context:      context,
				Width:        width,
				Query:        query,
				Location:     a.loc,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(w, out)
			return nil
		},
	}

	cmd.Flags().Int64Var(&hit, "hit", -1, "Message ID to center on (from 'chimp search')")
	cmd.Flags().IntVar(&context, "context", 10, "Messages before/after the hit to show")
	cmd.Flags().StringVar(&query, "query", "", "Search query for keyword highlighting")
	cmd.Flags().BoolVar(&members, "members", false, "List members instead of messages")
	cmd.Flags().BoolVar(&history, "history", false, "With --members, include earlier names")
	return cmd
}

func printMembers(cmd *cobra.Command, sess *store.Session, w io.Writer, history bool) error {
	ctx := cmd.Context()
	list, err := sess.Members(ctx)
	if err != nil {
		return err
	}
	for _, m := range list {
		var flags []string
		if m.IsBot {
			flags = append(flags, "bot")
		}
		if m.Placeholder {
			flags = append(flags, "undeclared")
		}
		if m.Role != "" {
			flags = append(flags, m.Role)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.PlatformID, m.Name, m.AccountName, strings.Join(flags, ","))
		if !history {
			continue
		}
		names, err := sess.NameHistory(ctx, m.PlatformID)
		if err != nil {
			return err
		}
		if len(names) < 2 {
			continue
		}
		for _, n := range names {
			fmt.Fprintf(w, "\t  %s  %s\n", n.Since.Format("2006-01-02"), n.Name)
		}
	}
	return nil
}
