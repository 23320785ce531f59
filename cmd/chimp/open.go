package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chimp/internal/open"
)

func openCmd() *cobra.Command {
	var hit int64

	cmd := &cobra.Command{
		Use:   "open <session-id>",
		Short: "Open the export file a session came from in $EDITOR",
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
			info, err := sess.Info(ctx)
			if err != nil {
				sess.Close()
				return err
			}

			line := 1
			if hit >= 0 {
				msgs, idx, _, _, err := sess.MessagesWindow(ctx, hit, 0)
				if err == nil && idx >= 0 {
					if line, err = open.FindLine(info.SourcePath, msgs[idx].Content); err != nil {
						a.logger.Debug("locate message in source", "error", err)
					}
				}
			}
			// release the database before handing the terminal to the editor
			if err := sess.Close(); err != nil {
				return fmt.Errorf("close session: %w", err)
			}
			return open.Source(info.SourcePath, line)
		},
	}

	cmd.Flags().Int64Var(&hit, "hit", -1, "Message ID to jump to")
	return cmd
}
