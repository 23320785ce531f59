package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Zuo-Peng/chimp/internal/render"
	"github.com/Zuo-Peng/chimp/internal/store"
)

// previewRenderedMsg is sent when an async preview render completes.
type previewRenderedMsg struct {
	key     string
	content string
	hitLine int
	err     error
}

// loadPreviewCmd renders the conversation around r off the UI goroutine.
func loadPreviewCmd(st *store.Store, r item, query string, width int) tea.Cmd {
	return func() tea.Msg {
		msg := previewRenderedMsg{key: previewCacheKey(r), hitLine: -1}
		ctx := context.Background()
		sess, err := st.OpenSession(ctx, r.SessionID)
		if err != nil {
			msg.err = err
			return msg
		}
		defer sess.Close()

		// no message id is below 1, so 0 opens the window at the start
		hit := max(r.MessageID, 0)
		msg.content, msg.hitLine, msg.err = render.Conversation(ctx, sess, render.Options{
			HitMessageID: hit,
			Context:      50,
			Width:        width,
			Query:        query,
		})
		return msg
	}
}

func previewCacheKey(r item) string {
	return fmt.Sprintf("%s:%d", r.SessionID, r.MessageID)
}

func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	vp.Style = stylePanelBorder
	return vp
}
