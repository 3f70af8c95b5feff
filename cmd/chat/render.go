package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/model"
)

var (
	brand = lipgloss.Color("#E4572E")

	expertStyle   = lipgloss.NewStyle().Foreground(brand).Bold(true)
	userStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4F9DDE")).Bold(true)
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F85149"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#8B949E"))
	tutorialStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(brand).
			Padding(0, 1)
)

// renderer prints an assistant reply incrementally. Only growth of the
// already printed prefix is written while streaming; finish reconciles the
// final text.
type renderer struct {
	out io.Writer

	mu      sync.Mutex
	printed string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) show(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !strings.HasPrefix(text, r.printed) {
		return
	}
	fmt.Fprint(r.out, text[len(r.printed):])
	r.printed = text
}

func (r *renderer) finish(final string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case strings.HasPrefix(final, chat.FailureMarker):
		if r.printed != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprint(r.out, errorStyle.Render(final))
	case strings.HasPrefix(final, r.printed):
		fmt.Fprint(r.out, final[len(r.printed):])
	default:
		fmt.Fprint(r.out, "\n"+final)
	}
	fmt.Fprintln(r.out)
	r.printed = ""
}

func renderTutorials(out io.Writer, tutorials []model.Tutorial) {
	if len(tutorials) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("Tutoriais sugeridos")
	for _, t := range tutorials {
		b.WriteString("\n• " + t.Name)
		if t.URL != "" {
			b.WriteString("  " + dimStyle.Render(t.URL))
		}
	}
	fmt.Fprintln(out, tutorialStyle.Render(b.String()))
}

func renderNotice(out io.Writer, n model.Notice) {
	style := successStyle
	if n.Level == model.NoticeError {
		style = errorStyle
	}
	fmt.Fprintln(out, style.Render(n.Title)+" "+dimStyle.Render(n.Description))
}

func renderTranscript(out io.Writer, snap model.Snapshot) {
	if len(snap.Messages) == 0 {
		fmt.Fprintln(out, dimStyle.Render("(conversa vazia)"))
		return
	}
	for _, m := range snap.Messages {
		label := expertStyle.Render("Especialista:")
		if m.Role == model.RoleUser {
			label = userStyle.Render("Você:")
		}
		fmt.Fprintln(out, label, m.Content)
		renderTutorials(out, m.SuggestedTutorials)
	}
}
