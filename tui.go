package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"scribe/beep"
	"scribe/transcriber"
)

// TUI message types
type liveEventMsg transcriber.Event
type liveErrMsg struct{ err error }
type liveStartedMsg struct{}
type tickMsg time.Time

type liveState int

const (
	liveConnecting liveState = iota
	liveListening
	liveStopping
	liveDone
)

type liveModel struct {
	state    liveState
	stop     func()
	language string
	device   string

	started time.Time
	elapsed time.Duration
	text    string
	final   transcriber.Event
	err     error
	frame   int

	width, height int
}

var (
	statusRecStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	statusIdleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	infoStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	textStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func newLiveModel(stop func(), language, device string) liveModel {
	return liveModel{stop: stop, language: language, device: device}
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m liveModel) Init() tea.Cmd {
	return tuiTick()
}

func (m liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc", "enter", " ":
			if m.state == liveDone {
				return m, tea.Quit
			}
			if m.state != liveStopping {
				m.state = liveStopping
				go m.stop()
			}
		}

	case tickMsg:
		m.frame++
		if m.state == liveListening {
			m.elapsed = time.Since(m.started)
		}
		return m, tuiTick()

	case liveStartedMsg:
		if m.state == liveConnecting {
			m.state = liveListening
			m.started = time.Now()
		}

	case liveEventMsg:
		if msg.Text != "" {
			m.text = msg.Text
		}
		if msg.Final {
			m.final = transcriber.Event(msg)
			m.state = liveDone
			return m, tea.Quit
		}

	case liveErrMsg:
		m.err = msg.err
		m.state = liveDone
		return m, tea.Quit
	}
	return m, nil
}

func (m liveModel) status() string {
	switch m.state {
	case liveConnecting:
		return statusIdleStyle.Render(spinner[m.frame%len(spinner)] + " connecting")
	case liveListening:
		return statusRecStyle.Render(fmt.Sprintf("● LIVE %.1fs", m.elapsed.Seconds()))
	case liveStopping:
		return statusIdleStyle.Render(spinner[m.frame%len(spinner)] + " finishing")
	}
	return statusIdleStyle.Render("○ DONE")
}

func (m liveModel) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString(m.status() + "  " + infoStyle.Render(fmt.Sprintf("[%s | mic: %s]", m.language, m.device)) + "\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	case m.final.Error != "":
		b.WriteString(errorStyle.Render("Error: "+m.final.Error) + "\n")
	}

	if m.text == "" {
		b.WriteString(statusIdleStyle.Render("Waiting for speech...") + "\n")
	} else {
		for _, line := range wrapText(strings.TrimSpace(m.text), width-2) {
			b.WriteString(textStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpKeyStyle.Render("Enter/q") + helpStyle.Render(" to stop"))
	b.WriteString(helpStyle.Render("  scribe " + version))
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

// runLiveTUI drives sess behind the full-screen view and returns the
// terminal event.
func runLiveTUI(ctx context.Context, a *app, sess *transcriber.RealtimeSession, lang, device string) (transcriber.Event, error) {
	p := tea.NewProgram(newLiveModel(sess.Stop, lang, device),
		tea.WithInput(a.stdin), tea.WithOutput(a.stdout), tea.WithContext(ctx))

	finalCh := make(chan transcriber.Event, 1)
	onEvent := func(ev transcriber.Event) {
		if ev.Final {
			finalCh <- ev
		}
		p.Send(liveEventMsg(ev))
	}
	go func() {
		if err := sess.Start(ctx, onEvent, lang); err != nil {
			beep.PlayError()
			p.Send(liveErrMsg{err})
			return
		}
		beep.PlayStart()
		p.Send(liveStartedMsg{})
	}()

	res, runErr := p.Run()
	sess.Stop()
	<-sess.Done()
	beep.PlayEnd()

	if m, ok := res.(liveModel); ok && m.err != nil {
		return transcriber.Event{}, m.err
	}
	if runErr != nil && ctx.Err() == nil {
		return transcriber.Event{}, fmt.Errorf("live view: %w", runErr)
	}
	select {
	case ev := <-finalCh:
		return ev, nil
	default:
		return transcriber.Event{Final: true}, nil
	}
}
