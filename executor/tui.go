package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/c4zero/executor/selfplay"
	"github.com/brensch/c4zero/rules"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(18)
)

type gameUpdate selfplay.Progress

type runDone struct{ err error }

type model struct {
	gamesPlayed int
	iteration   int
	lossSum     float64
	moves       int64
	inferences  int64
	startTime   time.Time
	recentGames []string
	updates     <-chan gameUpdate
	done        <-chan runDone
	finished    bool
	err         error
}

func initialModel(updates <-chan gameUpdate, done <-chan runDone) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		done:      done,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), waitForDone(m.done), tickCmd())
}

func waitForUpdate(updates <-chan gameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func waitForDone(done <-chan runDone) tea.Cmd {
	return func() tea.Msg {
		return <-done
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		m.inferences = totalInferences.Load()
		return m, tickCmd()
	case gameUpdate:
		m.gamesPlayed++
		m.iteration = msg.Iteration
		m.lossSum += msg.MeanLoss
		line := fmt.Sprintf("iter %d game %d: %s in %d plies, loss %.4f", msg.Iteration, msg.Game, rules.Winner(msg.Result), msg.Plies, msg.MeanLoss)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	case runDone:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	rate := func(n float64) float64 {
		if duration.Seconds() < 1 {
			return 0
		}
		return n / duration.Seconds()
	}
	meanLoss := 0.0
	if m.gamesPlayed > 0 {
		meanLoss = m.lossSum / float64(m.gamesPlayed)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("c4zero self-play") + "\n\n")
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	row("Iteration", fmt.Sprint(m.iteration))
	row("Games Played", fmt.Sprint(m.gamesPlayed))
	row("Mean Loss", fmt.Sprintf("%.4f", meanLoss))
	row("Total Moves", fmt.Sprint(m.moves))
	row("Total Inferences", fmt.Sprint(m.inferences))
	row("Duration", duration.Round(time.Second).String())
	row("Games/Sec", fmt.Sprintf("%.2f", rate(float64(m.gamesPlayed))))
	row("Moves/Sec", fmt.Sprintf("%.2f", rate(float64(m.moves))))
	row("Inferences/Sec", fmt.Sprintf("%.2f", rate(float64(m.inferences))))

	b.WriteString("\nRecent Games:\n")
	for _, g := range m.recentGames {
		b.WriteString(g + "\n")
	}

	b.WriteString("\nPress q to quit.\n")
	return b.String()
}
