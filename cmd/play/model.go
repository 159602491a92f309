package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	firstStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e74c3c")).Bold(true)
	secondStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f1c40f")).Bold(true)
	emptyStyle  = lipgloss.NewStyle().Faint(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boardStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// engineMoveMsg carries the column the engine settled on.
type engineMoveMsg struct {
	col    int
	visits []int
	err    error
}

type model struct {
	engine    *mcts.MCTS
	sims      int
	humanMark int8

	state    *game.State
	thinking bool
	over     bool
	message  string
	visits   []int
}

func newModel(engine *mcts.MCTS, sims int, humanFirst bool) model {
	mark := game.First
	if !humanFirst {
		mark = game.Second
	}
	m := model{
		engine:    engine,
		sims:      sims,
		humanMark: mark,
	}
	m.reset()
	return m
}

// reset starts a fresh game; the engine thinks first when it moves first.
func (m *model) reset() {
	m.state = game.NewState()
	m.over = false
	m.visits = nil
	m.message = ""
	m.thinking = m.state.Perspective() != m.humanMark
	if m.thinking {
		m.message = "engine is thinking..."
	}
}

func (m model) Init() tea.Cmd {
	if m.thinking {
		return m.search()
	}
	return nil
}

// search runs on a copy of the position so View can keep reading state.
func (m model) search() tea.Cmd {
	s := m.state.Clone()
	engine, sims := m.engine, m.sims
	return func() tea.Msg {
		col, tree, err := engine.ProposeMove(s, sims)
		if err != nil {
			return engineMoveMsg{err: err}
		}
		visits := tree.VisitCounts(tree.Root())
		return engineMoveMsg{col: col, visits: visits[:]}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "n":
			if m.thinking {
				return m, nil
			}
			m.reset()
			return m, m.Init()
		}
		if len(key) != 1 || key[0] < '1' || key[0] > '0'+game.Columns {
			return m, nil
		}
		if m.thinking || m.over {
			return m, nil
		}
		col := int(key[0] - '1')
		if !m.state.IsLegal(col) {
			m.message = fmt.Sprintf("column %d is full, pick another", col+1)
			return m, nil
		}
		if err := m.state.Apply(col); err != nil {
			m.message = err.Error()
			return m, nil
		}
		if m.checkOver() {
			return m, nil
		}
		m.thinking = true
		m.message = "engine is thinking..."
		return m, m.search()

	case engineMoveMsg:
		m.thinking = false
		if msg.err != nil {
			m.message = "engine failed: " + msg.err.Error()
			m.over = true
			return m, nil
		}
		if err := m.state.Apply(msg.col); err != nil {
			m.message = "engine failed: " + err.Error()
			m.over = true
			return m, nil
		}
		m.visits = msg.visits
		m.message = fmt.Sprintf("engine played %d", msg.col+1)
		m.checkOver()
	}
	return m, nil
}

// checkOver marks the game finished and sets the closing message.
func (m *model) checkOver() bool {
	if !rules.IsGameOver(m.state) {
		return false
	}
	m.over = true
	switch r := rules.Result(m.state); {
	case r == 0:
		m.message = "draw. n for a new game, q to quit"
	case r == m.humanMark:
		m.message = "you win! n for a new game, q to quit"
	default:
		m.message = "engine wins. n for a new game, q to quit"
	}
	return true
}

func renderCell(mark int8) string {
	switch mark {
	case game.First:
		return firstStyle.Render("●")
	case game.Second:
		return secondStyle.Render("●")
	default:
		return emptyStyle.Render("·")
	}
}

func (m model) View() string {
	var b strings.Builder
	for row := game.Rows - 1; row >= 0; row-- {
		for col := 0; col < game.Columns; col++ {
			if col > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(renderCell(m.state.Cell(col, row)))
		}
		b.WriteByte('\n')
	}
	b.WriteString(hintStyle.Render("1 2 3 4 5 6 7"))

	var out strings.Builder
	out.WriteString(titleStyle.Render("c4zero") + "  you are " + renderCell(m.humanMark) + "\n")
	out.WriteString(boardStyle.Render(b.String()) + "\n")
	if len(m.visits) > 0 {
		out.WriteString(hintStyle.Render(fmt.Sprintf("visits %v", m.visits)) + "\n")
	}
	if m.message != "" {
		out.WriteString(m.message + "\n")
	}
	out.WriteString(hintStyle.Render("1-7 play a column, n new game, q quit") + "\n")
	return out.String()
}
