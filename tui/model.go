// Package tui is the terminal front-end of a task board.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"siteplan/advisor"
	"siteplan/domain"
	"siteplan/view"
)

const defaultPollInterval = 500 * time.Millisecond

// adviceChrome is the number of lines around the advice pane: tabs, title,
// notice and help.
const adviceChrome = 6

// Board is the task board the TUI edits.
type Board interface {
	AddTask(in domain.TaskInput) (domain.Task, error)
	Tasks() []domain.Task
}

// Advisor runs the schedule analysis in the background.
type Advisor interface {
	Start(ctx context.Context, tasks []domain.Task) error
	State(ctx context.Context) domain.AdviceState
	Clear(ctx context.Context) error
}

type adviceStateMsg struct{ state domain.AdviceState }

type adviceStartedMsg struct{ err error }

type adviceClearedMsg struct {
	state domain.AdviceState
	err   error
}

// Model is the bubbletea model of the four-screen board.
type Model struct {
	board   Board
	advisor Advisor
	today   func() domain.Date

	state     view.State
	cursor    int
	filter    textinput.Model
	filtering bool
	intake    *intakeForm
	advice    domain.AdviceState
	notice    string
	help      help.Model

	// adviceView scrolls the AI screen once the terminal size is known.
	adviceView viewport.Model

	width        int
	height       int
	pollInterval time.Duration
}

// New builds a model over board. advisor may be nil, which disables the AI
// screen actions.
func New(board Board, adv Advisor) Model {
	filter := textinput.New()
	filter.Prompt = "/ "
	filter.Placeholder = "項目、負責人或類別"
	filter.CharLimit = 40
	return Model{
		board:        board,
		advisor:      adv,
		today:        domain.Today,
		state:        view.Initial(),
		filter:       filter,
		help:         help.New(),
		adviceView:   viewport.New(0, 0),
		width:        100,
		pollInterval: defaultPollInterval,
	}
}

// visibleTasks are the list rows after filtering.
func (m Model) visibleTasks() []domain.Task {
	return filterTasks(m.board.Tasks(), m.filter.Value())
}

// Run starts the program on the terminal's alternate screen.
func Run(board Board, adv Advisor) error {
	_, err := tea.NewProgram(New(board, adv), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.fetchAdvice()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.update(msg)
	if nm, ok := next.(Model); ok && nm.state.Screen == view.AI {
		nm.syncAdvice()
		return nm, cmd
	}
	return next, cmd
}

// syncAdvice refreshes the advice pane's size and content.
func (m *Model) syncAdvice() {
	m.adviceView.Width = m.width
	m.adviceView.Height = max(m.height-adviceChrome, 0)
	m.adviceView.SetContent(renderAdvice(m.advice, m.notice, m.width))
}

func (m Model) update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil
	case adviceStateMsg:
		m.advice = msg.state
		if msg.state.InFlight {
			return m, m.pollAdvice()
		}
		m.notice = ""
		return m, nil
	case adviceStartedMsg:
		switch {
		case msg.err == nil:
			m.advice.InFlight = true
			m.notice = ""
		case errors.Is(msg.err, advisor.ErrInFlight):
			m.advice.InFlight = true
			m.notice = "已有分析進行中，請稍候。"
		default:
			m.notice = msg.err.Error()
			return m, nil
		}
		return m, m.pollAdvice()
	case adviceClearedMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
			return m, nil
		}
		m.advice = msg.state
		m.notice = ""
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.state.IntakeOpen && m.intake != nil {
		return m.handleIntakeKey(msg)
	}
	if m.filtering {
		return m.handleFilterKey(msg)
	}
	if m.state.ModalOpen {
		if key.Matches(msg, keys.Back) || key.Matches(msg, keys.Enter) {
			m.state = m.state.CloseModal()
		} else if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
		return m, nil
	}

	for i, b := range keys.Screen {
		if key.Matches(msg, b) {
			m.state = m.state.Navigate(view.Screens()[i])
			return m, nil
		}
	}
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Tab):
		m.state = m.state.Next()
	case key.Matches(msg, keys.ShiftTab):
		m.state = m.state.Prev()
	case key.Matches(msg, keys.Up):
		switch {
		case m.state.Screen == view.AI:
			m.adviceView.LineUp(1)
		case m.state.Screen == view.List && m.cursor > 0:
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		switch {
		case m.state.Screen == view.AI:
			m.adviceView.LineDown(1)
		case m.state.Screen == view.List && m.cursor < len(m.visibleTasks())-1:
			m.cursor++
		}
	case key.Matches(msg, keys.Enter):
		if m.state.Screen == view.List {
			if tasks := m.visibleTasks(); m.cursor < len(tasks) {
				m.state = m.state.SelectTask(tasks[m.cursor].ID)
			}
		}
	case key.Matches(msg, keys.Filter):
		m.state = m.state.Navigate(view.List)
		m.filtering = true
		return m, m.filter.Focus()
	case key.Matches(msg, keys.Intake):
		m.intake = newIntakeForm(m.board.Tasks(), m.today())
		m.state = m.state.OpenIntake()
	case key.Matches(msg, keys.Analyze):
		if m.advisor == nil {
			m.notice = "AI 建議未啟用。"
			return m, nil
		}
		m.state = m.state.Navigate(view.AI)
		if m.advice.InFlight {
			return m, nil
		}
		return m, m.startAdvice()
	case key.Matches(msg, keys.Clear):
		if m.advisor == nil || m.advice.InFlight {
			return m, nil
		}
		return m, m.clearAdvice()
	}
	return m, nil
}

// handleFilterKey edits the list filter. Enter keeps the query, esc drops it.
func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit
	case key.Matches(msg, keys.Back):
		m.filter.SetValue("")
		fallthrough
	case key.Matches(msg, keys.Enter):
		m.filtering = false
		m.filter.Blur()
		m.cursor = 0
		return m, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.cursor = 0
	return m, cmd
}

func (m Model) handleIntakeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		m.intake = nil
		m.state = m.state.CloseIntake()
		return m, nil
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit
	case key.Matches(msg, keys.Enter):
		return m.submitIntake(), nil
	}
	return m, m.intake.update(msg)
}

// submitIntake appends the form's task, or keeps the form open with the
// rejected fields marked.
func (m Model) submitIntake() Model {
	in, errs := m.intake.input()
	if len(errs) == 0 {
		_, err := m.board.AddTask(in)
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			errs = verr.Fields
		case err != nil:
			m.notice = err.Error()
			return m
		}
	}
	if len(errs) > 0 {
		m.intake.errors = errs
		return m
	}
	m.intake = nil
	m.filter.SetValue("")
	m.state = m.state.CloseIntake().Navigate(view.List)
	m.cursor = len(m.board.Tasks()) - 1
	return m
}

func (m Model) fetchAdvice() tea.Cmd {
	adv := m.advisor
	if adv == nil {
		return nil
	}
	return func() tea.Msg {
		return adviceStateMsg{state: adv.State(context.Background())}
	}
}

func (m Model) pollAdvice() tea.Cmd {
	adv := m.advisor
	if adv == nil {
		return nil
	}
	return tea.Tick(m.pollInterval, func(time.Time) tea.Msg {
		return adviceStateMsg{state: adv.State(context.Background())}
	})
}

func (m Model) startAdvice() tea.Cmd {
	adv := m.advisor
	tasks := m.board.Tasks()
	return func() tea.Msg {
		return adviceStartedMsg{err: adv.Start(context.Background(), tasks)}
	}
}

func (m Model) clearAdvice() tea.Cmd {
	adv := m.advisor
	return func() tea.Msg {
		ctx := context.Background()
		if err := adv.Clear(ctx); err != nil {
			return adviceClearedMsg{err: err}
		}
		return adviceClearedMsg{state: adv.State(ctx)}
	}
}

func (m Model) View() string {
	tasks := m.board.Tasks()
	page := view.Compose(m.state, view.Snapshot{Tasks: tasks, Today: m.today(), Advice: m.advice})

	var body string
	switch {
	case m.state.IntakeOpen && m.intake != nil:
		body = m.intake.view()
	case page.Selected != nil:
		body = renderTaskDetail(*page.Selected, tasks)
	default:
		body = m.renderPage(page, tasks)
	}

	sections := []string{
		renderTabs(m.state.Screen),
		titleStyle.Render(page.Title),
		body,
	}
	if m.notice != "" && m.state.Screen != view.AI {
		sections = append(sections, warnStyle.Render(m.notice))
	}
	sections = append(sections, helpStyle.Render(m.help.ShortHelpView(keys.help())))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderPage(page view.Page, tasks []domain.Task) string {
	switch {
	case page.Stats != nil:
		return renderStats(*page.Stats)
	case page.Screen == view.List:
		list := renderList(filterTasks(page.Tasks, m.filter.Value()), m.cursor)
		if m.filtering || m.filter.Value() != "" {
			return m.filter.View() + "\n\n" + list
		}
		return list
	case page.Timeline != nil:
		return renderTimeline(*page.Timeline, tasks, m.width)
	case page.Advice != nil:
		if m.adviceView.Height > 0 {
			return m.adviceView.View()
		}
		return renderAdvice(*page.Advice, m.notice, m.width)
	}
	return ""
}
