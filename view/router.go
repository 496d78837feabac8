// Package view holds the navigation state of the four project screens and
// composes the data each screen renders. Transitions are pure: every method
// returns a new State.
package view

import (
	"fmt"
	"strings"

	"siteplan/domain"
	"siteplan/timeline"
)

// Screen is one of the top-level tabs.
type Screen int

const (
	Overview Screen = iota
	List
	Timeline
	AI
)

var screens = [...]struct {
	name, title, tab string
}{
	Overview: {name: "overview", title: "項目概覽", tab: "概覽"},
	List:     {name: "list", title: "施工清單", tab: "清單"},
	Timeline: {name: "timeline", title: "甘特圖", tab: "甘特圖"},
	AI:       {name: "ai", title: "AI 建議", tab: "AI"},
}

// Screens lists the tabs in display order.
func Screens() []Screen { return []Screen{Overview, List, Timeline, AI} }

func (s Screen) valid() bool { return s >= Overview && s <= AI }

func (s Screen) String() string {
	if !s.valid() {
		return fmt.Sprintf("Screen(%d)", int(s))
	}
	return screens[s].name
}

// Title is the header shown above the screen.
func (s Screen) Title() string {
	if !s.valid() {
		return ""
	}
	return screens[s].title
}

// TabLabel is the short label in the tab bar.
func (s Screen) TabLabel() string {
	if !s.valid() {
		return ""
	}
	return screens[s].tab
}

// ParseScreen accepts screen names, case-insensitively. "dashboard" and
// "gantt" are accepted as aliases.
func ParseScreen(name string) (Screen, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "dashboard":
		return Overview, nil
	case "gantt":
		return Timeline, nil
	default:
		for _, s := range Screens() {
			if screens[s].name == n {
				return s, nil
			}
		}
	}
	return Overview, fmt.Errorf("unknown screen %q", name)
}

func (s Screen) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("invalid screen %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Screen) UnmarshalText(b []byte) error {
	parsed, err := ParseScreen(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// State is the full navigation state.
type State struct {
	Screen         Screen `json:"screen"`
	SelectedTaskID string `json:"selectedTaskId,omitempty"`
	ModalOpen      bool   `json:"modalOpen"`
	IntakeOpen     bool   `json:"intakeOpen"`
}

// Initial is the state on launch.
func Initial() State { return State{Screen: Overview} }

// Navigate switches tabs. Overlays are dismissed.
func (s State) Navigate(to Screen) State {
	if !to.valid() {
		return s
	}
	return State{Screen: to}
}

// Next moves to the following tab, wrapping around.
func (s State) Next() State {
	return s.Navigate(Screen((int(s.Screen) + 1) % len(screens)))
}

// Prev moves to the preceding tab, wrapping around.
func (s State) Prev() State {
	return s.Navigate(Screen((int(s.Screen) + len(screens) - 1) % len(screens)))
}

// SelectTask opens the detail modal for id. An empty id closes it.
func (s State) SelectTask(id string) State {
	if id == "" {
		return s.CloseModal()
	}
	s.SelectedTaskID = id
	s.ModalOpen = true
	s.IntakeOpen = false
	return s
}

func (s State) CloseModal() State {
	s.SelectedTaskID = ""
	s.ModalOpen = false
	return s
}

func (s State) OpenIntake() State {
	s = s.CloseModal()
	s.IntakeOpen = true
	return s
}

func (s State) CloseIntake() State {
	s.IntakeOpen = false
	return s
}

// Title is the header of the active screen.
func (s State) Title() string { return s.Screen.Title() }

// Snapshot is the data a page is composed from.
type Snapshot struct {
	Tasks  []domain.Task
	Today  domain.Date
	Advice domain.AdviceState
}

// Page is what the active screen renders. Only the section of the active
// screen is set, plus Selected while the detail modal is open.
type Page struct {
	Screen     Screen               `json:"screen"`
	Title      string               `json:"title"`
	Stats      *domain.ProjectStats `json:"stats,omitempty"`
	Tasks      []domain.Task        `json:"tasks,omitempty"`
	Timeline   *timeline.Layout     `json:"timeline,omitempty"`
	Advice     *domain.AdviceState  `json:"advice,omitempty"`
	Selected   *domain.Task         `json:"selected,omitempty"`
	IntakeOpen bool                 `json:"intakeOpen"`
}

// Compose derives the page for state from snap.
func Compose(state State, snap Snapshot) Page {
	p := Page{Screen: state.Screen, Title: state.Title(), IntakeOpen: state.IntakeOpen}
	switch state.Screen {
	case Overview:
		stats := domain.ComputeStats(snap.Tasks)
		p.Stats = &stats
	case List:
		p.Tasks = domain.CloneTasks(snap.Tasks)
	case Timeline:
		today := snap.Today
		if today.IsZero() {
			today = domain.Today()
		}
		layout := timeline.Compute(snap.Tasks, today)
		p.Timeline = &layout
	case AI:
		advice := snap.Advice
		p.Advice = &advice
	}
	if state.ModalOpen && state.SelectedTaskID != "" {
		if i, ok := domain.IndexByID(snap.Tasks)[state.SelectedTaskID]; ok {
			t := snap.Tasks[i].Clone()
			p.Selected = &t
		}
	}
	return p
}
