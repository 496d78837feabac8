package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"siteplan/domain"
)

type intakeField int

const (
	fieldName intakeField = iota
	fieldStartDate
	fieldDuration
	fieldProgress
	fieldCategory
	fieldManager
	fieldDependencies
)

var intakeLabels = [...]string{
	fieldName:         "項目名稱",
	fieldStartDate:    "開始日期",
	fieldDuration:     "工期（天）",
	fieldProgress:     "進度（%）",
	fieldCategory:     "類別",
	fieldManager:      "負責人",
	fieldDependencies: "前置任務",
}

var fieldKeys = [...]string{
	fieldName:      "name",
	fieldStartDate: "startDate",
	fieldDuration:  "duration",
	fieldProgress:  "progress",
	fieldCategory:  "category",
	fieldManager:   "manager",
}

// intakeForm collects a new task. The dependency list offers every task
// present when the form was opened.
type intakeForm struct {
	inputs    []textinput.Model
	focus     intakeField
	options   []domain.Task
	selected  map[string]bool
	depCursor int
	errors    []domain.FieldError
}

func newIntakeForm(tasks []domain.Task, today domain.Date) *intakeForm {
	inputs := make([]textinput.Model, fieldDependencies)
	for i := range inputs {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 80
		ti.Width = 32
		inputs[i] = ti
	}
	inputs[fieldStartDate].Placeholder = "YYYY-MM-DD"
	inputs[fieldStartDate].SetValue(today.String())
	inputs[fieldDuration].SetValue(strconv.Itoa(domain.DefaultDuration))
	inputs[fieldProgress].SetValue("0")

	f := &intakeForm{inputs: inputs, options: domain.CloneTasks(tasks), selected: map[string]bool{}}
	f.setFocus(fieldName)
	return f
}

func (f *intakeForm) setFocus(field intakeField) {
	f.focus = field
	for i := range f.inputs {
		if intakeField(i) == field {
			f.inputs[i].Focus()
		} else {
			f.inputs[i].Blur()
		}
	}
}

func (f *intakeForm) next() { f.setFocus((f.focus + 1) % (fieldDependencies + 1)) }

func (f *intakeForm) prev() { f.setFocus((f.focus + fieldDependencies) % (fieldDependencies + 1)) }

// toggle flips the dependency under the cursor.
func (f *intakeForm) toggle() {
	if f.depCursor >= len(f.options) {
		return
	}
	id := f.options[f.depCursor].ID
	if f.selected[id] {
		delete(f.selected, id)
	} else {
		f.selected[id] = true
	}
}

// update handles a key that is not a submit or cancel.
func (f *intakeForm) update(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Tab):
		f.next()
		return nil
	case key.Matches(msg, keys.ShiftTab):
		f.prev()
		return nil
	}
	if f.focus == fieldDependencies {
		switch {
		case key.Matches(msg, keys.Up):
			if f.depCursor > 0 {
				f.depCursor--
			}
		case key.Matches(msg, keys.Down):
			if f.depCursor < len(f.options)-1 {
				f.depCursor++
			}
		case key.Matches(msg, keys.Toggle):
			f.toggle()
		}
		return nil
	}
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

// input builds the intake from the form. Numeric fields that do not parse
// are reported here; the rest is validated by the domain.
func (f *intakeForm) input() (domain.TaskInput, []domain.FieldError) {
	var errs []domain.FieldError
	in := domain.TaskInput{
		Name:      f.value(fieldName),
		StartDate: f.value(fieldStartDate),
		Category:  f.value(fieldCategory),
		Manager:   f.value(fieldManager),
	}
	if raw := f.value(fieldDuration); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, domain.FieldError{Field: "duration", Message: "must be a number"})
		} else {
			in.Duration = &n
		}
	}
	if raw := f.value(fieldProgress); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 100 {
			errs = append(errs, domain.FieldError{Field: "progress", Message: "must be 0-100"})
		} else {
			in.Progress = n
		}
	}
	for _, t := range f.options {
		if f.selected[t.ID] {
			in.Dependencies = append(in.Dependencies, t.ID)
		}
	}
	return in, errs
}

func (f *intakeForm) value(field intakeField) string {
	return strings.TrimSpace(f.inputs[field].Value())
}

func (f *intakeForm) fieldError(field intakeField) string {
	if int(field) >= len(fieldKeys) {
		return ""
	}
	for _, e := range f.errors {
		if e.Field == fieldKeys[field] {
			return e.Message
		}
	}
	return ""
}

func (f *intakeForm) view() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("新增施工項目"))
	b.WriteString("\n\n")
	for i := range f.inputs {
		field := intakeField(i)
		label := intakeLabels[field]
		if field == f.focus {
			label = cursorStyle.Render("› " + label)
		} else {
			label = "  " + label
		}
		b.WriteString(label + "  " + f.inputs[i].View())
		if msg := f.fieldError(field); msg != "" {
			b.WriteString("  " + errorStyle.Render(msg))
		}
		b.WriteString("\n")
	}

	depLabel := "  " + intakeLabels[fieldDependencies]
	if f.focus == fieldDependencies {
		depLabel = cursorStyle.Render("› " + intakeLabels[fieldDependencies])
	}
	b.WriteString(depLabel + "\n")
	if len(f.options) == 0 {
		b.WriteString(mutedStyle.Render("    (無)") + "\n")
	}
	for i, t := range f.options {
		box := "[ ]"
		if f.selected[t.ID] {
			box = "[x]"
		}
		line := "    " + box + " " + t.Name
		if f.focus == fieldDependencies && i == f.depCursor {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(helpStyle.Render("tab 切換欄位 · space 勾選 · enter 送出 · esc 取消"))
	return panelStyle.Render(b.String())
}
