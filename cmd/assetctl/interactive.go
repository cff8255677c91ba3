package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/fx"
	"golang.org/x/term"

	"github.com/wippyai/asset-runtime/app"
	"github.com/wippyai/asset-runtime/config"
	"github.com/wippyai/asset-runtime/resource"
)

const refreshInterval = 250 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusStyles = map[resource.Status]lipgloss.Style{
		resource.StatusLoaded:     lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		resource.StatusProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		resource.StatusInvalid:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		resource.StatusUnloaded:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))
)

type tickMsg time.Time

type interactiveModel struct {
	rt      *app.Runtime
	table   table.Model
	input   textinput.Model
	handles map[resource.ID]*resource.Handle[resource.Resource]
	message string
	err     error
	editing bool
}

func newInteractiveModel(rt *app.Runtime, preload []string) *interactiveModel {
	cols := []table.Column{
		{Title: "ID", Width: 36},
		{Title: "Status", Width: 12},
		{Title: "Strategy", Width: 16},
		{Title: "Refs", Width: 6},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(12))
	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(styles)

	ti := textinput.New()
	ti.Placeholder = "path/to/asset.png"
	ti.Prompt = "load: "
	ti.Width = 48

	m := &interactiveModel{
		rt:      rt,
		table:   t,
		input:   ti,
		handles: make(map[resource.ID]*resource.Handle[resource.Resource]),
	}
	for _, p := range preload {
		m.load(p)
	}
	m.refresh()
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, tick()

	case tea.KeyMsg:
		if m.editing {
			return m.updateInput(msg)
		}

		switch msg.String() {
		case "ctrl+c", "q":
			m.releaseAll()
			return m, tea.Quit

		case "l":
			m.editing = true
			m.input.SetValue("")
			m.input.Focus()
			return m, textinput.Blink

		case "r":
			if id, ok := m.selected(); ok {
				if m.rt.Manager.ReloadResource(context.Background(), id, true) {
					m.note("reload scheduled for %s", id)
				} else {
					m.fail("%s is not loaded", id)
				}
			}

		case "u":
			if id, ok := m.selected(); ok {
				if m.rt.Manager.UnloadResource(id, true) {
					m.note("unload scheduled for %s", id)
				} else {
					m.fail("%s is not a loaded manual asset", id)
				}
			}

		case "m":
			if id, ok := m.selected(); ok {
				if mf := m.rt.Manager.RequestManifest(id, false); mf != nil {
					mf.SetStrategy(nextStrategy(mf.Strategy()))
					m.note("%s now uses %s", id, mf.Strategy())
				}
			}

		case "x":
			if id, ok := m.selected(); ok {
				if h, held := m.handles[id]; held {
					h.Release()
					delete(m.handles, id)
					m.note("released %s", id)
				}
			}

		case "g":
			m.note("reference sweep collected %d", m.rt.Manager.TriggerReferenceGC())

		case "s":
			m.note("scene sweep collected %d", m.rt.Manager.TriggerSceneGC())

		default:
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}
		// Keys above shadow the table's own bindings.
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *interactiveModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.editing = false
		m.input.Blur()
		if path := strings.TrimSpace(m.input.Value()); path != "" {
			m.load(path)
			m.refresh()
		}
		return m, nil
	case "esc":
		m.editing = false
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) load(path string) {
	id := resource.ID(path)
	if _, held := m.handles[id]; held {
		m.note("%s already held", id)
		return
	}
	m.handles[id] = m.rt.Loader.Load(path)
	m.note("loading %s", id)
}

func (m *interactiveModel) selected() (resource.ID, bool) {
	row := m.table.SelectedRow()
	if row == nil {
		return "", false
	}
	return resource.ID(row[0]), true
}

func (m *interactiveModel) refresh() {
	infos := m.rt.Manager.Snapshot()
	rows := make([]table.Row, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, table.Row{
			string(info.ID),
			info.Status.String(),
			info.Strategy.String(),
			fmt.Sprint(info.References),
		})
	}
	m.table.SetRows(rows)
}

func (m *interactiveModel) releaseAll() {
	for id, h := range m.handles {
		h.Release()
		delete(m.handles, id)
	}
}

func (m *interactiveModel) note(format string, args ...any) {
	m.message = fmt.Sprintf(format, args...)
	m.err = nil
}

func (m *interactiveModel) fail(format string, args ...any) {
	m.err = fmt.Errorf(format, args...)
	m.message = ""
}

func nextStrategy(s resource.GCStrategy) resource.GCStrategy {
	switch s {
	case resource.GCManual:
		return resource.GCReferenceCount
	case resource.GCReferenceCount:
		return resource.GCSceneDeletion
	default:
		return resource.GCManual
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Asset Manager"))
	b.WriteString(" ")
	b.WriteString(sourceName(m.rt.Config))
	b.WriteString("\n\n")

	b.WriteString(tableStyle.Render(m.table.View()))
	b.WriteString("\n")

	if id, ok := m.selected(); ok {
		if mf := m.rt.Manager.RequestManifest(id, false); mf != nil {
			st := mf.Status()
			b.WriteString(statusStyles[st].Render(fmt.Sprintf("%s: %s", id, st)))
			b.WriteString("\n")
		}
	}

	st := m.rt.Manager.Stats()
	b.WriteString(fmt.Sprintf("in flight %d • loads %d • reloads %d • failures %d • collected %d\n\n",
		st.InFlight, st.Loads, st.Reloads, st.Failures, st.Collected))

	if m.editing {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter load • esc cancel"))
		return b.String()
	}

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()))
	case m.message != "":
		b.WriteString(messageStyle.Render(m.message))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("l load • r reload • u unload • m strategy • x release • g ref gc • s scene gc • q quit"))
	return b.String()
}

func sourceName(cfg *config.Config) string {
	if cfg.Source.Dir != "" {
		return cfg.Source.Dir
	}
	return "s3://" + cfg.Source.S3.Bucket + "/" + cfg.Source.S3.Prefix
}

func runInteractive(cfg *config.Config, preload []string) (err error) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal")
	}

	var rt *app.Runtime
	fxApp := fx.New(app.Module(cfg), fx.NopLogger, fx.Populate(&rt))
	if err := fxApp.Err(); err != nil {
		return err
	}
	ctx := context.Background()
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := fxApp.Stop(ctx); err == nil {
			err = stopErr
		}
	}()

	p := tea.NewProgram(newInteractiveModel(rt, preload), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
