package wizard

import (
	"fmt"
	"io"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

type (
	wizardState int

	initWizardModel struct {
		state      wizardState
		base       application.Config
		thresholds []thresholdRow
		reports    []reportRow
		cursor     int
		confirmed  bool
		aborted    bool
	}

	// thresholdRow is one metric of the global or per-file check. A value of
	// zero leaves the metric unchecked.
	thresholdRow struct {
		scope  string
		metric domain.MetricName
		value  float64
	}

	reportRow struct {
		kind    string
		enabled bool
	}
)

const (
	stateIntro wizardState = iota
	stateEdit
	stateConfirm
)

const (
	scopeGlobal = "global"
	scopeEach   = "each"

	defaultGlobalMin = 80
	step             = 5
)

// Run walks the user through thresholds and report types, starting from cfg.
// kinds lists the report types that can be selected. The second result is
// false when the user cancelled.
func Run(cfg application.Config, kinds []string, stdout io.Writer, stdin io.Reader) (application.Config, bool, error) {
	return runInitWizard(cfg, kinds, stdout, stdin)
}

func runInitWizard(cfg application.Config, kinds []string, stdout io.Writer, stdin io.Reader) (application.Config, bool, error) {
	model := newInitWizardModel(cfg, kinds)
	program := tea.NewProgram(model, tea.WithInput(stdin), tea.WithOutput(stdout))
	res, err := program.Run()
	if err != nil {
		return cfg, false, err
	}
	finalModel, ok := res.(*initWizardModel)
	if !ok {
		return cfg, false, fmt.Errorf("unexpected wizard state")
	}
	if finalModel.aborted || !finalModel.confirmed {
		return cfg, false, nil
	}
	return finalModel.toConfig(), true, nil
}

func newInitWizardModel(cfg application.Config, kinds []string) *initWizardModel {
	var global, each domain.Thresholds
	if c := cfg.Coverage.Check; c != nil {
		global, each = c.Global.Thresholds, c.Each.Thresholds
	} else {
		for _, name := range domain.Metrics {
			global.Set(name, defaultGlobalMin)
		}
	}

	rows := make([]thresholdRow, 0, 2*len(domain.Metrics))
	for _, scope := range []struct {
		name string
		t    domain.Thresholds
	}{{scopeGlobal, global}, {scopeEach, each}} {
		for _, name := range domain.Metrics {
			rows = append(rows, thresholdRow{scope: scope.name, metric: name, value: scope.t.Get(name).Value()})
		}
	}

	enabled := map[string]bool{}
	for _, r := range cfg.Coverage.ReportDefinitions() {
		enabled[r.Kind()] = true
	}
	reports := make([]reportRow, 0, len(kinds))
	for _, kind := range kinds {
		reports = append(reports, reportRow{kind: kind, enabled: enabled[kind]})
	}

	return &initWizardModel{
		state:      stateIntro,
		base:       cfg,
		thresholds: rows,
		reports:    reports,
	}
}

func (m *initWizardModel) Init() tea.Cmd {
	return nil
}

func (m *initWizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			switch m.state {
			case stateIntro:
				m.state = stateEdit
			case stateEdit:
				m.state = stateConfirm
			case stateConfirm:
				m.confirmed = true
				return m, tea.Quit
			}
		case "esc":
			if m.state == stateConfirm {
				m.state = stateEdit
			}
		case "up":
			if m.state == stateEdit {
				m.moveCursor(-1)
			}
		case "down":
			if m.state == stateEdit {
				m.moveCursor(1)
			}
		case "left", "-":
			if m.state == stateEdit {
				m.adjustSelection(-step)
			}
		case "right", "+":
			if m.state == stateEdit {
				m.adjustSelection(step)
			}
		case " ", "space":
			if m.state == stateEdit {
				m.toggleSelection()
			}
		}
	}
	return m, nil
}

func (m *initWizardModel) View() string {
	switch m.state {
	case stateIntro:
		return m.viewIntro()
	case stateEdit:
		return m.viewEdit()
	case stateConfirm:
		return m.viewConfirm()
	default:
		return ""
	}
}

func (m *initWizardModel) rowCount() int {
	return len(m.thresholds) + len(m.reports)
}

func (m *initWizardModel) moveCursor(delta int) {
	m.cursor = min(max(m.cursor+delta, 0), m.rowCount()-1)
}

func (m *initWizardModel) adjustSelection(delta float64) {
	if m.cursor >= len(m.thresholds) {
		return
	}
	row := &m.thresholds[m.cursor]
	row.value = clamp(row.value+delta, 0, 100)
}

func (m *initWizardModel) toggleSelection() {
	i := m.cursor - len(m.thresholds)
	if i < 0 || i >= len(m.reports) {
		return
	}
	m.reports[i].enabled = !m.reports[i].enabled
}

func (m *initWizardModel) enabledKinds() []string {
	var kinds []string
	for _, r := range m.reports {
		if r.enabled {
			kinds = append(kinds, r.kind)
		}
	}
	return kinds
}

func (m *initWizardModel) viewIntro() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nkarma-coverage init wizard\n\n")
	fmt.Fprintf(&b, "The wizard sets coverage thresholds and picks the reports to write.\n\n")
	fmt.Fprintf(&b, "Press Enter to continue, or Ctrl+C to cancel.\n")
	return b.String()
}

func (m *initWizardModel) viewEdit() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nReview thresholds and reports\n\n")
	fmt.Fprintf(&b, "Use ↑/↓ to move, ←/→ or +/- to change thresholds, space to toggle reports.\n")
	fmt.Fprintf(&b, "A threshold of 0%% is not checked.\n")
	scope := ""
	for idx, row := range m.thresholds {
		if row.scope != scope {
			scope = row.scope
			fmt.Fprintf(&b, "\n%s:\n", scopeTitle(scope))
		}
		fmt.Fprintf(&b, "%s%-10s %s\n", m.indicator(idx), row.metric, formatValue(row.value))
	}
	fmt.Fprintf(&b, "\nReports:\n")
	for idx, r := range m.reports {
		mark := "[ ]"
		if r.enabled {
			mark = "[x]"
		}
		fmt.Fprintf(&b, "%s%s %s\n", m.indicator(len(m.thresholds)+idx), mark, r.kind)
	}
	fmt.Fprintf(&b, "\nEnter to continue, q to cancel.\n")
	return b.String()
}

func (m *initWizardModel) viewConfirm() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nReady to write configuration\n\n")
	for _, scope := range []string{scopeGlobal, scopeEach} {
		var parts []string
		for _, row := range m.thresholds {
			if row.scope == scope && row.value > 0 {
				parts = append(parts, fmt.Sprintf("%s %.0f%%", row.metric, row.value))
			}
		}
		if len(parts) == 0 {
			parts = []string{"not checked"}
		}
		fmt.Fprintf(&b, "%s: %s\n", scopeTitle(scope), strings.Join(parts, ", "))
	}
	if kinds := m.enabledKinds(); len(kinds) > 0 {
		fmt.Fprintf(&b, "\nReports: %s\n", strings.Join(kinds, ", "))
	} else {
		fmt.Fprintf(&b, "\nNo reports selected; html will be written.\n")
	}
	if c := m.base.Coverage.Check; c != nil && len(c.Each.Overrides) > 0 {
		fmt.Fprintf(&b, "\nKept per-file overrides:\n")
		for _, o := range c.Each.Overrides {
			fmt.Fprintf(&b, "  - %s\n", o.Pattern)
		}
	}
	fmt.Fprintf(&b, "\nPress Enter to save, Esc to go back, q to cancel.\n")
	return b.String()
}

func (m *initWizardModel) indicator(row int) string {
	if m.cursor == row {
		return "> "
	}
	return "  "
}

// toConfig returns the starting config with the chosen thresholds and
// reports. Excludes and per-file overrides are carried over.
func (m *initWizardModel) toConfig() application.Config {
	cfg := m.base
	var check domain.CheckConfig
	if c := m.base.Coverage.Check; c != nil {
		check = *c
	}
	check.Global.Thresholds = domain.Thresholds{}
	check.Each.Thresholds = domain.Thresholds{}
	for _, row := range m.thresholds {
		if row.value <= 0 {
			continue
		}
		if row.scope == scopeGlobal {
			check.Global.Thresholds.Set(row.metric, row.value)
		} else {
			check.Each.Thresholds.Set(row.metric, row.value)
		}
	}
	cfg.Coverage.Check = nil
	if !check.Global.IsZero() || !check.Each.IsZero() || len(check.Each.Overrides) > 0 {
		cfg.Coverage.Check = &check
	}

	kinds := m.enabledKinds()
	cfg.Coverage.Reporters = nil
	cfg.Coverage.Type = ""
	switch len(kinds) {
	case 0:
	case 1:
		cfg.Coverage.Type = kinds[0]
	default:
		for _, kind := range kinds {
			cfg.Coverage.Reporters = append(cfg.Coverage.Reporters, application.ReporterConfig{Type: kind, Dir: cfg.Coverage.Dir})
		}
	}
	if !slices.Contains(cfg.Reporters, application.CoverageReporterName) {
		cfg.Reporters = append(slices.Clone(cfg.Reporters), application.CoverageReporterName)
	}
	return cfg
}

func scopeTitle(scope string) string {
	if scope == scopeGlobal {
		return "Global (all files)"
	}
	return "Each file"
}

func formatValue(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", v)
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
