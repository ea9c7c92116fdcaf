package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/siteinventory/spdash/internal/inventory"
	"github.com/siteinventory/spdash/internal/model"
	"github.com/siteinventory/spdash/internal/pipeline"
)

var (
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	inputStyle = lipgloss.NewStyle().
			Margin(1, 0, 1, 0)
	tableStyle = lipgloss.NewStyle().
			Margin(0, 0, 1, 0)
)

var (
	enterKey   = key.NewBinding(key.WithKeys("enter"), key.WithHelp("⏎", "details"))
	focusKey   = key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "toggle focus"))
	quitKey    = key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit"))
	reverseKey = key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reverse sort"))

	sortKeys = map[string]inventory.SortKey{
		"1": inventory.SortName,
		"2": inventory.SortFiles,
		"3": inventory.SortStorage,
		"4": inventory.SortLastModified,
	}
)

// Fixed column widths; the site column takes the rest.
const (
	filesCol    = 10
	sizeCol     = 12
	sharingCol  = 12
	modifiedCol = 14
	staleCol    = 8
	minSiteCol  = 16
)

type browseModel struct {
	textInput textinput.Model
	table     table.Model
	pipe      *pipeline.Pipeline
	dataset   *model.Dataset
	opts      pipeline.Options
	view      *pipeline.View
	siteWidth int
	detail    string
}

func newBrowseModel(pipe *pipeline.Pipeline, ds *model.Dataset, opts pipeline.Options) browseModel {
	ti := textinput.New()
	ti.Placeholder = "Search sites..."
	ti.Focus()
	ti.Width = 50

	if opts.Table.SortBy == "" {
		opts.Table.SortBy = inventory.SortName
	}

	t := table.New(
		table.WithRows([]table.Row{}),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(styles)

	m := browseModel{
		textInput: ti,
		table:     t,
		pipe:      pipe,
		dataset:   ds,
		opts:      opts,
		siteWidth: 40,
	}
	m.refresh()
	return m
}

func (m browseModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, quitKey):
			return m, tea.Quit
		case key.Matches(msg, focusKey):
			m.toggleFocus()
			return m, nil
		case key.Matches(msg, enterKey):
			if m.textInput.Focused() {
				m.toggleFocus()
				return m, nil
			}
			m.detail = m.describeSelected()
			return m, nil
		}

		if m.textInput.Focused() {
			before := m.textInput.Value()
			m.textInput, cmd = m.textInput.Update(msg)
			if m.textInput.Value() != before {
				m.opts.Table.Search = m.textInput.Value()
				m.refresh()
			}
			return m, cmd
		}

		if k, ok := sortKeys[msg.String()]; ok {
			if m.opts.Table.SortBy == k {
				m.opts.Table.Desc = !m.opts.Table.Desc
			} else {
				m.opts.Table.SortBy = k
				m.opts.Table.Desc = k != inventory.SortName
			}
			m.refresh()
			return m, nil
		}
		if key.Matches(msg, reverseKey) {
			m.opts.Table.Desc = !m.opts.Table.Desc
			m.refresh()
			return m, nil
		}
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.siteWidth = max(minSiteCol, msg.Width-filesCol-sizeCol-sharingCol-modifiedCol-staleCol-14)
		m.table.SetWidth(msg.Width)
		m.table.SetHeight(max(3, msg.Height-10))
		m.refresh()
		return m, nil
	}

	return m, nil
}

func (m *browseModel) toggleFocus() {
	if m.textInput.Focused() {
		m.textInput.Blur()
		m.table.Focus()
	} else {
		m.table.Blur()
		m.textInput.Focus()
	}
}

// refresh recomputes the view and rebuilds the table.
func (m *browseModel) refresh() {
	m.view = m.pipe.View(m.dataset, m.opts)

	stale := make(map[string]int, len(m.view.Stale))
	for _, s := range m.view.Stale {
		stale[s.SiteName] = s.StaleFileCount
	}

	m.table.SetColumns([]table.Column{
		{Title: m.title("Site", inventory.SortName), Width: m.siteWidth},
		{Title: m.title("Files", inventory.SortFiles), Width: filesCol},
		{Title: m.title("Size", inventory.SortStorage), Width: sizeCol},
		{Title: "Sharing", Width: sharingCol},
		{Title: m.title("Modified", inventory.SortLastModified), Width: modifiedCol},
		{Title: "Stale", Width: staleCol},
	})

	rows := make([]table.Row, 0, len(m.view.Table))
	for _, a := range m.view.Table {
		rows = append(rows, table.Row{
			a.SiteName,
			humanize.Comma(a.Files),
			formatKB(a.TotalKB),
			string(a.SharingLevel),
			formatDate(a.LastModified),
			humanize.Comma(int64(stale[a.SiteName])),
		})
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(max(0, len(rows)-1))
	}
}

func (m *browseModel) title(name string, k inventory.SortKey) string {
	if m.opts.Table.SortBy != k {
		return name
	}
	if m.opts.Table.Desc {
		return name + " ↓"
	}
	return name + " ↑"
}

func (m *browseModel) selected() (model.SiteAggregate, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.view.Table) {
		return model.SiteAggregate{}, false
	}
	return m.view.Table[i], true
}

func (m *browseModel) describeSelected() string {
	a, ok := m.selected()
	if !ok {
		return ""
	}
	var exposure []string
	if a.VisibleEveryone {
		exposure = append(exposure, "visible to everyone")
	}
	if a.VisibleExternal {
		exposure = append(exposure, "shared externally")
	}
	if len(exposure) == 0 {
		exposure = append(exposure, "organization only")
	}
	return fmt.Sprintf("%s: %s files, %s, %s, risk %s",
		a.SiteName, humanize.Comma(a.Files), formatKB(a.TotalKB),
		strings.Join(exposure, " and "), inventory.SeverityFor(a.Files))
}

func (m browseModel) View() string {
	var b strings.Builder

	b.WriteString(inputStyle.Render(m.textInput.View()))
	b.WriteString("\n")
	b.WriteString(tableStyle.Render(m.table.View()))
	b.WriteString("\n")

	s := m.view.Summary
	fmt.Fprintf(&b, "%d of %d sites, %s files, %s, stale before %s\n",
		len(m.view.Table), s.TotalSites, humanize.Comma(s.TotalFiles), formatKB(s.TotalKB),
		m.view.Threshold.Format("2006-01-02"))
	if m.detail != "" {
		b.WriteString(m.detail)
		b.WriteString("\n")
	}

	b.WriteString("\nType to search, Tab to toggle focus, 1-4 to sort, r to reverse, Enter for details, Esc to quit.\n")

	return baseStyle.Render(b.String())
}

func newBrowseCommand() *cobra.Command {
	var vf viewFlags

	cmd := &cobra.Command{
		Use:   "browse FILE",
		Short: "Browse the sites of an inventory CSV interactively",
		Long: `Browse the site table of an inventory CSV in the terminal. Type to
search by site name; in the table, 1-4 sort by name, files, size or last
modified and r reverses the order.`,
		Example: `  spdash browse inventory.csv
  spdash browse inventory.csv --risk Critical --period 2years`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := vf.options()
			if err != nil {
				return err
			}
			ds, err := loadFile(args[0], GetConfig(cmd.Context()).MaxUploadBytes())
			if err != nil {
				return err
			}

			p := tea.NewProgram(newBrowseModel(pipeline.New(0), ds, opts),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running browser: %w", err)
			}
			return nil
		},
	}

	vf.register(cmd)
	return cmd
}
