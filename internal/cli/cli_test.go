package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteinventory/spdash/internal/ingest"
	"github.com/siteinventory/spdash/internal/model"
	"github.com/siteinventory/spdash/internal/pipeline"
)

const inventoryCSV = `Site,FileName,Size,Modified,Permissions
Finance,budget.xlsx,2048,2020-01-15,Members
Finance,plan.docx,1024,2024-05-01,Members
Marketing,logo.png,512,2023-03-03,Everyone
`

func writeInventory(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.csv")
	require.NoError(t, os.WriteFile(path, []byte(inventoryCSV), 0o600))
	return path
}

// run executes the root command from an empty directory and returns its
// standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReport_Markdown(t *testing.T) {
	out, err := run(t, "report", writeInventory(t), "--output", "markdown")
	require.NoError(t, err)

	assert.Contains(t, out, "# SharePoint inventory: inventory.csv")
	assert.Contains(t, out, "## Sites")
	assert.Contains(t, out, "| Finance | 2 | 3.0 MiB | Only Org | 2024-05-01 |")
	assert.Contains(t, out, "## Data gravity")
	assert.Contains(t, out, "## File types")
}

func TestReport_JSON(t *testing.T) {
	out, err := run(t, "report", writeInventory(t), "-o", "json", "--file-type", "xlsx")
	require.NoError(t, err)

	var got reportJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "inventory.csv", got.Dataset)
	assert.Equal(t, 3, got.RowCount)
	assert.Equal(t, 1, got.Filtered)
	assert.Equal(t, 1, got.Summary.TotalSites)
	require.Len(t, got.Sites, 1)
	assert.Equal(t, "Finance", got.Sites[0].SiteName)
	assert.Equal(t, "Site", got.Roles.Site)
}

func TestReport_AutoIsCSVWhenPiped(t *testing.T) {
	out, err := run(t, "report", writeInventory(t), "--sort", "files", "--desc")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `"Site Name","Files","Total KB","Total MB","Sharing Level","Last Modified"`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `"Finance","2"`), lines[1])
}

func TestReport_InvalidFlags(t *testing.T) {
	path := writeInventory(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"period", []string{"--period", "3years"}, "period"},
		{"metric", []string{"--metric", "size"}, "metric"},
		{"sort", []string{"--sort", "owner"}, "sort"},
		{"output", []string{"--output", "xml"}, "output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"report", path}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReport_MissingFile(t *testing.T) {
	_, err := run(t, "report", filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestExport_ToFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "gravity.json")
	_, err := run(t, "export", writeInventory(t), "--view", "gravity", "--format", "json", "--out", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var entries []model.GravityEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "Finance", entries[0].Site.SiteName)
}

func TestExport_StaleCSV(t *testing.T) {
	out, err := run(t, "export", writeInventory(t), "--view", "stale", "--period", "5years")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, `"Site Name","Stale Files","Stale KB","Oldest Modified"`))
	assert.Contains(t, out, `"Finance","1","2048.00","2020-01-15"`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestExport_UnknownView(t *testing.T) {
	_, err := run(t, "export", writeInventory(t), "--view", "owners")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owners")
}

func TestServe_FlagsAreConfig(t *testing.T) {
	_, err := run(t, "serve", "--watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch requires a dataset")
}

func TestResolveOutput(t *testing.T) {
	mode, err := resolveOutput("auto", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, outputCSV, mode)

	mode, err = resolveOutput("markdown", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, outputMarkdown, mode)
}

func newTestBrowser(t *testing.T) browseModel {
	t.Helper()
	ds, err := ingest.Load("inventory.csv", []byte(inventoryCSV))
	require.NoError(t, err)
	return newBrowseModel(pipeline.New(0), ds, pipeline.Options{})
}

func press(t *testing.T, m browseModel, keys ...string) browseModel {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(browseModel)
	}
	return m
}

func siteColumn(m browseModel) []string {
	var out []string
	for _, r := range m.table.Rows() {
		out = append(out, r[0])
	}
	return out
}

func TestBrowse_Search(t *testing.T) {
	m := newTestBrowser(t)
	assert.Equal(t, []string{"Finance", "Marketing"}, siteColumn(m))

	m = press(t, m, "m", "a", "r", "k")
	assert.Equal(t, "mark", m.textInput.Value())
	assert.Equal(t, []string{"Marketing"}, siteColumn(m))
	assert.Contains(t, m.View(), "1 of 2 sites")
}

func TestBrowse_SortToggles(t *testing.T) {
	m := newTestBrowser(t)
	m = press(t, m, "tab")
	require.True(t, m.table.Focused())

	m = press(t, m, "3")
	assert.Equal(t, []string{"Finance", "Marketing"}, siteColumn(m), "storage sorts descending first")
	assert.Equal(t, "Size ↓", m.table.Columns()[2].Title)

	m = press(t, m, "3")
	assert.Equal(t, []string{"Marketing", "Finance"}, siteColumn(m))

	m = press(t, m, "r")
	assert.Equal(t, []string{"Finance", "Marketing"}, siteColumn(m))

	m = press(t, m, "1")
	assert.Equal(t, []string{"Finance", "Marketing"}, siteColumn(m))
	assert.Equal(t, "Site ↑", m.table.Columns()[0].Title)
}

func TestBrowse_Details(t *testing.T) {
	m := newTestBrowser(t)
	m = press(t, m, "enter")
	require.True(t, m.table.Focused(), "enter in the search box moves to the table")

	m = press(t, m, "3", "3", "enter")
	assert.Contains(t, m.detail, "Marketing")
	assert.Contains(t, m.detail, "visible to everyone")
	assert.Contains(t, m.View(), m.detail)
}
