package csvparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_HeaderAndRows(t *testing.T) {
	headers, rows := Parse("Site,Size\r\nA,100\r\nB,50\r\n")

	assert.Equal(t, []string{"Site", "Size"}, headers)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].Get("Site"))
	assert.Equal(t, "50", rows[1].Get("Size"))
}

func TestParse_SkipsBlankLinesAnywhere(t *testing.T) {
	headers, rows := Parse("\n\n  \nSite,Size\n\nA,1\n   \n\nB,2\n\n")

	assert.Equal(t, []string{"Site", "Size"}, headers)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[1].Get("Site"))
}

func TestParse_RaggedRows(t *testing.T) {
	_, rows := Parse("a,b,c\n1\n1,2,3,4,5\n")
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"1", "", ""}, rows[0].Fields())
	assert.Equal(t, []string{"1", "2", "3"}, rows[1].Fields())
	assert.Len(t, rows[1].Values, 3)
}

func TestParse_HeaderOnly(t *testing.T) {
	headers, rows := Parse("Site,Files\n")

	assert.Equal(t, []string{"Site", "Files"}, headers)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

func TestParse_Empty(t *testing.T) {
	headers, rows := Parse("")

	assert.Nil(t, headers)
	assert.Empty(t, rows)
}

func TestParse_TrimsHeaderCells(t *testing.T) {
	headers, rows := Parse(" Site , Size \nA,1\n")

	assert.Equal(t, []string{"Site", "Size"}, headers)
	assert.Equal(t, "1", rows[0].Get("Size"))
}

func TestSplitLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"plain", "a,b,c", []string{"a", "b", "c"}},
		{"quoted comma", `"a,b",c`, []string{"a,b", "c"}},
		{"escaped quote", `"say ""hi""",x`, []string{`say "hi"`, "x"}},
		{"empty quoted", `"",x`, []string{"", "x"}},
		{"empty fields", ",,", []string{"", "", ""}},
		{"unterminated quote", `a,"b,c,d`, []string{"a", "b,c,d"}},
		{"trailing comma", "a,", []string{"a", ""}},
		{"spaces kept", " a , b ", []string{" a ", " b "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitLine(tt.line))
		})
	}
}

func TestParse_RowTextFollowsHeaderOrder(t *testing.T) {
	_, rows := Parse("z,a,m\n1,2,3\n")
	require.Len(t, rows, 1)

	assert.Equal(t, "1 2 3", rows[0].Text())
}
