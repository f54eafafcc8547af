package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTableCSV(t *testing.T) {
	data := []byte("name,price\nWidget,10\nGadget,20\n")

	tbl, err := parseTable("upload.csv", data)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "price"}, tbl.headers)
	require.Len(t, tbl.rows, 2)
	assert.Equal(t, "Widget", tbl.cell(tbl.rows[0], 0))
}

func TestParseTableCSVStripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name,price\nWidget,10\n")...)

	tbl, err := parseTable("upload.csv", data)
	require.NoError(t, err)
	assert.Equal(t, "name", tbl.headers[0])
}

func TestParseTableSkipsEmptyRowsAndPads(t *testing.T) {
	data := []byte("name,price,note\n\nWidget,10\n,,\nGadget\n")

	tbl, err := parseTable("upload.csv", data)
	require.NoError(t, err)
	require.Len(t, tbl.rows, 2)
	// Short row padded to header width.
	assert.Equal(t, "", tbl.cell(tbl.rows[1], 2))
}

func TestParseTableUnsupportedFormat(t *testing.T) {
	_, err := parseTable("upload.pdf", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	// Legacy binary Excel is not readable as OOXML; reject it up front
	// instead of failing deep inside the workbook reader.
	_, err = parseTable("legacy.xls", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestTableColumnLookup(t *testing.T) {
	tbl := table{headers: []string{"name", "price"}}
	assert.Equal(t, 0, tbl.column("name"))
	assert.Equal(t, 1, tbl.column(" price "))
	assert.Equal(t, -1, tbl.column("missing"))
	assert.Equal(t, -1, tbl.column(""))
}

func TestTableRowMap(t *testing.T) {
	tbl := table{headers: []string{"name", "price"}}
	m := tbl.rowMap([]string{" Widget ", "10"})
	assert.Equal(t, map[string]string{"name": "Widget", "price": "10"}, m)
}
