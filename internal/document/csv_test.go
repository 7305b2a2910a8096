package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_SkipsEmptyBodies(t *testing.T) {
	input := "title,text\n" +
		"note-1,\"Kappa 1.35 mg/dL, lambda 0.9 mg/dL\"\n" +
		"note-2,\n" +
		"note-3,   \n" +
		"note-4,Ratio 1.5\n"

	docs, stats, err := ReadCSV(strings.NewReader(input), "title", "text")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, 2, stats.Skipped)
	require.Len(t, docs, 2)
	assert.Equal(t, "note-1", docs[0].Title)
	assert.Equal(t, "Kappa 1.35 mg/dL, lambda 0.9 mg/dL", docs[0].Text)
	assert.Equal(t, "note-4", docs[1].Title)
}

func TestReadCSV_ColumnOrderAndCase(t *testing.T) {
	input := "\ufeffText,Other,TITLE\nbody,x,t1\n"

	docs, _, err := ReadCSV(strings.NewReader(input), "title", "text")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "t1", docs[0].Title)
	assert.Equal(t, "body", docs[0].Text)
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("title,body\na,b\n"), "title", "text")
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadCSV_StableIDs(t *testing.T) {
	input := "title,text\nsame,first\nsame,second\n"

	first, _, err := ReadCSV(strings.NewReader(input), "title", "text")
	require.NoError(t, err)
	second, _, err := ReadCSV(strings.NewReader(input), "title", "text")
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.NotEqual(t, first[0].ID, first[1].ID, "rows sharing a title must get distinct IDs")
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)
}
