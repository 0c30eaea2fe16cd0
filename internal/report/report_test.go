package report

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealhound/crawler/internal/stats"
)

func sample() stats.Snapshot {
	return stats.Snapshot{
		Processed: 10,
		Success:   8,
		Failure:   2,
		Retries:   3,
		NoOffer:   1,
		FieldUpdates: map[string]int{
			"price":       5,
			"coupon_code": 2,
		},
	}
}

func TestWriteTextPlain(t *testing.T) {
	var buf bytes.Buffer
	WriteText(&buf, sample(), false)

	out := buf.String()
	assert.Contains(t, out, "RUN SUMMARY")
	assert.Contains(t, out, "Processed")
	assert.Contains(t, out, "price")
	assert.NotContains(t, out, "\033[", "plain output must carry no ANSI codes")
}

func TestWriteTextColored(t *testing.T) {
	var buf bytes.Buffer
	WriteText(&buf, sample(), true)
	assert.Contains(t, buf.String(), "\033[")
}

func TestWriteJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sample()))

	var got stats.Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, sample(), got)
}

func TestWriteCSVRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "metric,value", lines[0])
	assert.Contains(t, lines, "processed,10")
	assert.Contains(t, lines, "field_update.coupon_code,2")
}

func TestSavePicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, Save(jsonPath, sample()))
	csvPath := filepath.Join(dir, "report.csv")
	require.NoError(t, Save(csvPath, sample()))
	txtPath := filepath.Join(dir, "report.txt")
	require.NoError(t, Save(txtPath, sample()))

	for _, path := range []string{jsonPath, csvPath, txtPath} {
		assert.FileExists(t, path)
	}
}
