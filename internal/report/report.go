// Package report renders a run's statistics for humans and pipelines.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dealhound/crawler/internal/stats"
	"github.com/dealhound/crawler/internal/ui"
)

// WriteText prints a human-readable summary. Colors are only emitted
// when colored is set, so file output stays clean.
func WriteText(w io.Writer, snap stats.Snapshot, colored bool) {
	style := func(code, s string) string {
		if !colored {
			return s
		}
		return code + s + ui.ColorReset
	}

	fmt.Fprintf(w, "\n%s\n", style(ui.ColorBold+ui.ColorCyan, "RUN SUMMARY"))
	rows := []struct {
		label string
		value int
		code  string
	}{
		{"Processed", snap.Processed, ui.ColorWhite},
		{"Succeeded", snap.Success, ui.ColorGreen},
		{"Failed", snap.Failure, ui.ColorRed},
		{"Retried", snap.Retries, ui.ColorYellow},
		{"No offer", snap.NoOffer, ui.ColorDim},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %-12s %s\n", row.label, style(row.code, strconv.Itoa(row.value)))
	}

	if len(snap.FieldUpdates) > 0 {
		fmt.Fprintf(w, "\n%s\n", style(ui.ColorBold+ui.ColorWhite, "Field updates"))
		for _, name := range sortedFields(snap.FieldUpdates) {
			fmt.Fprintf(w, "  %-16s %d\n", name, snap.FieldUpdates[name])
		}
	}
	fmt.Fprintln(w)
}

// WriteJSON writes the snapshot as indented JSON.
func WriteJSON(w io.Writer, snap stats.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// WriteCSV writes the snapshot as metric,value rows. Field-update
// counters get a "field_update." prefix so the column stays flat.
func WriteCSV(w io.Writer, snap stats.Snapshot) error {
	cw := csv.NewWriter(w)
	records := [][]string{
		{"metric", "value"},
		{"processed", strconv.Itoa(snap.Processed)},
		{"success", strconv.Itoa(snap.Success)},
		{"failure", strconv.Itoa(snap.Failure)},
		{"retries", strconv.Itoa(snap.Retries)},
		{"no_offer", strconv.Itoa(snap.NoOffer)},
	}
	for _, name := range sortedFields(snap.FieldUpdates) {
		records = append(records, []string{"field_update." + name, strconv.Itoa(snap.FieldUpdates[name])})
	}
	for _, rec := range records {
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the snapshot to path, picking the format from the file
// extension: .json and .csv get structured output, anything else the
// plain-text summary.
func Save(path string, snap stats.Snapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return WriteJSON(file, snap)
	case ".csv":
		return WriteCSV(file, snap)
	default:
		WriteText(file, snap, false)
		return nil
	}
}

func sortedFields(updates map[string]int) []string {
	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
