package kapture

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kapture text files are plain CSV with "# ..." comment lines and a
// space after each comma. encoding/csv with TrimLeadingSpace reads
// them directly; writing re-adds the space for readability.

func readCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	out := rows[:0]
	for _, row := range rows {
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func writeCSVFile(path, header string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if header != "" {
		fmt.Fprintf(w, "# %s\n", header)
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, ", "))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
