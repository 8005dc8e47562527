package kapture

import (
	"encoding/csv"
	"fmt"
	"os"
)

// LoadPairsFile reads an image-pair list: CSV rows of
// "image1, image2[, score]" with "#" comments. Pairs are canonicalised,
// so file order and per-row image order do not matter.
func LoadPairsFile(path string) (map[Pair]bool, error) {
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
		return nil, fmt.Errorf("parsing pairs file %s: %w", path, err)
	}

	pairs := make(map[Pair]bool, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("pairs file %s: row %v needs two image paths", path, row)
		}
		pairs[NewPair(row[0], row[1])] = true
	}
	return pairs, nil
}
