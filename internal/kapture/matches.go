package kapture

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Pair identifies an image pair. A and B are image paths with A < B;
// use NewPair to get the canonical ordering.
type Pair struct {
	A string
	B string
}

// NewPair returns the canonical (sorted) pair for two image paths.
func NewPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Match links keypoint Idx1 of the pair's first image to keypoint Idx2
// of the second, with the matcher's score.
type Match struct {
	Idx1  uint32
	Idx2  uint32
	Score float64
}

// Matches maps canonical image pairs to their match lists.
type Matches map[Pair][]Match

// Difference returns the matches whose pair key is absent from other.
// Match data is shared, not copied.
func (m Matches) Difference(other Matches) Matches {
	out := make(Matches)
	for pair, records := range m {
		if _, ok := other[pair]; !ok {
			out[pair] = records
		}
	}
	return out
}

// Pairs returns the pair keys in sorted order.
func (m Matches) Pairs() []Pair {
	out := make([]Pair, 0, len(m))
	for pair := range m {
		out = append(out, pair)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

const (
	matchesDirName = "matches"
	// Match files nest under "<imageA>.overlapping/<imageB>.matches".
	overlappingSuffix = ".overlapping"
	matchesSuffix     = ".matches"
)

// MatchesFilePath returns the on-disk path for a pair's match file.
func MatchesFilePath(root string, pair Pair) string {
	return filepath.Join(root, reconstructionDirName, matchesDirName,
		pair.A+overlappingSuffix, pair.B+matchesSuffix)
}

// loadMatches walks the matches directory and reads every match file,
// keeping only pairs listed in filter when filter is non-nil. Returns
// nil when the directory does not exist.
func loadMatches(root string, filter map[Pair]bool) (Matches, error) {
	dir := filepath.Join(root, reconstructionDirName, matchesDirName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	matches := make(Matches)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, matchesSuffix) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		pair, ok := pairFromRelPath(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		if filter != nil && !filter[pair] {
			return nil
		}
		records, err := readMatchesFile(path)
		if err != nil {
			return fmt.Errorf("match file %s: %w", rel, err)
		}
		matches[pair] = records
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches, nil
}

// pairFromRelPath decodes "<imgA>.overlapping/<imgB>.matches" back into
// a pair. imgA may itself contain slashes (nested image directories).
func pairFromRelPath(rel string) (Pair, bool) {
	idx := strings.Index(rel, overlappingSuffix+"/")
	if idx < 0 {
		return Pair{}, false
	}
	a := rel[:idx]
	b := strings.TrimSuffix(rel[idx+len(overlappingSuffix)+1:], matchesSuffix)
	if a == "" || b == "" {
		return Pair{}, false
	}
	return Pair{A: a, B: b}, true
}

// readMatchesFile reads the binary match records: little-endian float64
// triplets (idx1, idx2, score).
func readMatchesFile(path string) ([]Match, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	const recordSize = 3 * 8
	if len(raw)%recordSize != 0 {
		return nil, fmt.Errorf("size %d is not a multiple of %d", len(raw), recordSize)
	}
	records := make([]Match, 0, len(raw)/recordSize)
	for off := 0; off < len(raw); off += recordSize {
		idx1 := math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
		idx2 := math.Float64frombits(binary.LittleEndian.Uint64(raw[off+8:]))
		score := math.Float64frombits(binary.LittleEndian.Uint64(raw[off+16:]))
		records = append(records, Match{
			Idx1:  uint32(idx1),
			Idx2:  uint32(idx2),
			Score: score,
		})
	}
	return records, nil
}

// SaveMatchesFile writes one pair's match records under root, creating
// the overlapping directory as needed.
func SaveMatchesFile(root string, pair Pair, records []Match) error {
	path := MatchesFilePath(root, pair)
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return err
	}
	buf := make([]byte, len(records)*3*8)
	for i, rec := range records {
		off := i * 3 * 8
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(float64(rec.Idx1)))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(float64(rec.Idx2)))
		binary.LittleEndian.PutUint64(buf[off+16:], math.Float64bits(rec.Score))
	}
	return os.WriteFile(path, buf, 0o664)
}

// Save writes every pair's match file under root.
func (m Matches) Save(root string) error {
	for _, pair := range m.Pairs() {
		if err := SaveMatchesFile(root, pair, m[pair]); err != nil {
			return fmt.Errorf("saving matches for %s / %s: %w", pair.A, pair.B, err)
		}
	}
	return nil
}
