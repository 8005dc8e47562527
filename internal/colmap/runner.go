package colmap

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner invokes the external COLMAP binary.
type Runner struct {
	// Binary is the path to the colmap executable; a bare name is
	// resolved via PATH.
	Binary string
}

// NewRunner creates a runner for the given binary path.
func NewRunner(binary string) *Runner {
	return &Runner{Binary: binary}
}

// MatchesImporter runs geometric verification over the matches in the
// database, restricted to the pairs listed in pairsPath. CPU-only: the
// tool runs on machines without usable GPUs, and verification is cheap
// relative to matching. Blocks until the subprocess exits.
func (r *Runner) MatchesImporter(ctx context.Context, dbPath, pairsPath string) error {
	cmd := exec.CommandContext(ctx, r.Binary, "matches_importer",
		"--database_path", dbPath,
		"--match_list_path", pairsPath,
		"--match_type", "pairs",
		"--SiftMatching.use_gpu", "0",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("colmap matches_importer failed: %w, output: %s", err, output)
	}
	return nil
}
