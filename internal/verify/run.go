// Package verify orchestrates one geometric-verification pass: export
// the not-yet-verified matches of a kapture snapshot into a COLMAP
// database, run the external matches_importer over it, and write the
// surviving matches into the output snapshot.
package verify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/colmap-gv/internal/colmap"
	"github.com/banshee-data/colmap-gv/internal/fsutil"
	"github.com/banshee-data/colmap-gv/internal/kapture"
)

// Pipeline step names, each skippable via Options.Skip.
const (
	StepDeleteExisting  = "delete_existing"
	StepMatchesImporter = "matches_importer"
	StepImport          = "import"
	StepDeleteDB        = "delete_db"
)

// StepNames lists the skippable steps in pipeline order.
func StepNames() []string {
	return []string{StepDeleteExisting, StepMatchesImporter, StepImport, StepDeleteDB}
}

const (
	// DatabaseFileName is the fixed name of the transient COLMAP
	// database inside the output snapshot directory.
	DatabaseFileName = "colmap.db"
	// pairsListFileName holds the pair list handed to matches_importer;
	// it lives and dies with the database.
	pairsListFileName = "image_pairs.txt"
)

// Debug enables step-by-step logging.
var Debug bool

func debugf(format string, args ...any) {
	if Debug {
		log.Printf(format, args...)
	}
}

// MatchesImporter runs the external verification over a populated
// database. *colmap.Runner is the production implementation.
type MatchesImporter interface {
	MatchesImporter(ctx context.Context, dbPath, pairsPath string) error
}

// Options configures a verification run.
type Options struct {
	// InputDir holds the snapshot with unverified matches.
	InputDir string
	// OutputDir holds the snapshot with already-verified matches; new
	// results and the transient database land here.
	OutputDir string
	// ColmapBinary is the path to the colmap executable.
	ColmapBinary string
	// PairsFile optionally restricts which image pairs are considered.
	PairsFile string
	// Skip names pipeline steps to leave out.
	Skip map[string]bool
	// Force silently deletes a pre-existing database file.
	Force bool
	// Importer overrides the subprocess invocation; nil uses
	// ColmapBinary.
	Importer MatchesImporter
}

func (o Options) skip(step string) bool { return o.Skip[step] }

// ErrMissingInputs is returned when the input snapshot lacks one of
// the mandatory collections.
var ErrMissingInputs = errors.New("records_camera, sensors, keypoints and matches are mandatory in the input dataset")

// Run loads both snapshots and executes the pipeline.
func Run(ctx context.Context, opts Options) error {
	var input, output *kapture.Kapture

	// The two snapshots are independent trees; load them in parallel.
	// The pipeline steps themselves stay strictly sequential.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if input, err = kapture.Load(opts.InputDir, opts.PairsFile); err != nil {
			return fmt.Errorf("loading input dataset %s: %w", opts.InputDir, err)
		}
		return gctx.Err()
	})
	g.Go(func() error {
		var err error
		if output, err = kapture.Load(opts.OutputDir, opts.PairsFile); err != nil {
			return fmt.Errorf("loading output dataset %s: %w", opts.OutputDir, err)
		}
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return RunLoaded(ctx, input, output, opts)
}

// RunLoaded executes the pipeline over already-loaded snapshots. The
// input snapshot is mutated in memory when rigs are flattened; nothing
// under InputDir is modified on disk.
func RunLoaded(ctx context.Context, input, output *kapture.Kapture, opts Options) error {
	log.Printf("running geometric verification: %s -> %s", opts.InputDir, opts.OutputDir)

	if len(input.RecordsCamera) == 0 || len(input.Sensors) == 0 ||
		input.Keypoints == nil || len(input.Keypoints.Images) == 0 ||
		len(input.Matches) == 0 {
		return ErrMissingInputs
	}

	// COLMAP does not support rigs; replace rig poses with per-camera
	// poses before anything is exported.
	if input.Rigs != nil && input.Trajectories != nil {
		debugf("removing rig notation from trajectories")
		kapture.RigsRemoveInplace(input.Trajectories, input.Rigs)
		input.Rigs = nil
	}

	dbPath := filepath.Join(opts.OutputDir, DatabaseFileName)
	pairsPath := filepath.Join(opts.OutputDir, pairsListFileName)

	if !opts.skip(StepDeleteExisting) {
		if err := fsutil.SafeRemove(dbPath, opts.Force, "pass -f to delete it or -s delete_existing to reuse it"); err != nil {
			return err
		}
	}

	if !opts.skip(StepMatchesImporter) {
		if err := runMatchesImporter(ctx, input, output, dbPath, pairsPath, opts); err != nil {
			return fmt.Errorf("matches_importer step: %w", err)
		}
	}

	if !opts.skip(StepImport) {
		if err := importVerified(output, dbPath, opts.OutputDir); err != nil {
			return fmt.Errorf("import step: %w", err)
		}
	}

	if !opts.skip(StepDeleteDB) {
		debugf("deleting intermediate database %s", dbPath)
		if err := os.Remove(dbPath); err != nil {
			return err
		}
		if err := os.Remove(pairsPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

func runMatchesImporter(ctx context.Context, input, output *kapture.Kapture, dbPath, pairsPath string, opts Options) error {
	verified := output.Matches
	if verified == nil {
		verified = make(kapture.Matches)
	}
	toVerify := input.Matches.Difference(verified)
	debugf("%d of %d pairs still need verification", len(toVerify), len(input.Matches))

	export := &kapture.Kapture{
		RootDir:       input.RootDir,
		Sensors:       input.Sensors,
		Trajectories:  input.Trajectories,
		RecordsCamera: input.RecordsCamera,
		Keypoints:     input.Keypoints,
		Matches:       toVerify,
	}

	db, err := colmap.Open(dbPath)
	if err != nil {
		return fmt.Errorf("creating database %s: %w", dbPath, err)
	}
	if _, err := colmap.ExportKapture(db, export); err != nil {
		db.Close()
		return err
	}
	// The subprocess opens the same file; close our handle first to
	// avoid lock contention.
	if err := db.Close(); err != nil {
		return err
	}

	if err := writePairsList(pairsPath, toVerify); err != nil {
		return err
	}

	importer := opts.Importer
	if importer == nil {
		importer = colmap.NewRunner(opts.ColmapBinary)
	}
	debugf("invoking matches_importer on %s", dbPath)
	return importer.MatchesImporter(ctx, dbPath, pairsPath)
}

func importVerified(output *kapture.Kapture, dbPath, outputDir string) error {
	db, err := colmap.Open(dbPath)
	if err != nil {
		return fmt.Errorf("reopening database %s: %w", dbPath, err)
	}
	defer db.Close()

	images, err := db.Images()
	if err != nil {
		return err
	}
	matches, err := db.VerifiedMatches(images)
	if err != nil {
		return err
	}
	debugf("importing %d verified pairs", len(matches))

	// A fresh output snapshot has no image records yet; rebuild them
	// from the database so the matches have context.
	if output.RecordsCamera == nil {
		records, sensors := colmap.ImageRecords(images)
		if err := kapture.SaveRecordsCamera(outputDir, records); err != nil {
			return err
		}
		if err := kapture.SaveSensors(outputDir, sensors); err != nil {
			return err
		}
		output.RecordsCamera = records
		output.Sensors = sensors
	}

	if err := matches.Save(outputDir); err != nil {
		return err
	}
	if output.Matches == nil {
		output.Matches = make(kapture.Matches)
	}
	for pair, records := range matches {
		output.Matches[pair] = records
	}
	return nil
}

// writePairsList writes the "image1 image2" lines matches_importer
// expects.
func writePairsList(path string, matches kapture.Matches) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, pair := range matches.Pairs() {
		fmt.Fprintf(w, "%s %s\n", pair.A, pair.B)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
