package verify

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colmap-gv/internal/colmap"
	"github.com/banshee-data/colmap-gv/internal/kapture"
)

var (
	pairAB = kapture.NewPair("img0.jpg", "img1.jpg")
	pairAC = kapture.NewPair("img0.jpg", "img2.jpg")
	pairBC = kapture.NewPair("img1.jpg", "img2.jpg")
)

// writeInputSnapshot creates a snapshot with three images, keypoints
// and putative matches for all three pairs.
func writeInputSnapshot(t *testing.T, dir string, withRig bool) {
	t.Helper()

	sensors := kapture.Sensors{
		"cam0": kapture.NewCameraSensor("cam0", "", kapture.Camera{
			Model: "SIMPLE_PINHOLE", Width: 640, Height: 480, Params: []float64{500, 320, 240},
		}),
	}
	require.NoError(t, kapture.SaveSensors(dir, sensors))

	traj := make(kapture.Trajectories)
	if withRig {
		rigs := make(kapture.Rigs)
		s := math.Sqrt(0.5)
		rel, err := kapture.NewPose([4]float64{s, 0, 0, s}, [3]float64{0.1, 0, 0})
		require.NoError(t, err)
		rigs.Set("rig0", "cam0", rel)
		require.NoError(t, kapture.SaveRigs(dir, rigs))
		traj.Set(0, "rig0", kapture.IdentityPose())
	} else {
		traj.Set(0, "cam0", kapture.IdentityPose())
	}
	require.NoError(t, kapture.SaveTrajectories(dir, traj))

	records := make(kapture.RecordsCamera)
	kp := &kapture.Keypoints{Name: "SIFT", DType: "float32", DSize: 4}
	for i, image := range []string{"img0.jpg", "img1.jpg", "img2.jpg"} {
		records.Set(int64(i), "cam0", image)
		require.NoError(t, kp.SaveImageKeypoints(dir, image, []float32{
			1, float32(i), 1, 0,
			2, float32(i), 1, 0,
		}))
	}
	require.NoError(t, kapture.SaveRecordsCamera(dir, records))

	matches := kapture.Matches{
		pairAB: {{Idx1: 0, Idx2: 1, Score: 0.9}},
		pairAC: {{Idx1: 1, Idx2: 0, Score: 0.8}},
		pairBC: {{Idx1: 0, Idx2: 0, Score: 0.7}},
	}
	require.NoError(t, matches.Save(dir))
}

// writeVerifiedSnapshot marks one pair as already verified in the
// output dataset.
func writeVerifiedSnapshot(t *testing.T, dir string) {
	t.Helper()
	matches := kapture.Matches{
		pairAB: {{Idx1: 0, Idx2: 1}},
	}
	require.NoError(t, matches.Save(dir))
}

// stubImporter records invocations and runs fn against the database,
// standing in for the colmap binary.
type stubImporter struct {
	calls     int
	dbPath    string
	pairsPath string
	fn        func(dbPath string) error
}

func (s *stubImporter) MatchesImporter(_ context.Context, dbPath, pairsPath string) error {
	s.calls++
	s.dbPath = dbPath
	s.pairsPath = pairsPath
	if s.fn == nil {
		return nil
	}
	return s.fn(dbPath)
}

// acceptAll copies every exported match into two_view_geometries, the
// way a run where everything survives verification would.
func acceptAll(dbPath string) error {
	db, err := colmap.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(`
		INSERT INTO two_view_geometries (pair_id, rows, cols, data, config)
		SELECT pair_id, rows, cols, data, 2 FROM matches
	`)
	return err
}

func countMatches(t *testing.T, dbPath string) (matches, geometries int) {
	t.Helper()
	db, err := colmap.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&matches))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM two_view_geometries`).Scan(&geometries))
	return matches, geometries
}

func runOpts(input, output string, importer MatchesImporter, skip ...string) Options {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	return Options{
		InputDir:  input,
		OutputDir: output,
		Skip:      skipSet,
		Force:     true,
		Importer:  importer,
	}
}

func TestRunRejectsMissingInputs(t *testing.T) {
	t.Parallel()

	input, output := t.TempDir(), t.TempDir()
	// input snapshot left empty on purpose
	err := Run(context.Background(), runOpts(input, output, &stubImporter{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingInputs))

	// nothing was written before the validation failed
	assert.NoFileExists(t, filepath.Join(output, DatabaseFileName))
}

func TestRunExportsOnlyDifference(t *testing.T) {
	t.Parallel()

	input, output := t.TempDir(), t.TempDir()
	writeInputSnapshot(t, input, false)
	writeVerifiedSnapshot(t, output)

	// keep the database around to inspect the export
	stub := &stubImporter{}
	opts := runOpts(input, output, stub, StepImport, StepDeleteDB)
	require.NoError(t, Run(context.Background(), opts))

	require.Equal(t, 1, stub.calls)
	dbPath := filepath.Join(output, DatabaseFileName)
	assert.Equal(t, dbPath, stub.dbPath)

	// 3 putative pairs, 1 already verified: exactly 2 exported
	nMatches, nGeom := countMatches(t, dbPath)
	assert.Equal(t, 2, nMatches)
	assert.Equal(t, 0, nGeom)

	pairs, err := os.ReadFile(stub.pairsPath)
	require.NoError(t, err)
	assert.Equal(t, "img0.jpg img2.jpg\nimg1.jpg img2.jpg\n", string(pairs))
}

func TestRunSkipAllButExport(t *testing.T) {
	t.Parallel()

	input, output := t.TempDir(), t.TempDir()
	writeInputSnapshot(t, input, false)

	stub := &stubImporter{} // no-op verifier: db stays as exported
	opts := runOpts(input, output, stub, StepDeleteExisting, StepImport, StepDeleteDB)
	require.NoError(t, Run(context.Background(), opts))

	dbPath := filepath.Join(output, DatabaseFileName)
	require.FileExists(t, dbPath)
	nMatches, nGeom := countMatches(t, dbPath)
	assert.Equal(t, 3, nMatches)
	assert.Equal(t, 0, nGeom)

	// no import happened: no match files in the output dataset
	k, err := kapture.Load(output, "")
	require.NoError(t, err)
	assert.Nil(t, k.Matches)
}

func TestRunFullPipeline(t *testing.T) {
	t.Parallel()

	input, output := t.TempDir(), t.TempDir()
	writeInputSnapshot(t, input, false)
	writeVerifiedSnapshot(t, output)

	stub := &stubImporter{fn: acceptAll}
	require.NoError(t, Run(context.Background(), runOpts(input, output, stub)))

	// database and pairs list are gone
	assert.NoFileExists(t, filepath.Join(output, DatabaseFileName))
	assert.NoFileExists(t, filepath.Join(output, pairsListFileName))

	// the two freshly verified pairs joined the pre-existing one
	k, err := kapture.Load(output, "")
	require.NoError(t, err)
	require.NotNil(t, k.Matches)
	assert.ElementsMatch(t, []kapture.Pair{pairAB, pairAC, pairBC}, k.Matches.Pairs())
}

func TestRunKeepsDatabaseWhenDeleteSkipped(t *testing.T) {
	t.Parallel()

	input, output := t.TempDir(), t.TempDir()
	writeInputSnapshot(t, input, false)

	stub := &stubImporter{fn: acceptAll}
	require.NoError(t, Run(context.Background(), runOpts(input, output, stub, StepDeleteDB)))

	// database survives with the import-time contents
	dbPath := filepath.Join(output, DatabaseFileName)
	require.FileExists(t, dbPath)
	nMatches, nGeom := countMatches(t, dbPath)
	assert.Equal(t, 3, nMatches)
	assert.Equal(t, 3, nGeom)
}

func TestRunIdempotentWithForce(t *testing.T) {
	t.Parallel()

	input, output := t.TempDir(), t.TempDir()
	writeInputSnapshot(t, input, false)

	loadPairs := func() kapture.Matches {
		k, err := kapture.Load(output, "")
		require.NoError(t, err)
		return k.Matches
	}

	stub := &stubImporter{fn: acceptAll}
	require.NoError(t, Run(context.Background(), runOpts(input, output, stub)))
	first := loadPairs()

	require.NoError(t, Run(context.Background(), runOpts(input, output, stub)))
	second := loadPairs()

	assert.Empty(t, cmp.Diff(first, second))
}

func TestRunExistingDatabaseWithoutForce(t *testing.T) {
	t.Parallel()

	input, output := t.TempDir(), t.TempDir()
	writeInputSnapshot(t, input, false)
	dbPath := filepath.Join(output, DatabaseFileName)
	require.NoError(t, os.WriteFile(dbPath, []byte("stale"), 0o664))

	opts := runOpts(input, output, &stubImporter{})
	opts.Force = false
	err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))

	// the stale file was not touched
	content, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(content))
}

func TestRunFlattensRigs(t *testing.T) {
	t.Parallel()

	input, output := t.TempDir(), t.TempDir()
	writeInputSnapshot(t, input, true)

	in, err := kapture.Load(input, "")
	require.NoError(t, err)
	require.NotNil(t, in.Rigs)
	out, err := kapture.Load(output, "")
	require.NoError(t, err)

	// skip every step: only validation and rig flattening run
	opts := runOpts(input, output, &stubImporter{},
		StepDeleteExisting, StepMatchesImporter, StepImport, StepDeleteDB)
	require.NoError(t, RunLoaded(context.Background(), in, out, opts))

	assert.Nil(t, in.Rigs)
	_, hasRig := in.Trajectories.Pose(0, "rig0")
	assert.False(t, hasRig)
	_, hasCam := in.Trajectories.Pose(0, "cam0")
	assert.True(t, hasCam)

	// on-disk input stays untouched
	reloaded, err := kapture.Load(input, "")
	require.NoError(t, err)
	assert.NotNil(t, reloaded.Rigs)
	_, hasRig = reloaded.Trajectories.Pose(0, "rig0")
	assert.True(t, hasRig)
}
