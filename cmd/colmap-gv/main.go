// colmap-gv runs COLMAP geometric verification over the matches of a
// kapture dataset and imports the surviving matches back.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/colmap-gv/internal/verify"
	"github.com/banshee-data/colmap-gv/internal/version"
)

// stepList is a repeatable, comma-separable flag value restricted to
// the pipeline's step names.
type stepList map[string]bool

func (s stepList) String() string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return strings.Join(names, ",")
}

func (s stepList) Set(value string) error {
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !validSteps[name] {
			return fmt.Errorf("unknown step %q (valid: %s)", name, strings.Join(verify.StepNames(), ", "))
		}
		s[name] = true
	}
	return nil
}

var validSteps = func() map[string]bool {
	m := make(map[string]bool)
	for _, name := range verify.StepNames() {
		m[name] = true
	}
	return m
}()

var (
	verbose      = flag.Bool("v", false, "enable debug logging")
	quiet        = flag.Bool("q", false, "log errors only")
	force        = flag.Bool("f", false, "silently delete the database file if it already exists")
	inputDir     = flag.String("i", "", "kapture root directory containing the unverified matches (required)")
	outputDir    = flag.String("o", "", "kapture root directory receiving the verified matches (required)")
	pairsFile    = flag.String("pairsfile-path", "", "text file listing the image pairs to load")
	colmapBinary = flag.String("colmap", "colmap", "path to the colmap binary (bare name is resolved via PATH)")
	showVersion  = flag.Bool("version", false, "print version and exit")

	skip = make(stepList)
)

func main() {
	flag.Var(skip, "s", "step to skip (repeatable or comma-separated): "+strings.Join(verify.StepNames(), ", "))
	flag.Var(skip, "skip", "alias for -s")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("colmap-gv %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *inputDir == "" || *outputDir == "" {
		fmt.Fprintln(os.Stderr, "both -i and -o are required")
		printUsage()
		os.Exit(1)
	}

	verify.Debug = *verbose
	if *quiet {
		// fatal errors still reach stderr below
		log.SetOutput(io.Discard)
		verify.Debug = false
	}

	opts := verify.Options{
		InputDir:     *inputDir,
		OutputDir:    *outputDir,
		ColmapBinary: *colmapBinary,
		PairsFile:    *pairsFile,
		Skip:         skip,
		Force:        *force,
	}

	if err := verify.Run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "geometric verification failed: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `colmap-gv - run COLMAP matches_importer over kapture matches and import the results

Usage: colmap-gv -i <input-dir> -o <output-dir> [options]

Options:
  -i <dir>               kapture root directory with unverified matches (required)
  -o <dir>               kapture root directory with verified matches (required)
  -pairsfile-path <file> restrict the run to the image pairs listed in the file
  -colmap <path>         colmap binary (default "colmap", resolved via PATH)
  -s, -skip <steps>      steps to skip: delete_existing, matches_importer, import, delete_db
  -f                     silently delete an existing colmap.db
  -v                     debug logging
  -q                     quiet logging
  -version               print version and exit

The intermediate database is written to <output-dir>/colmap.db and
deleted at the end of the run unless delete_db is skipped.`)
}
