package kapture

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Keypoints describes a snapshot's keypoint collection: the descriptor
// header from keypoints.txt plus the set of images that have a keypoint
// file. Keypoint data itself is loaded per image on demand.
type Keypoints struct {
	// Name of the detector, e.g. "SIFT".
	Name string
	// DType of each component; only float32 is supported here.
	DType string
	// DSize is the number of components per keypoint. The first two
	// are always the x/y image coordinates.
	DSize  int
	Images map[string]bool
}

const (
	keypointsDirName    = "keypoints"
	keypointsHeaderFile = "keypoints.txt"
	keypointSuffix      = ".kpt"
)

// KeypointsFilePath returns the on-disk path of an image's keypoints.
func KeypointsFilePath(root, image string) string {
	return filepath.Join(root, reconstructionDirName, keypointsDirName, image+keypointSuffix)
}

// loadKeypoints reads the header and indexes the per-image files.
// Returns nil when the collection is absent.
func loadKeypoints(root string) (*Keypoints, error) {
	dir := filepath.Join(root, reconstructionDirName, keypointsDirName)
	headerPath := filepath.Join(dir, keypointsHeaderFile)
	rows, err := readCSVFile(headerPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 || len(rows[0]) != 3 {
		return nil, fmt.Errorf("%s: want a single name,dtype,dsize row", headerPath)
	}
	kp := &Keypoints{
		Name:   rows[0][0],
		DType:  rows[0][1],
		Images: make(map[string]bool),
	}
	if _, err := fmt.Sscanf(rows[0][2], "%d", &kp.DSize); err != nil || kp.DSize < 2 {
		return nil, fmt.Errorf("%s: bad dsize %q", headerPath, rows[0][2])
	}
	if kp.DType != "float32" {
		return nil, fmt.Errorf("%s: unsupported dtype %q", headerPath, kp.DType)
	}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, keypointSuffix) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		kp.Images[strings.TrimSuffix(filepath.ToSlash(rel), keypointSuffix)] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kp, nil
}

// LoadImageKeypoints reads an image's keypoint file as a flat
// little-endian float32 array of count x kp.DSize components.
func (kp *Keypoints) LoadImageKeypoints(root, image string) ([]float32, error) {
	raw, err := os.ReadFile(KeypointsFilePath(root, image))
	if err != nil {
		return nil, err
	}
	rowSize := kp.DSize * 4
	if len(raw)%rowSize != 0 {
		return nil, fmt.Errorf("keypoints for %s: size %d is not a multiple of %d", image, len(raw), rowSize)
	}
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return data, nil
}

// SaveImageKeypoints writes an image's keypoint array and, on first
// use, the collection header.
func (kp *Keypoints) SaveImageKeypoints(root, image string, data []float32) error {
	if len(data)%kp.DSize != 0 {
		return fmt.Errorf("keypoints for %s: %d components is not a multiple of dsize %d", image, len(data), kp.DSize)
	}
	dir := filepath.Join(root, reconstructionDirName, keypointsDirName)
	headerPath := filepath.Join(dir, keypointsHeaderFile)
	if _, err := os.Stat(headerPath); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o775); err != nil {
			return err
		}
		header := fmt.Sprintf("%s, %s, %d\n", kp.Name, kp.DType, kp.DSize)
		if err := os.WriteFile(headerPath, []byte(header), 0o664); err != nil {
			return err
		}
	}
	path := KeypointsFilePath(root, image)
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return err
	}
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if err := os.WriteFile(path, buf, 0o664); err != nil {
		return err
	}
	if kp.Images == nil {
		kp.Images = make(map[string]bool)
	}
	kp.Images[image] = true
	return nil
}
