package colmap

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/colmap-gv/internal/kapture"
)

// cameraModelIDs maps kapture camera model names to COLMAP model ids.
var cameraModelIDs = map[string]int{
	"SIMPLE_PINHOLE":        0,
	"PINHOLE":               1,
	"SIMPLE_RADIAL":         2,
	"RADIAL":                3,
	"OPENCV":                4,
	"OPENCV_FISHEYE":        5,
	"FULL_OPENCV":           6,
	"FOV":                   7,
	"SIMPLE_RADIAL_FISHEYE": 8,
	"RADIAL_FISHEYE":        9,
	"THIN_PRISM_FISHEYE":    10,
}

// ExportKapture fills a fresh database with the snapshot's cameras,
// images (with prior poses where trajectories have them), keypoints
// and matches. two_view_geometries is left for the external binary to
// fill. Returns the resulting image name to id assignment.
//
// Camera and image ids are assigned in sorted order so repeated
// exports of the same snapshot produce identical databases.
func ExportKapture(db *DB, data *kapture.Kapture) (map[string]int64, error) {
	cameraIDs, err := exportCameras(db, data)
	if err != nil {
		return nil, err
	}
	imageIDs, err := exportImages(db, data, cameraIDs)
	if err != nil {
		return nil, err
	}
	if err := exportKeypoints(db, data, imageIDs); err != nil {
		return nil, err
	}
	if err := exportMatches(db, data.Matches, imageIDs); err != nil {
		return nil, err
	}
	return imageIDs, nil
}

func exportCameras(db *DB, data *kapture.Kapture) (map[string]int64, error) {
	ids := make([]string, 0, len(data.Sensors))
	for id, s := range data.Sensors {
		if s.Type == kapture.SensorTypeCamera {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	cameraIDs := make(map[string]int64, len(ids))
	for i, sensorID := range ids {
		cam, err := data.Sensors[sensorID].Camera()
		if err != nil {
			return nil, err
		}
		modelID, ok := cameraModelIDs[cam.Model]
		if !ok {
			return nil, fmt.Errorf("sensor %s: camera model %q has no COLMAP equivalent", sensorID, cam.Model)
		}
		cameraID := int64(i + 1)
		err = retryOnBusy(func() error {
			_, err := db.Exec(
				`INSERT INTO cameras (camera_id, model, width, height, params, prior_focal_length)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				cameraID, modelID, cam.Width, cam.Height, float64Blob(cam.Params), 1,
			)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("inserting camera %s: %w", sensorID, err)
		}
		cameraIDs[sensorID] = cameraID
	}
	return cameraIDs, nil
}

func exportImages(db *DB, data *kapture.Kapture, cameraIDs map[string]int64) (map[string]int64, error) {
	records := data.RecordsCamera.Images()
	imageIDs := make(map[string]int64, len(records))
	for i, rec := range records {
		cameraID, ok := cameraIDs[rec.SensorID]
		if !ok {
			return nil, fmt.Errorf("image %s references unknown camera sensor %s", rec.Image, rec.SensorID)
		}
		imageID := int64(i + 1)

		var prior [7]interface{}
		if data.Trajectories != nil {
			if pose, ok := data.Trajectories.Pose(rec.Timestamp, rec.SensorID); ok {
				q := pose.Quat()
				prior = [7]interface{}{q[0], q[1], q[2], q[3], pose.T[0], pose.T[1], pose.T[2]}
			}
		}

		err := retryOnBusy(func() error {
			_, err := db.Exec(
				`INSERT INTO images (image_id, name, camera_id,
				    prior_qw, prior_qx, prior_qy, prior_qz, prior_tx, prior_ty, prior_tz)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				imageID, rec.Image, cameraID,
				prior[0], prior[1], prior[2], prior[3], prior[4], prior[5], prior[6],
			)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("inserting image %s: %w", rec.Image, err)
		}
		imageIDs[rec.Image] = imageID
	}
	return imageIDs, nil
}

func exportKeypoints(db *DB, data *kapture.Kapture, imageIDs map[string]int64) error {
	if data.Keypoints == nil {
		return nil
	}
	for image, imageID := range imageIDs {
		if !data.Keypoints.Images[image] {
			continue
		}
		kps, err := data.Keypoints.LoadImageKeypoints(data.RootDir, image)
		if err != nil {
			return fmt.Errorf("keypoints for %s: %w", image, err)
		}
		rows := len(kps) / data.Keypoints.DSize
		err = retryOnBusy(func() error {
			_, err := db.Exec(
				`INSERT INTO keypoints (image_id, rows, cols, data) VALUES (?, ?, ?, ?)`,
				imageID, rows, data.Keypoints.DSize, float32Blob(kps),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("inserting keypoints for %s: %w", image, err)
		}
	}
	return nil
}

func exportMatches(db *DB, matches kapture.Matches, imageIDs map[string]int64) error {
	for _, pair := range matches.Pairs() {
		id1, ok := imageIDs[pair.A]
		if !ok {
			return fmt.Errorf("match pair references unknown image %s", pair.A)
		}
		id2, ok := imageIDs[pair.B]
		if !ok {
			return fmt.Errorf("match pair references unknown image %s", pair.B)
		}
		records := matches[pair]
		// pair_id keys on the smaller image id first; flip match
		// columns to stay consistent with it.
		swap := id1 > id2
		blob := make([]byte, len(records)*8)
		for i, m := range records {
			a, b := m.Idx1, m.Idx2
			if swap {
				a, b = b, a
			}
			binary.LittleEndian.PutUint32(blob[i*8:], a)
			binary.LittleEndian.PutUint32(blob[i*8+4:], b)
		}
		pairID := PairID(id1, id2)
		err := retryOnBusy(func() error {
			_, err := db.Exec(
				`INSERT INTO matches (pair_id, rows, cols, data) VALUES (?, ?, ?, ?)`,
				pairID, len(records), 2, blob,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("inserting matches for %s / %s: %w", pair.A, pair.B, err)
		}
	}
	return nil
}

func float64Blob(values []float64) []byte {
	blob := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(blob[i*8:], math.Float64bits(v))
	}
	return blob
}

func float32Blob(values []float32) []byte {
	blob := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}
