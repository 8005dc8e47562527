package colmap

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/colmap-gv/internal/kapture"
)

// Image is one row of the images table.
type Image struct {
	ID       int64
	Name     string
	CameraID int64
}

// Images reads the images table back, keyed by image id.
func (db *DB) Images() (map[int64]Image, error) {
	rows, err := db.Query(`SELECT image_id, name, camera_id FROM images`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := make(map[int64]Image)
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.Name, &img.CameraID); err != nil {
			return nil, err
		}
		images[img.ID] = img
	}
	return images, rows.Err()
}

// ImageRecords rebuilds a kapture records_camera collection from the
// images table. The database carries no timestamps, so image ids stand
// in for them; cameras get a minted sensor id each.
func ImageRecords(images map[int64]Image) (kapture.RecordsCamera, kapture.Sensors) {
	sensorIDs := make(map[int64]string)
	sensors := make(kapture.Sensors)
	records := make(kapture.RecordsCamera)
	for _, img := range images {
		sensorID, ok := sensorIDs[img.CameraID]
		if !ok {
			sensorID = "sensor-" + uuid.New().String()
			sensorIDs[img.CameraID] = sensorID
			sensors[sensorID] = &kapture.Sensor{ID: sensorID, Type: kapture.SensorTypeCamera}
		}
		records.Set(img.ID, sensorID, img.Name)
	}
	return records, sensors
}

// VerifiedMatches reads the two_view_geometries table: the inlier
// matches the external binary kept after geometric verification. Pairs
// with zero surviving rows are dropped.
func (db *DB) VerifiedMatches(images map[int64]Image) (kapture.Matches, error) {
	rows, err := db.Query(`SELECT pair_id, rows, cols, data FROM two_view_geometries WHERE rows > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make(kapture.Matches)
	for rows.Next() {
		var pairID int64
		var nRows, nCols int
		var blob []byte
		if err := rows.Scan(&pairID, &nRows, &nCols, &blob); err != nil {
			return nil, err
		}
		if nCols != 2 {
			return nil, fmt.Errorf("pair %d: want 2 match columns, got %d", pairID, nCols)
		}
		if len(blob) < nRows*8 {
			return nil, fmt.Errorf("pair %d: blob holds %d bytes for %d matches", pairID, len(blob), nRows)
		}

		id1, id2 := SplitPairID(pairID)
		img1, ok := images[id1]
		if !ok {
			return nil, fmt.Errorf("pair %d references unknown image id %d", pairID, id1)
		}
		img2, ok := images[id2]
		if !ok {
			return nil, fmt.Errorf("pair %d references unknown image id %d", pairID, id2)
		}

		// The canonical kapture pair sorts by image name; flip the
		// index columns when that disagrees with the id order.
		pair := kapture.NewPair(img1.Name, img2.Name)
		swap := pair.A != img1.Name
		records := make([]kapture.Match, 0, nRows)
		for i := 0; i < nRows; i++ {
			a := binary.LittleEndian.Uint32(blob[i*8:])
			b := binary.LittleEndian.Uint32(blob[i*8+4:])
			if swap {
				a, b = b, a
			}
			records = append(records, kapture.Match{Idx1: a, Idx2: b})
		}
		matches[pair] = records
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}
