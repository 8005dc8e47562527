package kapture

import "sort"

// RecordsCamera maps timestamp then sensor_id to the image path
// relative to the snapshot's records_data directory.
type RecordsCamera map[int64]map[string]string

// Set records an image capture.
func (r RecordsCamera) Set(timestamp int64, sensorID, imagePath string) {
	m, ok := r[timestamp]
	if !ok {
		m = make(map[string]string)
		r[timestamp] = m
	}
	m[sensorID] = imagePath
}

// ImageRecord is one flattened records_camera entry.
type ImageRecord struct {
	Timestamp int64
	SensorID  string
	Image     string
}

// Images returns all records sorted by image path, then timestamp.
// The ordering is what makes database exports deterministic.
func (r RecordsCamera) Images() []ImageRecord {
	out := make([]ImageRecord, 0, len(r))
	for ts, sensors := range r {
		for sensorID, image := range sensors {
			out = append(out, ImageRecord{Timestamp: ts, SensorID: sensorID, Image: image})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Image != out[j].Image {
			return out[i].Image < out[j].Image
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
