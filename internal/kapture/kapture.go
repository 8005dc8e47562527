// Package kapture reads and writes structure-from-motion dataset
// snapshots in the kapture v1.0 directory layout: sensor definitions,
// rigs, trajectories and image records as CSV under sensors/, and
// binary keypoint and match files under reconstruction/.
package kapture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const (
	sensorsDirName        = "sensors"
	reconstructionDirName = "reconstruction"

	sensorsFileName      = "sensors.txt"
	rigsFileName         = "rigs.txt"
	trajectoriesFileName = "trajectories.txt"
	recordsFileName      = "records_camera.txt"
)

// Kapture aggregates one dataset snapshot. Optional collections (Rigs,
// Trajectories, Keypoints, Matches) are nil when absent on disk.
type Kapture struct {
	RootDir       string
	Sensors       Sensors
	Rigs          Rigs
	Trajectories  Trajectories
	RecordsCamera RecordsCamera
	Keypoints     *Keypoints
	Matches       Matches
}

// Load reads a snapshot from dir. When pairsFile is non-empty, only
// matches whose canonical pair appears in the file are loaded.
func Load(dir, pairsFile string) (*Kapture, error) {
	k := &Kapture{RootDir: dir}

	var err error
	if k.Sensors, err = loadSensors(dir); err != nil {
		return nil, err
	}
	if k.Rigs, err = loadRigs(dir); err != nil {
		return nil, err
	}
	if k.Trajectories, err = loadTrajectories(dir); err != nil {
		return nil, err
	}
	if k.RecordsCamera, err = loadRecordsCamera(dir); err != nil {
		return nil, err
	}
	if k.Keypoints, err = loadKeypoints(dir); err != nil {
		return nil, err
	}

	var filter map[Pair]bool
	if pairsFile != "" {
		if filter, err = LoadPairsFile(pairsFile); err != nil {
			return nil, err
		}
	}
	if k.Matches, err = loadMatches(dir, filter); err != nil {
		return nil, err
	}
	return k, nil
}

func loadSensors(root string) (Sensors, error) {
	rows, err := readCSVFile(filepath.Join(root, sensorsDirName, sensorsFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sensors := make(Sensors, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("sensors.txt: row %v needs sensor_id, name, sensor_type", row)
		}
		sensors[row[0]] = &Sensor{
			ID:     row[0],
			Name:   row[1],
			Type:   row[2],
			Params: row[3:],
		}
	}
	return sensors, nil
}

func loadRigs(root string) (Rigs, error) {
	rows, err := readCSVFile(filepath.Join(root, sensorsDirName, rigsFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rigs := make(Rigs)
	for _, row := range rows {
		if len(row) != 9 {
			return nil, fmt.Errorf("rigs.txt: row %v needs rig_id, sensor_id and 7 pose fields", row)
		}
		pose, err := parsePose(row[2:])
		if err != nil {
			return nil, fmt.Errorf("rigs.txt: %w", err)
		}
		rigs.Set(row[0], row[1], pose)
	}
	if len(rigs) == 0 {
		return nil, nil
	}
	return rigs, nil
}

func loadTrajectories(root string) (Trajectories, error) {
	rows, err := readCSVFile(filepath.Join(root, sensorsDirName, trajectoriesFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	traj := make(Trajectories)
	for _, row := range rows {
		if len(row) != 9 {
			return nil, fmt.Errorf("trajectories.txt: row %v needs timestamp, device_id and 7 pose fields", row)
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("trajectories.txt: bad timestamp %q", row[0])
		}
		pose, err := parsePose(row[2:])
		if err != nil {
			return nil, fmt.Errorf("trajectories.txt: %w", err)
		}
		traj.Set(ts, row[1], pose)
	}
	if len(traj) == 0 {
		return nil, nil
	}
	return traj, nil
}

func loadRecordsCamera(root string) (RecordsCamera, error) {
	rows, err := readCSVFile(filepath.Join(root, sensorsDirName, recordsFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	records := make(RecordsCamera)
	for _, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("records_camera.txt: row %v needs timestamp, sensor_id, image_path", row)
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("records_camera.txt: bad timestamp %q", row[0])
		}
		records.Set(ts, row[1], row[2])
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}

func parsePose(fields []string) (PoseTransform, error) {
	var v [7]float64
	for i, s := range fields {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return PoseTransform{}, fmt.Errorf("bad pose field %q", s)
		}
		v[i] = f
	}
	return NewPose([4]float64{v[0], v[1], v[2], v[3]}, [3]float64{v[4], v[5], v[6]})
}

func formatPose(p PoseTransform) []string {
	q := p.Quat()
	out := make([]string, 0, 7)
	for _, f := range []float64{q[0], q[1], q[2], q[3], p.T[0], p.T[1], p.T[2]} {
		out = append(out, strconv.FormatFloat(f, 'g', -1, 64))
	}
	return out
}

// SaveSensors writes sensors.txt, rows sorted by sensor_id.
func SaveSensors(root string, sensors Sensors) error {
	ids := make([]string, 0, len(sensors))
	for id := range sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		s := sensors[id]
		rows = append(rows, append([]string{s.ID, s.Name, s.Type}, s.Params...))
	}
	return writeCSVFile(filepath.Join(root, sensorsDirName, sensorsFileName),
		"sensor_id, name, sensor_type, [sensor_params]+", rows)
}

// SaveRigs writes rigs.txt.
func SaveRigs(root string, rigs Rigs) error {
	rigIDs := make([]string, 0, len(rigs))
	for id := range rigs {
		rigIDs = append(rigIDs, id)
	}
	sort.Strings(rigIDs)
	var rows [][]string
	for _, rigID := range rigIDs {
		sensorIDs := make([]string, 0, len(rigs[rigID]))
		for id := range rigs[rigID] {
			sensorIDs = append(sensorIDs, id)
		}
		sort.Strings(sensorIDs)
		for _, sensorID := range sensorIDs {
			rows = append(rows, append([]string{rigID, sensorID}, formatPose(rigs[rigID][sensorID])...))
		}
	}
	return writeCSVFile(filepath.Join(root, sensorsDirName, rigsFileName),
		"rig_id, sensor_id, qw, qx, qy, qz, tx, ty, tz", rows)
}

// SaveTrajectories writes trajectories.txt, rows ordered by timestamp
// then device_id.
func SaveTrajectories(root string, traj Trajectories) error {
	var rows [][]string
	for _, ts := range traj.Timestamps() {
		deviceIDs := make([]string, 0, len(traj[ts]))
		for id := range traj[ts] {
			deviceIDs = append(deviceIDs, id)
		}
		sort.Strings(deviceIDs)
		for _, deviceID := range deviceIDs {
			row := append([]string{strconv.FormatInt(ts, 10), deviceID}, formatPose(traj[ts][deviceID])...)
			rows = append(rows, row)
		}
	}
	return writeCSVFile(filepath.Join(root, sensorsDirName, trajectoriesFileName),
		"timestamp, device_id, qw, qx, qy, qz, tx, ty, tz", rows)
}

// SaveRecordsCamera writes records_camera.txt, rows ordered by
// timestamp then sensor_id.
func SaveRecordsCamera(root string, records RecordsCamera) error {
	timestamps := make([]int64, 0, len(records))
	for ts := range records {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	var rows [][]string
	for _, ts := range timestamps {
		sensorIDs := make([]string, 0, len(records[ts]))
		for id := range records[ts] {
			sensorIDs = append(sensorIDs, id)
		}
		sort.Strings(sensorIDs)
		for _, sensorID := range sensorIDs {
			rows = append(rows, []string{strconv.FormatInt(ts, 10), sensorID, records[ts][sensorID]})
		}
	}
	return writeCSVFile(filepath.Join(root, sensorsDirName, recordsFileName),
		"timestamp, device_id, image_path", rows)
}
