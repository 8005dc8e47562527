package kapture

import "sort"

// Trajectories maps timestamp then device_id to a pose. The device may
// be a plain sensor or a rig; after RigsRemoveInplace only sensors
// remain.
type Trajectories map[int64]map[string]PoseTransform

// Set records a pose, allocating the timestamp level as needed.
func (t Trajectories) Set(timestamp int64, deviceID string, pose PoseTransform) {
	m, ok := t[timestamp]
	if !ok {
		m = make(map[string]PoseTransform)
		t[timestamp] = m
	}
	m[deviceID] = pose
}

// Pose looks up the pose of a device at a timestamp.
func (t Trajectories) Pose(timestamp int64, deviceID string) (PoseTransform, bool) {
	m, ok := t[timestamp]
	if !ok {
		return PoseTransform{}, false
	}
	p, ok := m[deviceID]
	return p, ok
}

// Timestamps returns the timestamps in ascending order.
func (t Trajectories) Timestamps() []int64 {
	out := make([]int64, 0, len(t))
	for ts := range t {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rigs maps rig_id then sensor_id to the pose of the rig frame in the
// sensor frame (x_sensor = R * x_rig + T).
type Rigs map[string]map[string]PoseTransform

// Set records a rig-relative sensor pose.
func (r Rigs) Set(rigID, sensorID string, pose PoseTransform) {
	m, ok := r[rigID]
	if !ok {
		m = make(map[string]PoseTransform)
		r[rigID] = m
	}
	m[sensorID] = pose
}

// RigsRemoveInplace replaces every rig-keyed trajectory entry with
// per-sensor entries. The sensor pose is the rig-relative pose composed
// with the rig pose, so the result maps world straight into each sensor
// frame. COLMAP has no rig notion, so this runs before any export.
func RigsRemoveInplace(trajectories Trajectories, rigs Rigs) {
	if trajectories == nil || rigs == nil {
		return
	}
	for ts, devices := range trajectories {
		for deviceID, rigPose := range devices {
			sensors, ok := rigs[deviceID]
			if !ok {
				continue
			}
			delete(devices, deviceID)
			for sensorID, relPose := range sensors {
				devices[sensorID] = relPose.Compose(rigPose)
			}
		}
		if len(devices) == 0 {
			delete(trajectories, ts)
		}
	}
}
