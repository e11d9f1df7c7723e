package redis

// Key layout: everything lives under the medwatch: prefix.

// SnapshotKey returns the key holding the persisted registry view.
func SnapshotKey() string {
	return "medwatch:hosts:snapshot"
}
