package memory

import (
	"encoding/json"
	"fmt"
)

// SnapshotBuckets lists the keys a Snapshot is split into when persisted by
// the sqlite and postgres stores.
var SnapshotBuckets = []string{"sequelae", "sets", "versions", "hierarchy", "rei", "active_versions"}

func (s *Snapshot) bucketTarget(bucket string) (any, bool) {
	switch bucket {
	case "sequelae":
		return &s.Sequelae, true
	case "sets":
		return &s.Sets, true
	case "versions":
		return &s.Versions, true
	case "hierarchy":
		return &s.Hierarchy, true
	case "rei":
		return &s.Rei, true
	case "active_versions":
		return &s.ActiveVersions, true
	}
	return nil, false
}

// EncodeBuckets marshals every bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(SnapshotBuckets))
	for _, bucket := range SnapshotBuckets {
		target, _ := s.bucketTarget(bucket)
		data, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket fills one bucket from its JSON payload. Unknown buckets are
// ignored so older databases with retired buckets still load.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	target, ok := s.bucketTarget(bucket)
	if !ok || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
