package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Drive is the planner's view of one configured output drive.
type Drive struct {
	Path string `json:"path" yaml:"path"`

	// AllocatedUnits is the capacity reserved for plotting on this drive.
	AllocatedUnits uint64 `json:"allocatedUnits" yaml:"allocatedUnits"`
}

// Settings are the inputs a plan is generated from. The fingerprint of these
// settings is stored in Plan.ConfigHash.
type Settings struct {
	Address          string  `json:"address"`
	CompressionLevel int     `json:"compressionLevel"`
	ParallelDrives   int     `json:"parallelDrives"`
	Drives           []Drive `json:"drives"`
}

type settingsHashPayload struct {
	Address          string  `json:"address"`
	CompressionLevel int     `json:"compression_level"`
	ParallelDrives   int     `json:"parallel_drives"`
	Drives           []Drive `json:"drives,omitempty"`
}

// HashSettings computes a canonical fingerprint of s.
//
// Drive paths are cleaned and sorted, and drives without allocation are
// ignored, so equivalent settings produce the same hash.
func HashSettings(s *Settings) (string, error) {
	if s == nil {
		return "", errors.New("settings are nil")
	}

	payload := buildSettingsHashPayload(s)
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal settings hash payload: %w", err)
	}

	sha := sha256.Sum256(b)
	return hex.EncodeToString(sha[:]), nil
}

func buildSettingsHashPayload(s *Settings) settingsHashPayload {
	parallel := s.ParallelDrives
	if parallel < 1 {
		parallel = 1
	}
	payload := settingsHashPayload{
		Address:          strings.TrimSpace(s.Address),
		CompressionLevel: s.CompressionLevel,
		ParallelDrives:   parallel,
	}

	for _, d := range s.Drives {
		path := strings.TrimSpace(d.Path)
		if path == "" || d.AllocatedUnits == 0 {
			continue
		}
		payload.Drives = append(payload.Drives, Drive{Path: filepath.Clean(path), AllocatedUnits: d.AllocatedUnits})
	}
	sort.Slice(payload.Drives, func(i, j int) bool {
		return payload.Drives[i].Path < payload.Drives[j].Path
	})
	return payload
}
