package plan

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileUnits caps the size of a single generated output.
const DefaultMaxFileUnits uint64 = 1024

// DriveInventory describes what already exists on a drive.
type DriveInventory struct {
	// CompleteUnits is the capacity of finished outputs.
	CompleteUnits uint64

	// Incomplete lists the remaining capacity of each interrupted output.
	Incomplete []uint64
}

// GenerateOptions tunes plan generation.
type GenerateOptions struct {
	MaxFileUnits uint64
	Now          func() time.Time
}

// Generate builds a plan for the configured drives.
//
// Interrupted outputs are resumed first. Remaining capacity is split into
// outputs of at most MaxFileUnits and drives are plotted in groups of
// ParallelDrives, one output per drive per batch. A checkpoint follows the
// batch in which a drive receives its last output.
func Generate(s *Settings, inventory map[string]DriveInventory, opts GenerateOptions) (*Plan, error) {
	if s == nil {
		return nil, errors.New("settings are nil")
	}
	if strings.TrimSpace(s.Address) == "" {
		return nil, errors.New("plotting address is required")
	}
	maxUnits := opts.MaxFileUnits
	if maxUnits == 0 {
		maxUnits = DefaultMaxFileUnits
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	parallel := s.ParallelDrives
	if parallel < 1 {
		parallel = 1
	}

	hash, err := HashSettings(s)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		Version:     CurrentVersion,
		GeneratedAt: now().Unix(),
		ConfigHash:  hash,
		Items:       []Item{},
	}

	type pending struct {
		path  string
		files []uint64
	}
	var work []pending

	for _, d := range buildSettingsHashPayload(s).Drives {
		inv := inventory[d.Path]
		used := inv.CompleteUnits
		for i, units := range inv.Incomplete {
			if units == 0 {
				continue
			}
			p.Items = append(p.Items, Resume(d.Path, i, units))
			used += units
		}

		var files []uint64
		if d.AllocatedUnits > used {
			remaining := d.AllocatedUnits - used
			for remaining > 0 {
				n := min(remaining, maxUnits)
				files = append(files, n)
				remaining -= n
			}
		}

		switch {
		case len(files) > 0:
			work = append(work, pending{path: d.Path, files: files})
		case len(inv.Incomplete) > 0:
			p.Items = append(p.Items, Checkpoint(d.Path))
		default:
			p.FinishedDrives = append(p.FinishedDrives, d.Path)
		}
	}

	var batchID uint32
	for start := 0; start < len(work); start += parallel {
		group := work[start:min(start+parallel, len(work))]
		for round := 0; ; round++ {
			var finished []string
			produced := false
			for _, w := range group {
				if round >= len(w.files) {
					continue
				}
				p.Items = append(p.Items, Plot(w.path, w.files[round], batchID))
				produced = true
				if round == len(w.files)-1 {
					finished = append(finished, w.path)
				}
			}
			if !produced {
				break
			}
			batchID++
			for _, path := range finished {
				p.Items = append(p.Items, Checkpoint(path))
			}
		}
	}

	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("generated plan is invalid: %w", err)
	}
	return p, nil
}

// DriveKey normalizes a drive path the way Generate keys its inventory.
func DriveKey(path string) string {
	return filepath.Clean(strings.TrimSpace(path))
}
