// Package drives inspects plot output directories.
//
// Plot files are named {address}_{seed}_{units}_{compression}.{pocx|tmp}.
// Finished outputs carry the .pocx extension; interrupted outputs keep the
// .tmp extension until they are resumed to completion.
package drives

import (
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// ExtComplete is the extension of finished plot files.
	ExtComplete = ".pocx"

	// ExtIncomplete is the extension of interrupted plot files.
	ExtIncomplete = ".tmp"

	// SeedBytes is the decoded length of a plot seed.
	SeedBytes = 32
)

var (
	// ErrNotPlotFile indicates a filename that does not follow the plot naming scheme.
	ErrNotPlotFile = errors.New("not a plot file name")

	// ErrInvalidSeed indicates a seed field that is not 32 bytes of hex.
	ErrInvalidSeed = errors.New("invalid plot seed")
)

// PlotFileName is a parsed plot file name.
type PlotFileName struct {
	Address     string
	Seed        string
	Units       uint64
	Compression int
	Complete    bool
}

// IsPlotFilename reports whether name looks like a plot file. Only the
// structure is checked: at least four underscore separated fields and a plot
// extension.
func IsPlotFilename(name string) bool {
	parts := strings.Split(name, "_")
	if len(parts) < 4 {
		return false
	}
	last := parts[len(parts)-1]
	return strings.HasSuffix(last, ExtComplete) || strings.HasSuffix(last, ExtIncomplete)
}

// ParseFilename parses the base name of a plot file.
func ParseFilename(name string) (PlotFileName, error) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext != ExtComplete && ext != ExtIncomplete {
		return PlotFileName{}, fmt.Errorf("%w: %s", ErrNotPlotFile, base)
	}
	parts := strings.Split(strings.TrimSuffix(base, ext), "_")
	if len(parts) != 4 {
		return PlotFileName{}, fmt.Errorf("%w: %s", ErrNotPlotFile, base)
	}

	units, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return PlotFileName{}, fmt.Errorf("%w: units field %q", ErrNotPlotFile, parts[2])
	}
	compression, err := strconv.Atoi(parts[3])
	if err != nil {
		return PlotFileName{}, fmt.Errorf("%w: compression field %q", ErrNotPlotFile, parts[3])
	}

	return PlotFileName{
		Address:     parts[0],
		Seed:        parts[1],
		Units:       units,
		Compression: compression,
		Complete:    ext == ExtComplete,
	}, nil
}

// SeedFromFilename extracts the 32-byte seed from a plot file name. Only the
// second underscore separated field is examined, so names that fail full
// parsing still yield a seed when that field is valid.
func SeedFromFilename(name string) ([]byte, error) {
	parts := strings.Split(filepath.Base(name), "_")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: no seed field in %s", ErrInvalidSeed, filepath.Base(name))
	}
	seed, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(seed) != SeedBytes {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSeed, SeedBytes, len(seed))
	}
	return seed, nil
}
