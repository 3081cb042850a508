package drives

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNotDirectory indicates a drive path that is missing or not a directory.
var ErrNotDirectory = errors.New("path does not exist or is not a directory")

// File is one plot file found on a drive.
type File struct {
	Path     string       `json:"path"`
	Size     int64        `json:"size"`
	Complete bool         `json:"complete"`
	Name     PlotFileName `json:"-"`
	Parsed   bool         `json:"parsed"`
}

// Scan summarizes plot files in one directory.
type Scan struct {
	Path            string `json:"path"`
	CompleteCount   int    `json:"completeCount"`
	CompleteBytes   int64  `json:"completeBytes"`
	IncompleteCount int    `json:"incompleteCount"`
	IncompleteBytes int64  `json:"incompleteBytes"`
	Files           []File `json:"files"`
}

// CompleteUnits sums the declared units of finished plot files whose names parse.
func (s Scan) CompleteUnits() uint64 {
	var total uint64
	for _, f := range s.Files {
		if f.Complete && f.Parsed {
			total += f.Name.Units
		}
	}
	return total
}

// IncompleteUnits returns the declared units of each interrupted plot file
// in the order TempFiles reports them.
func (s Scan) IncompleteUnits() []uint64 {
	var out []uint64
	for _, f := range s.Files {
		if !f.Complete && f.Parsed {
			out = append(out, f.Name.Units)
		}
	}
	return out
}

// ScanDir inventories plot files directly inside dir. A missing directory
// yields an empty scan, matching a drive that has not been plotted yet.
func ScanDir(dir string) (Scan, error) {
	result := Scan{Path: dir, Files: []File{}}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return result, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, fmt.Errorf("read drive dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !IsPlotFilename(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}

		f := File{Path: filepath.Join(dir, entry.Name()), Size: fi.Size()}
		switch filepath.Ext(entry.Name()) {
		case ExtComplete:
			f.Complete = true
			result.CompleteCount++
			result.CompleteBytes += fi.Size()
		case ExtIncomplete:
			result.IncompleteCount++
			result.IncompleteBytes += fi.Size()
		default:
			continue
		}
		if name, err := ParseFilename(entry.Name()); err == nil {
			f.Name = name
			f.Parsed = true
		}
		result.Files = append(result.Files, f)
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	return result, nil
}

// TempFiles returns the interrupted outputs in dir, sorted by name.
func TempFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), "*"+ExtIncomplete, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob temp files: %w", err)
	}
	sort.Strings(matches)

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(dir, filepath.FromSlash(m)))
	}
	return out, nil
}
