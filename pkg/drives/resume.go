package drives

import (
	"errors"
	"fmt"
)

// ErrNoTempFile indicates a resume target directory without interrupted outputs.
var ErrNoTempFile = errors.New("no .tmp files found")

// ResumeTarget identifies the interrupted output a resume continues.
type ResumeTarget struct {
	TempFile string
	Seed     []byte
}

// ResolveResume picks the interrupted output to continue in dir: the first
// .tmp file by name. Its seed must decode to exactly 32 bytes.
func ResolveResume(dir string) (ResumeTarget, error) {
	files, err := TempFiles(dir)
	if err != nil {
		return ResumeTarget{}, err
	}
	if len(files) == 0 {
		return ResumeTarget{}, fmt.Errorf("%w in %s", ErrNoTempFile, dir)
	}

	seed, err := SeedFromFilename(files[0])
	if err != nil {
		return ResumeTarget{}, fmt.Errorf("%s: %w", files[0], err)
	}
	return ResumeTarget{TempFile: files[0], Seed: seed}, nil
}
