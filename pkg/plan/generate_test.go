package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestGenerate_BatchesAcrossParallelDrives(t *testing.T) {
	s := &Settings{
		Address:        "addr",
		ParallelDrives: 2,
		Drives: []Drive{
			{Path: "/mnt/b", AllocatedUnits: 1024},
			{Path: "/mnt/a", AllocatedUnits: 1500},
		},
	}

	p, err := Generate(s, nil, GenerateOptions{Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, p.Version)
	assert.Equal(t, fixedNow().Unix(), p.GeneratedAt)

	hash, err := HashSettings(s)
	require.NoError(t, err)
	assert.Equal(t, hash, p.ConfigHash)

	assert.Equal(t, []Item{
		Plot("/mnt/a", 1024, 0),
		Plot("/mnt/b", 1024, 0),
		Checkpoint("/mnt/b"),
		Plot("/mnt/a", 476, 1),
		Checkpoint("/mnt/a"),
	}, p.Items)
}

func TestGenerate_ResumesFirstAndReportsFinished(t *testing.T) {
	s := &Settings{
		Address:        "addr",
		ParallelDrives: 1,
		Drives: []Drive{
			{Path: "/mnt/a", AllocatedUnits: 100},
			{Path: "/mnt/b", AllocatedUnits: 50},
			{Path: "/mnt/c", AllocatedUnits: 70},
		},
	}
	inv := map[string]DriveInventory{
		"/mnt/a": {CompleteUnits: 40, Incomplete: []uint64{20}},
		"/mnt/b": {CompleteUnits: 50},
		"/mnt/c": {CompleteUnits: 10, Incomplete: []uint64{60}},
	}

	p, err := Generate(s, inv, GenerateOptions{Now: fixedNow, MaxFileUnits: 25})
	require.NoError(t, err)

	assert.Equal(t, []string{"/mnt/b"}, p.FinishedDrives)
	assert.Equal(t, []Item{
		Resume("/mnt/a", 0, 20),
		Resume("/mnt/c", 0, 60),
		Checkpoint("/mnt/c"),
		Plot("/mnt/a", 25, 0),
		Plot("/mnt/a", 15, 1),
		Checkpoint("/mnt/a"),
	}, p.Items)
}

func TestGenerate_Errors(t *testing.T) {
	_, err := Generate(nil, nil, GenerateOptions{})
	require.Error(t, err)

	_, err = Generate(&Settings{}, nil, GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address")
}

func TestGenerate_NothingToDo(t *testing.T) {
	p, err := Generate(&Settings{Address: "addr"}, nil, GenerateOptions{Now: fixedNow})
	require.NoError(t, err)
	assert.Empty(t, p.Items)
}

func TestHashSettings_Canonical(t *testing.T) {
	a := &Settings{
		Address: " addr ",
		Drives: []Drive{
			{Path: "/mnt/b/", AllocatedUnits: 2},
			{Path: "/mnt/a", AllocatedUnits: 1},
			{Path: "/mnt/unused", AllocatedUnits: 0},
		},
	}
	b := &Settings{
		Address:        "addr",
		ParallelDrives: 1,
		Drives: []Drive{
			{Path: "/mnt/a", AllocatedUnits: 1},
			{Path: "/mnt/b", AllocatedUnits: 2},
		},
	}

	ha, err := HashSettings(a)
	require.NoError(t, err)
	hb, err := HashSettings(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	b.CompressionLevel = 2
	hc, err := HashSettings(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)

	_, err = HashSettings(nil)
	require.Error(t, err)
}
