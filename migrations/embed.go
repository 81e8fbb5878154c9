// Package migrations embeds the callscope schema and applies it with golang-migrate.
//
// Migration files follow the strict naming standard 001_name.(up|down).sql.
// Every up file needs a matching down file and sequences must be contiguous
// from 001.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Validation errors.
var (
	ErrNoMigrations      = errors.New("no migration files found")
	ErrInvalidFilename   = errors.New("invalid migration filename")
	ErrUnpairedMigration = errors.New("migration has no matching up/down pair")
	ErrSequenceGap       = errors.New("gap in migration sequence")
)

// FileInfo is the parsed form of a migration filename.
type FileInfo struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

// FS returns the embedded migration files.
func FS() fs.FS {
	return embedded
}

// ParseFilename parses 001_name.up.sql style names.
func ParseFilename(filename string) (FileInfo, error) {
	m := filenamePattern.FindStringSubmatch(filename)
	if len(m) != 4 {
		return FileInfo{}, fmt.Errorf("%w: %s (expected 001_name.up.sql or 001_name.down.sql)", ErrInvalidFilename, filename)
	}

	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %s: %w", ErrInvalidFilename, filename, err)
	}

	return FileInfo{Sequence: seq, Name: m[2], Direction: m[3], Filename: filename}, nil
}

// List returns the migration files of fsys in apply order. Non-.sql files are skipped.
func List(fsys fs.FS) ([]FileInfo, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []FileInfo

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		info, err := ParseFilename(entry.Name())
		if err != nil {
			return nil, err
		}

		files = append(files, info)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	return files, nil
}

// Validate checks naming, up/down pairing and sequence contiguity.
func Validate(fsys fs.FS) error {
	files, err := List(fsys)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	pairs := make(map[int]map[string]bool)
	for _, f := range files {
		if pairs[f.Sequence] == nil {
			pairs[f.Sequence] = make(map[string]bool)
		}

		pairs[f.Sequence][f.Direction] = true
	}

	sequences := make([]int, 0, len(pairs))
	for seq, dirs := range pairs {
		if !dirs["up"] || !dirs["down"] {
			return fmt.Errorf("%w: %03d", ErrUnpairedMigration, seq)
		}

		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	for i, seq := range sequences {
		if seq != i+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrSequenceGap, i+1, seq)
		}
	}

	return nil
}

// LatestVersion returns the highest sequence in fsys, 0 when empty.
func LatestVersion(fsys fs.FS) int {
	files, err := List(fsys)
	if err != nil {
		return 0
	}

	latest := 0
	for _, f := range files {
		latest = max(latest, f.Sequence)
	}

	return latest
}
