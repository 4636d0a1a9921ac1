package reporter

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/iyulab/incident-advisor/internal/analyzer"
)

// FileHash records the SHA-256 hash of a saved result file.
type FileHash struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

// maxSaveAttempts bounds the numbered names tried after a collision.
const maxSaveAttempts = 100

// Save writes res as indented JSON to dir/<incident>-<timestamp>.json and
// returns the file's hash. The directory is created if needed. Existing files
// are never replaced: a name already taken gets a -2, -3, ... suffix.
func Save(dir string, res analyzer.Result) (FileHash, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return FileHash{}, fmt.Errorf("create output dir: %w", err)
	}

	data, err := encodeJSON(res)
	if err != nil {
		return FileHash{}, err
	}

	stem := fmt.Sprintf("%s-%s", safeName(res.IncidentID), res.AnalyzedAt.UTC().Format("20060102T150405Z"))
	for n := 1; n <= maxSaveAttempts; n++ {
		name := stem + ".json"
		if n > 1 {
			name = fmt.Sprintf("%s-%d.json", stem, n)
		}
		path := filepath.Join(dir, name)

		err := writeNew(path, data)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return FileHash{}, fmt.Errorf("write %s: %w", path, err)
		}
		return FileHash{File: path, SHA256: sha256Hex(data), Size: len(data)}, nil
	}
	return FileHash{}, fmt.Errorf("write %s: %d files with this name already exist", stem, maxSaveAttempts)
}

// writeNew creates path exclusively and writes data to it.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// safeName keeps letters, digits, '-', '_' and '.', replacing anything else
// so an incident id can never leave dir.
func safeName(id string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	if name == "" {
		return "incident"
	}
	return name
}

// sha256Hex computes the SHA-256 hex digest of data.
func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
