// Package journal implements the append-only resume journal
// (spec.md §3 Resume journal, §4.6).
package journal

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// FileName is the journal's fixed name under the install root.
const FileName = ".gogdl-resume"

// Entry is one completed-file record: `<checksum>:<support-flag>:<relpath>`.
type Entry struct {
	Checksum string
	Support  bool
	Path     string
}

// Journal appends completed-file records and can replay them on resume.
type Journal struct {
	path string
	f    *os.File
}

// Open opens (creating if absent) the journal file at <installRoot>/.gogdl-resume
// in append mode.
func Open(installRoot string) (*Journal, error) {
	path := installRoot + string(os.PathSeparator) + FileName
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return &Journal{path: path, f: f}, nil
}

// Append records a successfully closed file (spec.md §4.5 CLOSE:
// "record the closed file into the resume journal").
func (j *Journal) Append(checksum string, support bool, relPath string) error {
	flag := ""
	if support {
		flag = "support"
	}
	line := fmt.Sprintf("%s:%s:%s\n", checksum, flag, relPath)
	if _, err := j.f.WriteString(line); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return j.f.Sync()
}

// Close closes the underlying file handle.
func (j *Journal) Close() error { return j.f.Close() }

// Remove deletes the journal file entirely, called on clean run completion
// (spec.md §4.6 Shutdown: "delete the resume journal").
func Remove(installRoot string) error {
	path := installRoot + string(os.PathSeparator) + FileName
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("journal: remove: %w", err)
	}
	return nil
}

// Replay reads every record from the journal at installRoot, returning them
// in file order. A missing journal yields an empty, non-error result.
func Replay(installRoot string) ([]Entry, error) {
	path := installRoot + string(os.PathSeparator) + FileName
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, Entry{
			Checksum: parts[0],
			Support:  parts[1] == "support",
			Path:     parts[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan: %w", err)
	}
	return entries, nil
}
