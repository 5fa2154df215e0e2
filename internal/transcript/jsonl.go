// Package transcript stores agent session transcripts as JSON-Lines files,
// one file per session id.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lagz0ne/claude-web/internal/model"
)

// maxLineSize bounds a single transcript entry when replaying.
const maxLineSize = 16 * 1024 * 1024

// Log appends and replays transcripts under a directory.
type Log struct {
	dir string
	mu  sync.Mutex
}

// NewLog creates the transcript directory if needed and returns a Log rooted there.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Dir returns the directory transcripts are written to.
func (l *Log) Dir() string {
	return l.dir
}

func (l *Log) path(id string) (string, error) {
	if err := model.ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, id+".jsonl"), nil
}

// Append writes one event as a single line. The line is written with one
// write call on an O_APPEND descriptor, so a crash never interleaves or
// duplicates earlier entries. A torn tail left by an earlier crash is
// repaired first so the new line starts on a line of its own.
func (l *Log) Append(id string, event json.RawMessage) error {
	path, err := l.path(id)
	if err != nil {
		return err
	}

	var line bytes.Buffer
	if err := json.Compact(&line, event); err != nil {
		return fmt.Errorf("failed to encode transcript event: %w", err)
	}
	line.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}

	if err := repairTail(file, id); err != nil {
		file.Close()
		return fmt.Errorf("failed to repair transcript: %w", err)
	}

	if _, err := file.Write(line.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("failed to write transcript event: %w", err)
	}

	return file.Close()
}

// repairTail makes sure file ends with a newline. A complete entry missing
// only its newline gets one; a partial entry is truncated away.
func repairTail(file *os.File, id string) error {
	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	var last [1]byte
	if _, err := file.ReadAt(last[:], size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	start, err := tailStart(file, size)
	if err != nil {
		return err
	}

	fragment := make([]byte, size-start)
	if _, err := file.ReadAt(fragment, start); err != nil {
		return err
	}
	if json.Valid(bytes.TrimSpace(fragment)) {
		_, err := file.Write([]byte{'\n'})
		return err
	}

	log.Warn().Str("sessionId", id).Int64("bytes", size-start).Msg("Dropping torn transcript entry")
	return file.Truncate(start)
}

// tailStart returns the offset just past the last newline before size, or
// zero when there is none.
func tailStart(file *os.File, size int64) (int64, error) {
	buf := make([]byte, 4096)
	end := size
	for end > 0 {
		n := min(int64(len(buf)), end)
		chunk := buf[:n]
		if _, err := file.ReadAt(chunk, end-n); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return end - n + int64(i) + 1, nil
		}
		end -= n
	}
	return 0, nil
}

// Load replays a transcript in append order. A missing transcript yields an
// empty slice. A torn final line, as left by a crash mid-write, is dropped.
func (l *Log) Load(id string) ([]json.RawMessage, error) {
	path, err := l.path(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	return decode(file)
}

func decode(r io.Reader) ([]json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	events := []json.RawMessage{}
	var torn []byte
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if torn != nil {
			return nil, fmt.Errorf("corrupt transcript entry at line %d", lineNo-1)
		}
		if !json.Valid(line) {
			torn = line
			continue
		}
		events = append(events, json.RawMessage(bytes.Clone(line)))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	return events, nil
}
