package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultPoll   = 250 * time.Millisecond
	maxLineLength = 1024 * 1024
)

// Last returns up to limit trailing lines of path (all lines when limit is
// not positive) and the file size, which is the offset Follow should resume
// from. A missing file yields offset 0.
func Last(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		var all []string
		if err := scanLines(file, func(line string) { all = append(all, line) }); err != nil {
			return nil, 0, err
		}
		return all, info.Size(), nil
	}

	ring := make([]string, limit)
	count, idx := 0, 0
	if err := scanLines(file, func(line string) {
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}); err != nil {
		return nil, 0, err
	}

	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, info.Size(), nil
}

// FollowOptions tunes Follow.
type FollowOptions struct {
	// Offset to resume from; negative starts at the current end of file.
	Offset int64
	// Poll is the interval between reads when no new data is available.
	Poll time.Duration
}

// Follow calls emit for every complete line appended to path until ctx ends.
// When path is a symlink that starts pointing elsewhere, or the file shrinks,
// reading restarts from the beginning of the new content.
func Follow(ctx context.Context, path string, opts FollowOptions, emit func(line string)) error {
	poll := opts.Poll
	if poll <= 0 {
		poll = defaultPoll
	}
	target := resolve(path)
	offset := opts.Offset
	if offset < 0 {
		if info, err := os.Stat(target); err == nil {
			offset = info.Size()
		} else {
			offset = 0
		}
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if current := resolve(path); current != target {
			target = current
			offset = 0
		}
		next, err := readFrom(target, offset, emit)
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// readFrom emits complete lines after offset and returns the offset of the
// first unconsumed byte. A partial trailing line is left for the next read.
func readFrom(path string, offset int64, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		emit(line[:len(line)-1])
	}
}

func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	return nil
}

func resolve(path string) string {
	if target, err := filepath.EvalSymlinks(path); err == nil {
		return target
	}
	return path
}
