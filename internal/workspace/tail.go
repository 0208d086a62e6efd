package workspace

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// TailLines bounds how much of run.log a poller receives.
	TailLines = 500

	NoLogsPlaceholder = "No logs yet. Worker may be starting."
)

// TailLog returns the last TailLines lines of the run log in order, or a
// placeholder when nothing has been written yet. It never fails; read errors
// are rendered as text.
func (l Layout) TailLog(runID string) string {
	return l.TailLogN(runID, TailLines)
}

func (l Layout) TailLogN(runID string, n int) string {
	dir, err := l.Dir(runID)
	if err != nil {
		return NoLogsPlaceholder
	}
	lines, err := TailFile(filepath.Join(dir, LogFile), n)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NoLogsPlaceholder
		}
		return "Unable to read log: " + err.Error()
	}
	return strings.Join(lines, "\n")
}

// TailFile reads path up to its current end and keeps the last n lines.
// A trailing partial line is returned as-is.
func TailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		return []string{}, nil
	}
	ring := make([]string, n)
	count := 0
	r := bufio.NewReaderSize(f, 64<<10)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			ring[count%n] = strings.TrimRight(line, "\r\n")
			count++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}

	if count <= n {
		return ring[:count], nil
	}
	out := make([]string, 0, n)
	start := count % n
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, nil
}
