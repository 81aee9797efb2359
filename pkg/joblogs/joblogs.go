// Package joblogs locates and reads the per-task scheduler logs of a job.
//
// The array job writes one log per scheduler task, named
// job.<task>.<host>.log, where <task> is the first task index of the batch.
package joblogs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern matches every task log in a job's log directory.
const Pattern = "job.*.log"

// File is one task log.
type File struct {
	Path string `json:"path"`
	// Task is the first task index covered by the log.
	Task int    `json:"task"`
	Host string `json:"host,omitempty"`
	Size int64  `json:"size"`
}

// List returns the task logs in dir ordered by task index. A missing dir
// yields no logs. hostPattern, if set, filters by host using glob syntax.
func List(dir, hostPattern string) ([]File, error) {
	if hostPattern != "" && !doublestar.ValidatePattern(hostPattern) {
		return nil, fmt.Errorf("invalid host pattern %q", hostPattern)
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names, err := doublestar.Glob(os.DirFS(dir), Pattern)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}

	out := make([]File, 0, len(names))
	for _, name := range names {
		task, host, ok := parseName(name)
		if !ok {
			continue
		}
		if hostPattern != "" {
			if matched, _ := doublestar.Match(hostPattern, host); !matched {
				continue
			}
		}
		f := File{Path: filepath.Join(dir, name), Task: task, Host: host}
		if info, err := os.Stat(f.Path); err == nil {
			f.Size = info.Size()
		}
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Task != out[j].Task {
			return out[i].Task < out[j].Task
		}
		return out[i].Host < out[j].Host
	})
	return out, nil
}

// parseName splits job.<task>.<host>.log. Hosts may contain dots.
func parseName(name string) (int, string, bool) {
	if strings.Contains(name, "/") {
		return 0, "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, "job."), ".log")
	taskPart, host, _ := strings.Cut(rest, ".")
	task, err := strconv.Atoi(taskPart)
	if err != nil || task < 1 {
		return 0, "", false
	}
	return task, host, true
}

// BatchStart is the scheduler task index whose log holds task.
func BatchStart(task, batchSize int) int {
	if batchSize < 1 {
		batchSize = 1
	}
	return ((task-1)/batchSize)*batchSize + 1
}

// ForTask returns the logs that hold output for task. A task rerun by the
// scheduler on another host can leave more than one.
func ForTask(dir string, task, batchSize int) ([]File, error) {
	all, err := List(dir, "")
	if err != nil {
		return nil, err
	}
	start := BatchStart(task, batchSize)
	var out []File
	for _, f := range all {
		if f.Task == start {
			out = append(out, f)
		}
	}
	return out, nil
}

// Tail returns the last n lines read from r. n <= 0 returns nothing.
func Tail(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	buf := make([]string, 0, n)
	for scanner.Scan() {
		line := scanner.Text()
		if len(buf) < n {
			buf = append(buf, line)
			continue
		}
		copy(buf, buf[1:])
		buf[n-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

// Print copies the log at path to w, or only its last n lines when n > 0.
func Print(w io.Writer, path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if n <= 0 {
		_, err := io.Copy(w, f)
		return err
	}
	lines, err := Tail(f, n)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

// Follow prints the log and then polls for appended output until ctx ends.
func Follow(ctx context.Context, w io.Writer, path string, interval time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := io.Copy(w, f); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
