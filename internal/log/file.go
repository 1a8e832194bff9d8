package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// fileWriter appends JSON log lines to dir/YYYY-MM-DD.jsonl, switching files
// when the date changes.
type fileWriter struct {
	dir     string
	mu      sync.Mutex
	file    *os.File
	curDate string
}

func newFileWriter(dir string) (*fileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	fw := &fileWriter{dir: dir}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.openLocked(); err != nil {
		return nil, err
	}
	return fw, nil
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if today := time.Now().Format(time.DateOnly); today != fw.curDate {
		if err := fw.openLocked(); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

func (fw *fileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

func (fw *fileWriter) openLocked() error {
	if fw.file != nil {
		fw.file.Close()
	}
	today := time.Now().Format(time.DateOnly)
	f, err := os.OpenFile(filepath.Join(fw.dir, today+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening debug log file: %w", err)
	}
	fw.file = f
	fw.curDate = today
	return nil
}

var logFilePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// removeOldFiles deletes debug files older than retentionDays. Best effort.
func removeOldFiles(dir string, retentionDays int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !logFilePattern.MatchString(name) {
			continue
		}
		fileDate, err := time.Parse(time.DateOnly, name[:10])
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}
