package walrecord

// FileSink is a reference Sink implementation: one append-only file per
// calendar day, rotated the same way the original journal rotated
// free-text lines, but carrying the structured Record fields instead.
//
// This is adapted from the teacher's daily-rotating journal rather than
// written from scratch: ensureCorrectFileOpen's date-suffix rotation and
// getBaseFilePath's regexp stripping are the same shape, generalized to
// emit Record.Fields instead of a single free-text "details" string.

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

var dateSuffix = regexp.MustCompile(`_\d{4}-\d{2}-\d{2}$`)

// FileSink writes Records to a daily-rotated append-only file.
type FileSink struct {
	mu           sync.Mutex
	file         *os.File
	baseFilePath string
	currentDate  time.Time
}

// NewFileSink opens (creating if necessary) today's log file derived
// from path.
func NewFileSink(path string) (*FileSink, error) {
	s := &FileSink{baseFilePath: stripDateSuffix(path)}
	if err := s.ensureCorrectFileOpen(); err != nil {
		return nil, err
	}
	return s, nil
}

func stripDateSuffix(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(base, ext)
	name = dateSuffix.ReplaceAllString(name, "")
	return filepath.Join(dir, name)
}

func (s *FileSink) ensureCorrectFileOpen() error {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if s.file != nil && s.currentDate.Equal(today) {
		return nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("walrecord: close previous log file: %w", err)
		}
		s.file = nil
	}

	ext := filepath.Ext(s.baseFilePath)
	dateStr := today.Format("2006-01-02")
	var fileName string
	if ext == "" {
		fileName = fmt.Sprintf("%s_%s.wal", s.baseFilePath, dateStr)
	} else {
		fileName = fmt.Sprintf("%s_%s%s", s.baseFilePath, dateStr, ext)
	}

	if err := os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return fmt.Errorf("walrecord: create log directory: %w", err)
	}

	f, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("walrecord: open log file %s: %w", fileName, err)
	}

	s.file = f
	s.currentDate = today
	return nil
}

// Append implements Sink.
func (s *FileSink) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureCorrectFileOpen(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s | obj=%d | parent=%d | %s", r.Timestamp.Format(time.RFC3339), r.Kind, r.ObjectID, r.ParentID, r.Name)
	for _, f := range r.Fields {
		fmt.Fprintf(&b, " | %s:%s=%s", f.Type, f.Name, f.Value)
	}
	b.WriteByte('\n')

	if _, err := s.file.WriteString(b.String()); err != nil {
		return fmt.Errorf("walrecord: write log file: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
