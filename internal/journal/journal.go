// Package journal writes the append-only rollover log file and mirrors every
// entry to the console logger.
package journal

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// Journal appends "<timestamp> - <message>" lines to a file
type Journal struct {
	path    string
	file    *logrus.Logger
	console *logrus.Entry
	now     func() time.Time
}

// LineFormatter renders entries as "<ISO-8601 UTC> - <message>\n"
type LineFormatter struct{}

// Format implements logrus.Formatter
func (f *LineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	line := FormatTimestamp(entry.Time) + " - " + entry.Message + "\n"
	return []byte(line), nil
}

// FormatTimestamp renders t the way every log line and message timestamp is rendered
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(utils.TimestampFormat)
}

// appendWriter opens the file in append mode for every write.
type appendWriter struct {
	path string
	mu   sync.Mutex
}

func (w *appendWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(p)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// New creates a journal appending to path and mirroring to the global console logger
func New(path string) *Journal {
	file := logrus.New()
	file.SetFormatter(&LineFormatter{})
	file.SetOutput(&appendWriter{path: path})
	file.SetLevel(logrus.InfoLevel)

	return &Journal{
		path:    path,
		file:    file,
		console: utils.ComponentLogger("journal"),
		now:     time.Now,
	}
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.path
}

// Now returns the journal's current time
func (j *Journal) Now() time.Time {
	return j.now()
}

// Info writes a message to the console and appends it to the file
func (j *Journal) Info(message string) {
	j.console.Info(message)
	j.append(logrus.InfoLevel, message)
}

// Error writes a message to the console at error level and appends it to the file
func (j *Journal) Error(message string) {
	j.console.Error(message)
	j.append(logrus.ErrorLevel, message)
}

// Console writes a message to the console only
func (j *Journal) Console(message string) {
	j.console.Info(message)
}

func (j *Journal) append(level logrus.Level, message string) {
	j.file.WithTime(j.now()).Log(level, message)
}

// SetClock replaces the time source. Intended for tests.
func (j *Journal) SetClock(now func() time.Time) {
	j.now = now
}
