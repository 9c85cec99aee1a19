package logging

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Audit journal file names, relative to the mirror root.
const (
	ScraperLogFile        = "scraper-log.txt"
	NonTargetLogFile      = "non-supernovae.txt"
	PrivateSpectraLogFile = "private-spectra-log.txt"
)

// Journal appends human-readable lines to the three audit files. Each line
// is written verbatim with no timestamp or level.
type Journal struct {
	scraper   *zap.Logger
	nonTarget *zap.Logger
	private   *zap.Logger
	closers   []func()
}

// OpenJournal opens (creating if needed) the audit files under dir.
func OpenJournal(dir string) (*Journal, error) {
	j := &Journal{}
	var err error
	if j.scraper, err = j.open(filepath.Join(dir, ScraperLogFile)); err != nil {
		j.Close()
		return nil, err
	}
	if j.nonTarget, err = j.open(filepath.Join(dir, NonTargetLogFile)); err != nil {
		j.Close()
		return nil, err
	}
	if j.private, err = j.open(filepath.Join(dir, PrivateSpectraLogFile)); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) open(path string) (*zap.Logger, error) {
	sink, closeFn, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	j.closers = append(j.closers, closeFn)
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	return zap.New(zapcore.NewCore(enc, sink, zapcore.DebugLevel)), nil
}

// Scraper appends line to scraper-log.txt.
func (j *Journal) Scraper(line string) {
	j.scraper.Info(line)
}

// NonTarget appends line to non-supernovae.txt.
func (j *Journal) NonTarget(line string) {
	j.nonTarget.Info(line)
}

// Private appends line to private-spectra-log.txt.
func (j *Journal) Private(line string) {
	j.private.Info(line)
}

// Close flushes and closes the audit files.
func (j *Journal) Close() {
	for _, l := range []*zap.Logger{j.scraper, j.nonTarget, j.private} {
		if l != nil {
			_ = l.Sync()
		}
	}
	for _, c := range j.closers {
		c()
	}
	j.closers = nil
}
