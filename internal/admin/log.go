package admin

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const maxRotatedFiles = 10

// logManager writes ndjson request/error logs with size-based rotation and
// gzip archival, ported from proxy_server.py's LogManager.
type logManager struct {
	mu            sync.Mutex
	requestLogDir string
	requestPath   string
	errorPath     string
	maxBytes      int64
	log           *slog.Logger
}

func newLogManager(dir string, maxBytes int64, log *slog.Logger) (*logManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("admin: creating log dir: %w", err)
	}
	return &logManager{
		requestLogDir: dir,
		requestPath:   filepath.Join(dir, "requests.ndjson"),
		errorPath:     filepath.Join(dir, "errors.ndjson"),
		maxBytes:      maxBytes,
		log:           log,
	}, nil
}

// writeRequestLog appends one ndjson line to the request log, rotating
// first if the file has grown past maxBytes.
func (m *logManager) writeRequestLog(entry map[string]interface{}) {
	m.write(m.requestPath, entry)
}

// writeErrorLog appends one ndjson line to the error log.
func (m *logManager) writeErrorLog(entry map[string]interface{}) {
	m.write(m.errorPath, entry)
}

func (m *logManager) write(path string, entry map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotateIfNeeded(path)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		m.log.Error("admin: failed to open log file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		m.log.Error("admin: failed to append log line", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (m *logManager) rotateIfNeeded(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < m.maxBytes {
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	rotated := path + "." + timestamp
	if err := os.Rename(path, rotated); err != nil {
		m.log.Error("admin: failed to rotate log", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if err := gzipFile(rotated); err != nil {
		m.log.Error("admin: failed to gzip rotated log", slog.String("path", rotated), slog.String("error", err.Error()))
		return
	}
	m.cleanupOldArchives()
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// cleanupOldArchives keeps only the most recently modified maxRotatedFiles
// gzip archives, deleting the rest.
func (m *logManager) cleanupOldArchives() {
	matches, err := filepath.Glob(filepath.Join(m.requestLogDir, "*.ndjson.*.gz"))
	if err != nil {
		return
	}
	if len(matches) <= maxRotatedFiles {
		return
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, _ := os.Stat(matches[i])
		fj, _ := os.Stat(matches[j])
		if fi == nil || fj == nil {
			return false
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	for _, stale := range matches[:len(matches)-maxRotatedFiles] {
		if err := os.Remove(stale); err != nil {
			m.log.Warn("admin: failed to remove stale log archive", slog.String("path", stale), slog.String("error", err.Error()))
		}
	}
}
