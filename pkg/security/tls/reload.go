package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader serves a certificate pair and replaces it when its files
// change.
type Reloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	now      func() time.Time

	current atomic.Pointer[tls.Certificate]
}

// NewReloader loads the pair and starts watching the directories that
// hold it. Events are only consumed while Watch runs.
func NewReloader(certFile, keyFile string, logger *slog.Logger) (*Reloader, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("certificate and key files are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		logger:   logger.With("component", "tls"),
		now:      time.Now,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, dir := range uniqueDirs(r.certFile, r.keyFile) {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	r.watcher = w
	return r, nil
}

func uniqueDirs(paths ...string) []string {
	var dirs []string
	seen := make(map[string]bool)
	for _, p := range paths {
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Reload loads the pair from disk. On failure the previous pair stays in
// service.
func (r *Reloader) Reload() error {
	pair, err := loadKeyPair(r.certFile, r.keyFile, r.now())
	if err != nil {
		return err
	}
	r.current.Store(pair)

	leaf := pair.Leaf
	remaining := leaf.NotAfter.Sub(r.now())
	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"issuer", leaf.Issuer.CommonName,
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
	}
	if remaining < ExpiryWarning {
		r.logger.Warn("certificate expires soon", append(attrs, "remaining", remaining.Round(time.Hour).String())...)
	} else {
		r.logger.Info("certificate loaded", attrs...)
	}
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	if c := r.current.Load(); c != nil {
		return c, nil
	}
	return nil, errors.New("no certificate loaded")
}

// Watch reloads the pair on file events until ctx is cancelled or Close
// is called.
func (r *Reloader) Watch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(event) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Error("certificate reload failed, keeping previous certificate",
					"path", event.Name,
					"error", err)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("certificate watcher error", "error", err)
		}
	}
}

// relevant matches writes to either file and the "..data" symlink swap
// used by mounted Kubernetes secrets.
func (r *Reloader) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == r.certFile || name == r.keyFile || strings.HasPrefix(filepath.Base(name), "..data")
}

// Close stops watching.
func (r *Reloader) Close() error {
	return r.watcher.Close()
}
