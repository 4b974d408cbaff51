package server

import (
	"crypto/tls"
	"errors"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var errNoCertificate = errors.New("no TLS certificate loaded")

// certReloader serves the key pair at certPath/keyPath and swaps it in place
// whenever either file changes on disk.
type certReloader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate
}

func newCertReloader(certPath, keyPath string) (*certReloader, error) {
	r := &certReloader{certPath: certPath, keyPath: keyPath}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *certReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, errNoCertificate
	}
	return r.cert, nil
}

// watch blocks until done is closed. A failed reload keeps the previous pair.
func (r *certReloader) watch(done <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Error("failed to create fsnotify watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	for _, p := range []string{r.certPath, r.keyPath} {
		if err := watcher.Add(p); err != nil {
			zap.L().Warn("cannot watch TLS file", zap.String("path", p), zap.Error(err))
		}
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				zap.L().Error("failed to reload TLS cert", zap.String("file", event.Name), zap.Error(err))
				continue
			}
			zap.L().Info("TLS certificate reloaded", zap.String("file", event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("watcher error", zap.Error(err))
		}
	}
}
