package server

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/JustVugg/msgboard/internal/config"
)

// pages serves the fixed documents and everything else under the document
// root. Files are read on every request, so edits show up immediately.
type pages struct {
	cfg    config.PagesConfig
	logger *zap.Logger
}

func newPages(cfg config.PagesConfig, logger *zap.Logger) *pages {
	return &pages{cfg: cfg, logger: logger}
}

func (p *pages) home(w http.ResponseWriter, r *http.Request) {
	p.sendHTML(w, p.cfg.Home, http.StatusOK)
}

func (p *pages) message(w http.ResponseWriter, r *http.Request) {
	p.sendHTML(w, p.cfg.Message, http.StatusOK)
}

func (p *pages) notFound(w http.ResponseWriter) {
	p.sendHTML(w, p.cfg.Error, http.StatusNotFound)
}

// sendHTML writes one of the fixed documents with the given status. The
// document is read before anything is written so a read failure can still
// change the status.
func (p *pages) sendHTML(w http.ResponseWriter, name string, status int) {
	body, err := os.ReadFile(filepath.Join(p.cfg.Root, name))
	if err != nil {
		p.logger.Error("failed to read page", zap.String("page", name), zap.Error(err))
		if status == http.StatusNotFound {
			http.Error(w, "404 page not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}

// resolve maps a URL path onto the document root. Cleaning against "/"
// first removes any ".." so the result cannot leave the root.
func (p *pages) resolve(urlPath string) string {
	clean := path.Clean("/" + urlPath)
	return filepath.Join(p.cfg.Root, filepath.FromSlash(clean))
}

func (p *pages) static(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		notImplemented(w, r)
		return
	}

	file := p.resolve(r.URL.Path)

	info, err := os.Stat(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			p.notFound(w)
			return
		}
		p.logger.Error("failed to stat static file", zap.String("file", file), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if info.IsDir() {
		p.logger.Warn("static path is a directory", zap.String("file", file))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	body, err := os.ReadFile(file)
	if err != nil {
		p.logger.Error("failed to read static file", zap.String("file", file), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType(file))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// contentType guesses from the extension and falls back to plain text.
func contentType(file string) string {
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		return ct
	}
	return "text/plain"
}
