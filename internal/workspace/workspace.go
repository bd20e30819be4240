// Package workspace tracks the workspace roots and the documents the host
// has open. Opening a document publishes a DocumentOpenedEvent.
package workspace

import (
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/lspvisor/internal/events"
	"github.com/smazurov/lspvisor/internal/logging"
)

// ErrEmptyURI is returned when a document is opened without a URI.
var ErrEmptyURI = errors.New("document uri is required")

// Document is an open document.
type Document struct {
	URI        string    `json:"uri" example:"file:///proj/main.py" doc:"Document URI"`
	LanguageID string    `json:"language_id" example:"python" doc:"Document language"`
	OpenedAt   time.Time `json:"opened_at" doc:"When the document was opened or last changed language"`
}

// Workspace holds roots and open documents. Safe for concurrent use.
type Workspace struct {
	bus    *events.Bus
	logger logging.Logger

	mu    sync.RWMutex
	roots []string
	docs  []Document
}

// New creates an empty workspace. bus may be nil.
func New(bus *events.Bus, logger logging.Logger) *Workspace {
	if logger == nil {
		logger = logging.GetLogger("workspace")
	}
	return &Workspace{bus: bus, logger: logger}
}

// SetRoots replaces the workspace roots. Paths are made absolute and
// cleaned; empty entries and duplicates are dropped, order is kept.
func (w *Workspace) SetRoots(paths []string) {
	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		p = filepath.Clean(p)
		if !slices.Contains(roots, p) {
			roots = append(roots, p)
		}
	}

	w.mu.Lock()
	w.roots = roots
	w.mu.Unlock()
	w.logger.Info("Workspace roots set", "roots", roots)
}

// Roots returns a copy of the workspace roots.
func (w *Workspace) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.roots)
}

// OpenDocument records uri as open with languageID. It reports whether the
// document is new or changed language; only then is an event published.
func (w *Workspace) OpenDocument(uri, languageID string) (bool, error) {
	if uri == "" {
		return false, ErrEmptyURI
	}
	now := time.Now()

	w.mu.Lock()
	i := w.indexOf(uri)
	switch {
	case i < 0:
		w.docs = append(w.docs, Document{URI: uri, LanguageID: languageID, OpenedAt: now})
	case w.docs[i].LanguageID == languageID:
		w.mu.Unlock()
		return false, nil
	default:
		w.docs[i].LanguageID = languageID
		w.docs[i].OpenedAt = now
	}
	w.mu.Unlock()

	w.logger.Debug("Document opened", "uri", uri, "language", languageID)
	if w.bus != nil {
		w.bus.Publish(events.DocumentOpenedEvent{
			URI:        uri,
			LanguageID: languageID,
			Timestamp:  now.Format(time.RFC3339),
		})
	}
	return true, nil
}

// CloseDocument forgets uri and reports whether it was open.
func (w *Workspace) CloseDocument(uri string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexOf(uri)
	if i < 0 {
		return false
	}
	w.docs = slices.Delete(w.docs, i, i+1)
	w.logger.Debug("Document closed", "uri", uri)
	return true
}

// Documents returns the open documents in the order they were opened.
func (w *Workspace) Documents() []Document {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.docs)
}

// FirstWithLanguage returns the earliest opened document in languageID.
func (w *Workspace) FirstWithLanguage(languageID string) (Document, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, d := range w.docs {
		if d.LanguageID == languageID {
			return d, true
		}
	}
	return Document{}, false
}

func (w *Workspace) indexOf(uri string) int {
	return slices.IndexFunc(w.docs, func(d Document) bool { return d.URI == uri })
}
