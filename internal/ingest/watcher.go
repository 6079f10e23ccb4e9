package ingest

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maruel/jsondb/internal/jsondb"
)

// Watcher imports the files of a directory when they change.
//
// A file named <name>.jsonl is imported line by line below <root>/<name>.
// Only the lines appended since the previous import are read, and a line is
// imported once it ends with a newline. A file that shrinks is imported again
// from the start. A file named <name>.json replaces <root>/<name> and removing
// it deletes <root>/<name>. Other files are ignored.
type Watcher struct {
	Dir      string
	Root     string
	Mode     Mode
	Debounce time.Duration
	Importer *Importer

	// imported is called after each import attempt. Used by tests.
	imported func(path string, err error)

	// offsets holds the number of bytes of each .jsonl file already imported.
	// Only accessed by the Run goroutine.
	offsets map[string]int64
}

// Run watches until ctx is done. Files present at startup are imported first.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()
	w.offsets = map[string]int64{}
	if err := fw.Add(w.Dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.importFile(ctx, filepath.Join(w.Dir, e.Name()))
		}
	}

	// Editors write files in several steps; only the last event of a burst
	// triggers an import.
	var mu sync.Mutex
	timers := map[string]*time.Timer{}
	ready := make(chan string)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case name := <-ready:
			w.importFile(ctx, name)
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if collectionOf(event.Name) == "" {
				continue
			}
			name := event.Name
			mu.Lock()
			if t, ok := timers[name]; ok {
				t.Stop()
			}
			timers[name] = time.AfterFunc(w.Debounce, func() {
				mu.Lock()
				delete(timers, name)
				mu.Unlock()
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})
			mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Importer.logger.WarnContext(ctx, "ingest: error watching directory", "dir", w.Dir, "err", err)
		}
	}
}

// collectionOf returns the collection key a watched file maps to, or "" when
// the file is ignored.
func collectionOf(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext != ".json" && ext != ".jsonl" {
		return ""
	}
	key := strings.TrimSuffix(base, ext)
	if jsondb.ValidateKey(key) != nil {
		return ""
	}
	return key
}

func (w *Watcher) importFile(ctx context.Context, name string) {
	key := collectionOf(name)
	if key == "" {
		return
	}
	target := strings.TrimSuffix(w.Root, "/") + "/" + key
	var err error
	if filepath.Ext(name) == ".jsonl" {
		err = w.importLines(ctx, name, target)
	} else {
		err = w.importDocument(ctx, name, target)
	}
	if err != nil {
		w.Importer.logger.WarnContext(ctx, "ingest: import failed", "file", name, "err", err)
	}
	if w.imported != nil {
		w.imported(name, err)
	}
}

// importLines imports the complete lines appended to name since the last
// successful import.
func (w *Watcher) importLines(ctx context.Context, name, target string) error {
	f, err := os.Open(name) //nolint:gosec // G304: files of the watched directory
	if os.IsNotExist(err) {
		delete(w.offsets, name)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	off := w.offsets[name]
	if fi.Size() < off {
		w.Importer.logger.InfoContext(ctx, "ingest: file shrank, importing again", "file", name)
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return err
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	end := bytes.LastIndexByte(b, '\n') + 1
	if end == 0 {
		return nil
	}
	if _, err := w.Importer.Import(ctx, bytes.NewReader(b[:end]), target, w.Mode); err != nil {
		return err
	}
	w.offsets[name] = off + int64(end)
	return nil
}

// importDocument sets target to the content of name, or deletes it when name
// was removed.
func (w *Watcher) importDocument(ctx context.Context, name, target string) error {
	f, err := os.Open(name) //nolint:gosec // G304: files of the watched directory
	if os.IsNotExist(err) {
		if _, err := w.Importer.store.Delete(ctx, target); err != nil {
			return err
		}
		w.Importer.logger.InfoContext(ctx, "ingest: document removed", "path", target)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return w.Importer.ImportDocument(ctx, f, target)
}
