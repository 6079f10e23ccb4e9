// Package ingest loads JSON documents from files into a store.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maruel/ksid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maruel/jsondb/internal/config"
	"github.com/maruel/jsondb/internal/jsondb"
	"github.com/maruel/jsondb/internal/sqldb"
)

// maxLine is the longest JSON Lines record accepted.
const maxLine = 16 << 20

// Mode selects how each imported document is keyed.
type Mode struct {
	// Field, when set, keys each document by the value of this property.
	// Otherwise documents are pushed under new keys.
	Field string
}

// ParseMode parses "push" or "field:<name>".
func ParseMode(s string) (Mode, error) {
	if s == "" || s == "push" {
		return Mode{}, nil
	}
	if f, ok := strings.CutPrefix(s, "field:"); ok {
		if err := jsondb.ValidateKey(f); err != nil {
			return Mode{}, fmt.Errorf("invalid import mode %q: %w", s, err)
		}
		return Mode{Field: f}, nil
	}
	return Mode{}, fmt.Errorf("invalid import mode %q: want push or field:<name>", s)
}

func (m Mode) String() string {
	if m.Field == "" {
		return "push"
	}
	return "field:" + m.Field
}

// Result summarizes one import.
type Result struct {
	Batch    ksid.ID
	Written  int
	Duration time.Duration
}

// Importer writes JSON Lines streams into a store with bounded concurrency
// and an optional write rate.
type Importer struct {
	store   *jsondb.Store
	limiter *rate.Limiter
	workers int
	logger  *slog.Logger
}

// NewImporter returns an Importer writing to s.
func NewImporter(s *jsondb.Store, cfg config.ImportConfig, logger *slog.Logger) *Importer {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:   s,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		workers: max(cfg.Workers, 1),
		logger:  logger,
	}
}

type line struct {
	n   int
	doc []byte
}

// Import writes every non-blank line of r, one JSON document each, below
// collection. The first failure stops the import; documents already written
// stay.
func (im *Importer) Import(ctx context.Context, r io.Reader, collection string, mode Mode) (Result, error) {
	res := Result{Batch: ksid.NewID()}
	start := time.Now()
	if _, err := jsondb.ParsePath(collection); err != nil {
		return res, err
	}
	logger := im.logger.With("batch", res.Batch.String(), "collection", collection)
	logger.InfoContext(ctx, "ingest: import started", "mode", mode.String())

	var written atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	lines := make(chan line, im.workers)
	eg.Go(func() error {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxLine)
		for n := 1; sc.Scan(); n++ {
			doc := bytes.TrimSpace(sc.Bytes())
			if len(doc) == 0 {
				continue
			}
			select {
			case lines <- line{n: n, doc: bytes.Clone(doc)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return sc.Err()
	})
	for range im.workers {
		eg.Go(func() error {
			for l := range lines {
				if err := im.limiter.Wait(ctx); err != nil {
					return err
				}
				if err := im.write(ctx, collection, mode, l.doc); err != nil {
					return fmt.Errorf("line %d: %w", l.n, err)
				}
				written.Add(1)
			}
			return nil
		})
	}
	err := eg.Wait()
	res.Written = int(written.Load())
	res.Duration = time.Since(start)
	if err != nil {
		logger.WarnContext(ctx, "ingest: import failed", "written", res.Written, "err", err)
		return res, err
	}
	logger.InfoContext(ctx, "ingest: import done", "written", res.Written, "dur", res.Duration)
	return res, nil
}

func (im *Importer) write(ctx context.Context, collection string, mode Mode, doc []byte) error {
	if mode.Field == "" {
		return sqldb.Retry(ctx, 5, 10*time.Millisecond, func() error {
			_, err := im.store.PushBytes(ctx, collection, doc)
			return err
		})
	}
	key, err := fieldKey(doc, mode.Field)
	if err != nil {
		return err
	}
	target := strings.TrimSuffix(collection, "/") + "/" + key
	return sqldb.Retry(ctx, 5, 10*time.Millisecond, func() error {
		return im.store.SetBytes(ctx, target, doc)
	})
}

// fieldKey returns the value of the top level property field of doc as a
// key. Strings and integers are accepted.
func fieldKey(doc []byte, field string) (string, error) {
	var obj map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return "", fmt.Errorf("%w: %w", jsondb.ErrInvalidDocument, err)
	}
	raw, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("%w: missing property %q", jsondb.ErrInvalidDocument, field)
	}
	var v any
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	if err := d.Decode(&v); err != nil {
		return "", err
	}
	var key string
	switch t := v.(type) {
	case string:
		key = t
	case json.Number:
		if _, err := t.Int64(); err != nil {
			return "", fmt.Errorf("%w: property %q is not an integer: %s", jsondb.ErrInvalidDocument, field, t)
		}
		key = t.String()
	default:
		return "", fmt.Errorf("%w: property %q must be a string or an integer", jsondb.ErrInvalidDocument, field)
	}
	if err := jsondb.ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// ImportDocument replaces the subtree at path with the single JSON document
// read from r.
func (im *Importer) ImportDocument(ctx context.Context, r io.Reader, path string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return errors.New("empty document")
	}
	if err := im.limiter.Wait(ctx); err != nil {
		return err
	}
	err = sqldb.Retry(ctx, 5, 10*time.Millisecond, func() error {
		return im.store.SetBytes(ctx, path, b)
	})
	if err == nil {
		im.logger.InfoContext(ctx, "ingest: document imported", "path", path, "bytes", len(b))
	}
	return err
}
