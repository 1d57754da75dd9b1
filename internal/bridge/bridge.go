// Package bridge is the string-in/string-out surface handed to native hosts.
// Each call parses its option string, runs one engine operation and renders
// a Result; errors never escape as anything but text.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notesync/internal"
	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/crypt"
	"github.com/starford/notesync/internal/engine"
	"github.com/starford/notesync/internal/logging"
	"github.com/starford/notesync/internal/options"
	"github.com/starford/notesync/internal/remote"
	"github.com/starford/notesync/pkg/config"
)

// session is the state built by a successful InitApp. It never changes
// afterwards.
type session struct {
	cfg      *internal.Config
	defaults *options.Options
	engine   *engine.Engine
	logger   *slog.Logger
}

// Facade is the process-wide context object behind the exported functions.
// The zero value is not usable; call New.
type Facade struct {
	// initMu makes concurrent InitApp callers wait for the first one.
	initMu sync.Mutex
	sess   atomic.Pointer[session]
}

// New returns an uninitialized facade.
func New() *Facade {
	return &Facade{}
}

// InitApp loads configuration and prepares the engine. source is an inline
// option string ("config=notes.ini new_note=no") or a config file path. Once
// it has succeeded, further calls are no-ops; after a failure the facade stays
// uninitialized and InitApp may be called again.
func (f *Facade) InitApp(source string) string {
	return f.call("InitApp", func() Result {
		f.initMu.Lock()
		defer f.initMu.Unlock()

		if s := f.sess.Load(); s != nil {
			return ok("already initialized", "")
		}
		s, err := newSession(source)
		if err != nil {
			return fail(err)
		}
		f.sess.Store(s)
		s.logger.Info("bridge: initialized",
			slog.String("storage_dir", s.cfg.Storage.Dir),
			slog.String("endpoint", s.cfg.Remote.Endpoint))
		return ok(fmt.Sprintf("initialized (storage %s, remote %s)", s.cfg.Storage.Dir, s.cfg.Remote.Endpoint), "")
	}).String()
}

func newSession(source string) (*session, error) {
	opts, err := options.Load(source)
	if err != nil {
		return nil, err
	}

	cfg := internal.NewDefaultConfig()
	if opts.Has(options.KeyConfig) {
		if err := config.Load(opts.ConfigPath, cfg); err != nil {
			return nil, classifyConfigErr(err)
		}
	}

	logger := logging.New(logging.Options{Level: cfg.App.Level(), File: cfg.App.LogFile})

	rem, err := NewRemote(cfg, logger)
	if err != nil {
		return nil, err
	}
	eng := engine.New(cfg.Storage.Dir, rem,
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Remote.Workers))
	if err := eng.Init(context.Background()); err != nil {
		return nil, err
	}
	return &session{cfg: cfg, defaults: opts, engine: eng, logger: logger}, nil
}

func classifyConfigErr(err error) error {
	var verrs validation.Errors
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("bridge: %w: %w", apperr.ErrConfigNotFound, err)
	case errors.Is(err, config.ErrInvalid), errors.As(err, &verrs):
		return fmt.Errorf("bridge: %w: %w", apperr.ErrInvalidValue, err)
	default:
		return fmt.Errorf("bridge: %w: %w", apperr.ErrMalformed, err)
	}
}

// NewRemote builds the HTTP remote client described by cfg.
func NewRemote(cfg *internal.Config, logger *slog.Logger) (*remote.Client, error) {
	clientOpts := []remote.ClientOption{
		remote.WithLogger(logger),
		remote.WithRetryer(remote.NewExponentialBackoffRetryer(
			cfg.Remote.InitialBackoff, cfg.Remote.MaxBackoff, cfg.Remote.MaxAttempts)),
	}
	if cfg.Remote.Token != "" {
		clientOpts = append(clientOpts, remote.WithToken(cfg.Remote.Token))
	}
	if cfg.Crypt.Enabled {
		box, err := crypt.New(cfg.Crypt.Key)
		if err != nil {
			return nil, fmt.Errorf("bridge: %w: crypt: %w", apperr.ErrInvalidValue, err)
		}
		clientOpts = append(clientOpts, remote.WithCrypt(box))
	}
	return remote.NewClient(cfg.Remote.Endpoint, cfg.Remote.Timeout, clientOpts...), nil
}

// Download refreshes the index from the remote.
func (f *Facade) Download(source string) string {
	return f.op("Download", source, func(ctx context.Context, s *session, opts *options.Options) Result {
		report, err := s.engine.Download(ctx, opts)
		if err != nil {
			return fail(err)
		}
		return ok(downloadSummary(report), downloadPayload(report))
	}).String()
}

// DownloadNote fetches one note body into the cache.
func (f *Facade) DownloadNote(source, notePath string) string {
	return f.op("DownloadNote", source, func(ctx context.Context, s *session, opts *options.Options) Result {
		report, err := s.engine.DownloadNote(ctx, opts, notePath)
		if err != nil {
			return fail(err)
		}
		return ok(noteSummary(report), "")
	}).String()
}

// List enumerates the index in insertion order.
func (f *Facade) List(source string) string {
	return f.op("List", source, func(ctx context.Context, s *session, opts *options.Options) Result {
		refs, err := s.engine.List(ctx, opts)
		if err != nil {
			return fail(err)
		}
		rev, err := s.engine.Revision()
		if err != nil {
			return fail(err)
		}
		payload, err := renderList(refs, rev, opts.Format)
		if err != nil {
			return fail(err)
		}
		return ok(listSummary(refs), payload)
	}).String()
}

// NewNote allocates a local note. The summary is the new identifier.
func (f *Facade) NewNote(source string) string {
	return f.op("NewNote", source, func(ctx context.Context, s *session, opts *options.Options) Result {
		ref, err := s.engine.NewNote(ctx, opts)
		if err != nil {
			return fail(err)
		}
		return ok(ref.ID, ref.Path)
	}).String()
}

// ImportNote creates a note from the content of a local file. The summary is
// the new identifier.
func (f *Facade) ImportNote(source, filePath string) string {
	return f.op("ImportNote", source, func(ctx context.Context, s *session, _ *options.Options) Result {
		ref, err := s.engine.ImportNote(ctx, filePath)
		if err != nil {
			return fail(err)
		}
		return ok(ref.ID, ref.Path)
	}).String()
}

// DeleteNote removes a note; the next Save deletes it on the remote.
func (f *Facade) DeleteNote(source, pathOrID string) string {
	return f.op("DeleteNote", source, func(ctx context.Context, s *session, _ *options.Options) Result {
		report, err := s.engine.DeleteNote(ctx, pathOrID)
		if err != nil {
			return fail(err)
		}
		return ok(deleteSummary(report), report.ID)
	}).String()
}

// Save uploads dirty notes and persists the index.
func (f *Facade) Save(source string) string {
	return f.op("Save", source, func(ctx context.Context, s *session, opts *options.Options) Result {
		report, err := s.engine.Save(ctx, opts)
		if err != nil {
			return fail(err)
		}
		return ok(saveSummary(report), savePayload(report))
	}).String()
}

// ReadNote returns a cached note body as the payload.
func (f *Facade) ReadNote(source, pathOrID string) string {
	return f.op("ReadNote", source, func(ctx context.Context, s *session, _ *options.Options) Result {
		body, ref, err := s.engine.ReadNote(ctx, pathOrID)
		if err != nil {
			return fail(err)
		}
		return ok(ref.ID, string(body))
	}).String()
}

// WriteNote replaces a note's cached body; the next Save uploads it.
func (f *Facade) WriteNote(source, pathOrID, content string) string {
	return f.op("WriteNote", source, func(ctx context.Context, s *session, _ *options.Options) Result {
		ref, err := s.engine.WriteNote(ctx, pathOrID, []byte(content))
		if err != nil {
			return fail(err)
		}
		state := "clean"
		if ref.Dirty {
			state = "dirty"
		}
		return ok(fmt.Sprintf("wrote %s (%s), %s", ref.Path, humanize.Bytes(uint64(len(content))), state), "")
	}).String()
}

// Watch runs the cache watcher until ctx is done, calling onChange after each
// burst of edits.
func (f *Facade) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	s := f.sess.Load()
	if s == nil {
		return fmt.Errorf("bridge: %w", apperr.ErrNotInitialized)
	}
	return s.engine.Watch(ctx, debounce, onChange)
}

// op runs fn with the session and the call's options merged over the InitApp
// defaults.
func (f *Facade) op(name, source string, fn func(context.Context, *session, *options.Options) Result) Result {
	return f.call(name, func() Result {
		s := f.sess.Load()
		if s == nil {
			return fail(fmt.Errorf("bridge: %s: %w", name, apperr.ErrNotInitialized))
		}
		over, err := options.Parse(source)
		if err != nil {
			return fail(err)
		}
		res := fn(context.Background(), s, s.defaults.Merge(over))
		if res.Err != nil {
			s.logger.Warn("bridge: call failed",
				slog.String("call", name),
				slog.String("kind", string(res.Kind)),
				slog.String("error", res.Err.Error()))
		}
		return res
	})
}

// call converts a panic into an internal error result.
func (f *Facade) call(name string, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("bridge: %s: panic: %v", name, r)
			if s := f.sess.Load(); s != nil {
				s.logger.Error("bridge: panic",
					slog.String("call", name),
					slog.String("error", err.Error()),
					slog.String("stack", string(debug.Stack())))
			}
			res = Result{Err: err, Kind: apperr.KindInternal}
		}
	}()
	return fn()
}
