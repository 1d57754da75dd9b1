// Package options parses the per-call option strings handed across the bridge,
// e.g. "config=config.ini new_note=no" or "notes_changed=yes".
package options

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/starford/notesync/internal/apperr"
)

// Recognized keys.
const (
	KeyConfig       = "config"
	KeyNewNote      = "new_note"
	KeyNotesChanged = "notes_changed"
	KeySkipDownload = "skip_download"
	KeyFormat       = "format"
)

// Format selects how listings are rendered.
type Format string

// Listing formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options holds the parsed options of one call.
type Options struct {
	// ConfigPath names the application config file (yaml, toml or ini).
	ConfigPath string
	// NewNote allocates a blank note after the next Download.
	NewNote bool
	// NotesChanged asks Save to scan the cache for edits first.
	NotesChanged bool
	// SkipDownload limits Download to the index; bodies are not prefetched.
	SkipDownload bool
	Format       Format

	set map[string]struct{}
}

// Default returns options with every key unset.
func Default() *Options {
	return &Options{Format: FormatText, set: map[string]struct{}{}}
}

// Load parses source. A source containing '=' is an inline option string;
// anything else non-empty is the path of the application config file, which
// must exist.
func Load(source string) (*Options, error) {
	source = strings.TrimSpace(source)
	if source == "" || strings.Contains(source, "=") {
		return Parse(source)
	}
	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("options: %s: %w", source, apperr.ErrConfigNotFound)
		}
		return nil, fmt.Errorf("options: stat %s: %w", source, err)
	}
	o := Default()
	o.ConfigPath = source
	o.set[KeyConfig] = struct{}{}
	return o, nil
}

// Parse parses whitespace-separated key=value pairs. Unknown keys are ignored.
// On error no options are returned, so a bad pair never half-applies a string.
func Parse(s string) (*Options, error) {
	o := Default()
	for _, field := range strings.Fields(s) {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("options: %q: %w: expected key=value", field, apperr.ErrMalformed)
		}
		if err := o.apply(strings.ToLower(key), value); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Options) apply(key, value string) error {
	var err error
	switch key {
	case KeyConfig:
		o.ConfigPath = value
	case KeyNewNote:
		o.NewNote, err = parseBool(key, value)
	case KeyNotesChanged:
		o.NotesChanged, err = parseBool(key, value)
	case KeySkipDownload:
		o.SkipDownload, err = parseBool(key, value)
	case KeyFormat:
		switch Format(strings.ToLower(value)) {
		case FormatText, FormatJSON:
			o.Format = Format(strings.ToLower(value))
		default:
			err = fmt.Errorf("options: %s=%q: %w: want text or json", key, value, apperr.ErrInvalidValue)
		}
	default:
		return nil
	}
	if err != nil {
		return err
	}
	o.set[key] = struct{}{}
	return nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("options: %s=%q: %w: want yes, no, true or false", key, value, apperr.ErrInvalidValue)
}

// Has reports whether key was given explicitly.
func (o *Options) Has(key string) bool {
	_, ok := o.set[key]
	return ok
}

// Merge returns a copy of o with every key explicitly set in over applied on
// top. o itself is not modified.
func (o *Options) Merge(over *Options) *Options {
	out := *o
	out.set = make(map[string]struct{}, len(o.set))
	for k := range o.set {
		out.set[k] = struct{}{}
	}
	if over == nil {
		return &out
	}
	for k := range over.set {
		out.set[k] = struct{}{}
		switch k {
		case KeyConfig:
			out.ConfigPath = over.ConfigPath
		case KeyNewNote:
			out.NewNote = over.NewNote
		case KeyNotesChanged:
			out.NotesChanged = over.NotesChanged
		case KeySkipDownload:
			out.SkipDownload = over.SkipDownload
		case KeyFormat:
			out.Format = over.Format
		}
	}
	return &out
}
