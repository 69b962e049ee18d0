// Package extract turns raw device and runner output into structured records
// using named TextFSM templates. The built-in templates are embedded; a YAML
// index can add or replace templates by name.
package extract

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"netopsbot/internal/domain"

	"github.com/sirikothe/gotextfsm"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.textfsm
var builtinFS embed.FS

// Template names shipped with the binary.
const (
	InterfaceBrief = "cisco_ios_show_ip_interface_brief"
	BannerMotd     = "cisco_ios_show_banner_motd"
	AnsibleDebug   = "ansible_debug_msg"
)

// indexFile is the override format:
//
//	templates:
//	  cisco_ios_show_ip_interface_brief:
//	    file: ntc/cisco_ios_show_ip_interface_brief.textfsm
//	  hostname:
//	    textfsm: |
//	      Value NAME (\S+)
//
//	      Start
//	        ^hostname ${NAME} -> Record
//
// Relative file paths resolve against the index file's directory.
type indexFile struct {
	Templates map[string]indexEntry `yaml:"templates"`
}

type indexEntry struct {
	File    string `yaml:"file"`
	TextFSM string `yaml:"textfsm"`
}

// Engine implements domain.Extractor. It is safe for concurrent use once
// built: templates are kept as source and each Extract runs its own parser.
type Engine struct {
	templates map[string]string
}

var _ domain.Extractor = (*Engine)(nil)

// New builds an engine from the built-in templates, then applies the YAML
// index at overridePath when it is non-empty.
func New(overridePath string, logger *slog.Logger) (*Engine, error) {
	e := &Engine{templates: make(map[string]string)}
	if err := e.loadBuiltin(); err != nil {
		return nil, fmt.Errorf("builtin templates: %w", err)
	}

	if overridePath == "" {
		return e, nil
	}
	if err := e.loadIndex(overridePath); err != nil {
		return nil, fmt.Errorf("templates file %s: %w", overridePath, err)
	}
	if logger != nil {
		logger.Info("loaded extraction templates", "path", overridePath, "total", len(e.templates))
	}
	return e, nil
}

func (e *Engine) loadBuiltin() error {
	files, err := fs.Glob(builtinFS, "templates/*.textfsm")
	if err != nil {
		return err
	}
	for _, name := range files {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return err
		}
		if err := e.add(strings.TrimSuffix(path.Base(name), ".textfsm"), string(data)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) loadIndex(indexPath string) error {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return err
	}
	var idx indexFile
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	base := filepath.Dir(indexPath)
	for name, entry := range idx.Templates {
		src := entry.TextFSM
		switch {
		case entry.File != "" && src != "":
			return fmt.Errorf("template %q: set either file or textfsm, not both", name)
		case entry.File != "":
			p := entry.File
			if !filepath.IsAbs(p) {
				p = filepath.Join(base, p)
			}
			raw, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("template %q: %w", name, err)
			}
			src = string(raw)
		case src == "":
			return fmt.Errorf("template %q: no file or textfsm source", name)
		}
		if err := e.add(name, src); err != nil {
			return err
		}
	}
	return nil
}

// add compiles src once so a broken template fails at load time.
func (e *Engine) add(name, src string) error {
	if _, err := compile(src); err != nil {
		return fmt.Errorf("template %q: %w", name, err)
	}
	e.templates[name] = src
	return nil
}

func compile(src string) (gotextfsm.TextFSM, error) {
	fsm := gotextfsm.TextFSM{}
	err := fsm.ParseString(src)
	return fsm, err
}

// Names lists the loaded template names in sorted order.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extract runs the named template over raw. Field names are the template's
// Value names in lower case; List values are joined with newlines. No match
// yields an empty slice, not an error.
func (e *Engine) Extract(raw, name string) ([]domain.Record, error) {
	src, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown extraction template %q", name)
	}
	fsm, err := compile(src)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}

	out := gotextfsm.ParserOutput{}
	if err := out.ParseTextString(strings.ReplaceAll(raw, "\r\n", "\n"), fsm, true); err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}

	records := make([]domain.Record, 0, len(out.Dict))
	for _, row := range out.Dict {
		rec := make(domain.Record, len(row))
		for field, v := range row {
			rec[strings.ToLower(field)] = fieldString(v)
		}
		records = append(records, rec)
	}
	return records, nil
}

func fieldString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, "\n")
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
