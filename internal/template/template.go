// Package template renders {{VAR}} manifest templates with mustache, without
// HTML escaping, and HTML pages with escaping.
package template

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cbroglie/mustache"
)

// Renderer materializes manifest templates.
type Renderer struct {
	log *slog.Logger
}

// New constructs a Renderer.
func New(log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{log: log.With("component", "template")}
}

// Render substitutes vars into text.
func (r *Renderer) Render(text string, vars map[string]any) (string, error) {
	out, err := mustache.RenderRaw(text, true, vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// RenderHTML substitutes vars into an HTML page, escaping {{var}} values.
func (r *Renderer) RenderHTML(text string, vars any) (string, error) {
	out, err := mustache.Render(text, vars)
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return out, nil
}

// RenderFile renders src into dst, creating dst's directory. dst is replaced atomically.
func (r *Renderer) RenderFile(src, dst string, vars map[string]any) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	out, err := r.Render(string(raw), vars)
	if err != nil {
		r.log.Error("template rendering failed", "template", src, "error", err)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".render-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.WriteString(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write rendered template: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close rendered template: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod rendered template: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("move rendered template: %w", err)
	}
	r.log.Info("template rendered", "template", src, "output", dst)
	return nil
}
