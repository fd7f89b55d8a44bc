package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PDFRenderer converts HTML into PDF bytes.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Printer ships finished documents to the print spool directory watched by
// the store printer.
type Printer struct {
	renderer PDFRenderer
	dir      string
}

// NewPrinter constructs a Printer. An empty dir spools under the system temp
// directory.
func NewPrinter(renderer PDFRenderer, dir string) *Printer {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "invoice-print")
	}
	return &Printer{renderer: renderer, dir: dir}
}

// Dir is the spool directory.
func (p *Printer) Dir() string {
	return p.dir
}

// Print converts html and writes it to the spool as name.pdf, returning the
// spooled path.
func (p *Printer) Print(ctx context.Context, name, html string) (string, error) {
	if p == nil || p.renderer == nil {
		return "", errors.New("report: printer not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("report: invalid document name %q", name)
	}
	pdf, err := p.renderer.RenderHTML(ctx, html)
	if err != nil {
		return "", fmt.Errorf("report: render %s: %w", name, err)
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(p.dir, name+".pdf")
	// The printer daemon picks up *.pdf, so write under a temp name first.
	tmp := path + ".part"
	if err := os.WriteFile(tmp, pdf, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}
