package report

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGotenberg(t *testing.T, fields map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = io.WriteString(w, `{"status":"up"}`)
		case "/forms/chromium/convert/html":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			file, _, err := r.FormFile("files")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			html, _ := io.ReadAll(file)
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(append([]byte("%PDF-"), html...))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRenderHTMLSendsA5Paper(t *testing.T) {
	fields := map[string]string{}
	srv := fakeGotenberg(t, fields)

	pdf, err := NewClient(srv.URL).RenderHTML(context.Background(), "<p>فاتورة</p>")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-<p>فاتورة</p>", string(pdf))
	assert.Equal(t, "5.83", fields["paperWidth"])
	assert.Equal(t, "8.27", fields["paperHeight"])
	assert.Equal(t, "true", fields["preferCssPageSize"])
}

func TestRenderHTMLFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), "<p></p>")
	assert.Error(t, err)
	assert.Error(t, NewClient(srv.URL).Ping(context.Background()))
}

func TestPrinterSpoolsPDF(t *testing.T) {
	srv := fakeGotenberg(t, map[string]string{})
	dir := t.TempDir()
	printer := NewPrinter(NewClient(srv.URL), dir)

	path, err := printer.Print(context.Background(), "sales-S000012", "<p>x</p>")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sales-S000012.pdf"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-<p>x</p>", string(data))
	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestPrinterRejectsUnsafeNames(t *testing.T) {
	printer := NewPrinter(NewClient("http://127.0.0.1:0"), t.TempDir())
	for _, name := range []string{"", "../etc/passwd", ".hidden", `a\b`} {
		_, err := printer.Print(context.Background(), name, "<p></p>")
		assert.Error(t, err, name)
	}
}

func TestPingHandler(t *testing.T) {
	srv := fakeGotenberg(t, map[string]string{})
	r := chi.NewRouter()
	NewHandler(NewClient(srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
