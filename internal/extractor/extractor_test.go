package extractor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"wherespace-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ForFile(t *testing.T) {
	r := NewRegistry(config.TikaConfig{})

	t.Run("plain text extensions", func(t *testing.T) {
		for _, name := range []string{"notes.txt", "README.md", "data.CSV", "page.html"} {
			e, err := r.ForFile(name)
			require.NoError(t, err, name)
			assert.IsType(t, &PlainTextExtractor{}, e)
		}
	})

	t.Run("pdf", func(t *testing.T) {
		e, err := r.ForFile("report.pdf")
		require.NoError(t, err)
		assert.IsType(t, &PDFExtractor{}, e)
	})

	t.Run("office formats disabled without tika", func(t *testing.T) {
		_, err := r.ForFile("slides.pptx")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("unknown extension", func(t *testing.T) {
		_, err := r.ForFile("movie.mkv")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestRegistry_TikaEnabled(t *testing.T) {
	r := NewRegistry(config.TikaConfig{ServerURL: "http://localhost:9998"})

	e, err := r.ForFile("contract.docx")
	require.NoError(t, err)
	assert.IsType(t, &TikaExtractor{}, e)
	assert.True(t, r.Supports("sheet.xlsx"))
}

func TestPlainTextExtractor(t *testing.T) {
	e := &PlainTextExtractor{}
	text, err := e.Extract(strings.NewReader("alpha beta\ngamma"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha beta\ngamma", text)
}

func TestTikaExtractor(t *testing.T) {
	t.Run("extracts text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "PUT", req.Method)
			assert.Equal(t, "/tika", req.URL.Path)
			assert.Equal(t, "text/plain", req.Header.Get("Accept"))
			_, _ = w.Write([]byte("extracted body"))
		}))
		defer srv.Close()

		e := NewTikaExtractor(config.TikaConfig{ServerURL: srv.URL})
		text, err := e.Extract(strings.NewReader("binary..."), "contract.docx")
		require.NoError(t, err)
		assert.Equal(t, "extracted body", text)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "boom", http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		e := NewTikaExtractor(config.TikaConfig{ServerURL: srv.URL})
		_, err := e.Extract(strings.NewReader("binary..."), "contract.docx")
		assert.Error(t, err)
	})
}
