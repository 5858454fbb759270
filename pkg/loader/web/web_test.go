package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!doctype html>
<html><head><title>Aspirin</title></head>
<body>
<nav><a href="/">Home</a> | <a href="/drugs">Drugs</a></nav>
<article>
<h1>Aspirin</h1>
<p>Aspirin is a nonsteroidal anti-inflammatory drug used to reduce fever and relieve mild to moderate pain from conditions such as muscle aches, toothaches, common cold and headaches.</p>
<p>Aspirin irreversibly inhibits cyclooxygenase, which lowers the production of prostaglandins and thromboxanes. Low doses are prescribed after a heart attack to reduce the risk of further events.</p>
<p>Side effects include stomach upset, and in rare cases bleeding. Children recovering from viral infections should not take aspirin because of the risk of Reye syndrome.</p>
</article>
<footer>Copyright notice</footer>
</body></html>`

func TestLoaderExtractsArticleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	l := NewLoader(WithHTTPClient(srv.Client()))
	src := loader.NewURLSource(srv.URL+"/aspirin", l)

	text, err := src.GetText(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, "reduce fever")
	assert.NotContains(t, text, "<p>")
}

func TestLoaderReturnsPlainBody(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Ibuprofen lowers fever."))
	}))
	defer srv.Close()

	l := NewLoader(WithHTTPClient(srv.Client()))
	src := loader.NewURLSource(srv.URL+"/ibuprofen.txt", l)

	for range 2 {
		text, err := src.GetText(context.Background())
		require.NoError(t, err)
		require.Equal(t, "Ibuprofen lowers fever.", text)
	}
	require.Equal(t, 1, hits)
}

type fallbackLoader struct{ called bool }

func (f *fallbackLoader) GetFileText(_ context.Context, src loader.Source) ([]byte, error) {
	f.called = true
	return []byte("from fallback " + src.Path[strings.LastIndex(src.Path, "/")+1:]), nil
}

func TestLoaderUsesFallbackForNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x1, 0x2})
	}))
	defer srv.Close()

	fb := &fallbackLoader{}
	l := NewLoader(WithHTTPClient(srv.Client()), WithFallback(fb))

	b, err := l.GetFileText(context.Background(), loader.NewURLSource(srv.URL+"/x.bin", l))
	require.NoError(t, err)
	require.True(t, fb.called)
	require.Equal(t, "from fallback x.bin", string(b))
}

func TestLoaderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l := NewLoader(WithHTTPClient(srv.Client()))
	_, err := l.GetFileText(context.Background(), loader.NewURLSource(srv.URL+"/missing", l))
	require.ErrorContains(t, err, "status 404")
}
