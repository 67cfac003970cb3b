package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/search"
)

// newLocalScraper permits loopback URLs so tests can use httptest servers.
func newLocalScraper(cfg config.ScrapingConfig) *Scraper {
	s := New(cfg, search.NewLimiter(0))
	s.validate = func(string) error { return nil }
	return s
}

func TestValidateURLRejectsSchemes(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"ftp://example.org/file", ErrUnsupportedScheme},
		{"file:///etc/passwd", ErrUnsupportedScheme},
		{"http://127.0.0.1/admin", ErrPrivateAddress},
		{"http://localhost:8080/", ErrPrivateAddress},
		{"http://10.0.0.5/internal", ErrPrivateAddress},
		{"http://192.168.1.1/", ErrPrivateAddress},
		{"http://169.254.169.254/latest/meta-data", ErrPrivateAddress},
		{"http://[::1]/", ErrPrivateAddress},
		{"http://0.0.0.0/", ErrPrivateAddress},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.ErrorIs(t, ValidateURL(tt.url), tt.wantErr)
		})
	}
}

func TestBlocklist(t *testing.T) {
	b := NewBlocklist(config.QualityConfig{
		BlockedDomains:    []string{"pinterest.com", "facebook.com"},
		BlockedExtensions: []string{".csv", ".zip"},
		AcademicDomains:   []string{"arxiv.org", "edu"},
	})

	blocked, reason := b.Blocked("https://www.pinterest.com/pin/123")
	assert.True(t, blocked)
	assert.Contains(t, reason, "pinterest.com")

	blocked, _ = b.Blocked("https://sub.facebook.com/page")
	assert.True(t, blocked)

	blocked, reason = b.Blocked("https://data.example.org/dump.csv")
	assert.True(t, blocked)
	assert.Contains(t, reason, ".csv")

	blocked, _ = b.Blocked("https://example.org/article")
	assert.False(t, blocked)

	assert.True(t, b.Academic("https://arxiv.org/abs/2401.1"))
	assert.True(t, b.Academic("https://cs.stanford.edu/paper"))
	assert.False(t, b.Academic("https://example.org/blog"))
}

func TestExtractHTML(t *testing.T) {
	doc := `<html><head><title>Test Page</title>
		<script>var x = "ignore me";</script>
		<style>.c { color: red }</style></head>
	<body>
		<nav>Home About Contact</nav>
		<h1>Heading</h1>
		<p>First paragraph with <a href="/x">a link</a> inside.</p>
		<p>Second   paragraph.</p>
		<footer>Copyright</footer>
	</body></html>`

	title, text := ExtractHTML(doc)
	assert.Equal(t, "Test Page", title)
	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "First paragraph with a link inside.")
	assert.Contains(t, text, "Second paragraph.")
	assert.NotContains(t, text, "ignore me")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "Home About Contact")
	assert.NotContains(t, text, "Copyright")
}

func TestScoreQuality(t *testing.T) {
	prose := strings.Repeat("The system processes research tasks in parallel while respecting global limits. "+
		"Each worker claims one task and runs the full pipeline against it. "+
		"Results are persisted so an interrupted run can be resumed later without losing work. ", 20)
	junk := strings.Repeat("a b, ", 200)
	short := "Too short."

	proseScore := ScoreQuality(prose, false)
	junkScore := ScoreQuality(junk, false)

	assert.Greater(t, proseScore, 0.6)
	assert.Greater(t, proseScore, junkScore)
	assert.Zero(t, ScoreQuality(short, false))

	// Academic bonus lifts the score, capped at 1.
	assert.Greater(t, ScoreQuality(prose, true), proseScore)
	assert.LessOrEqual(t, ScoreQuality(prose, true), 1.0)
}

func TestDocumentKindRouting(t *testing.T) {
	tests := []struct {
		url, contentType, want string
	}{
		{"https://a.example/paper.pdf", "", "pdf"},
		{"https://a.example/dl?id=1", "application/pdf", "pdf"},
		{"https://a.example/report.docx", "", "docx"},
		{"https://a.example/dl", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx"},
		{"https://a.example/data.xlsx", "", "xlsx"},
		{"https://a.example/page", "text/html; charset=utf-8", "html"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, documentKind(tt.url, tt.contentType), tt.url)
	}
}

func TestFetchExtractsAndTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "tome-research")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>T</title></head><body><p>" +
			strings.Repeat("word ", 100) + "</p></body></html>"))
	}))
	defer srv.Close()

	s := newLocalScraper(config.ScrapingConfig{MaxContentChars: 50})
	page, err := s.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "T", page.Title)
	assert.Len(t, page.Content, 50)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html><body><p>ok now</p></body></html>"))
	}))
	defer srv.Close()

	s := newLocalScraper(config.ScrapingConfig{})
	page, err := s.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, page.Content, "ok now")
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newLocalScraper(config.ScrapingConfig{})
	_, err := s.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
