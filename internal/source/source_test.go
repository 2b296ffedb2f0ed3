package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regaudit/internal/model"
)

const listingPage = `<html><body>
<nav><a href="/rules-regulations/2099/01/nav-link">Nav</a></nav>
<div class="view-content">
  <article>
    <h3><a href="/rules-regulations/2026/03/cyber-disclosure">Cybersecurity
      Incident Disclosure</a></h3>
    <time datetime="2026-03-01">March 1, 2026</time>
  </article>
  <article>
    <a href="/rules-regulations/2026/02/market-structure#33-11000">Concept Release on Market Structure</a>
    <span class="date">Feb. 10, 2026</span>
  </article>
  <article>
    <a href="/rules-regulations/2026/03/cyber-disclosure">Duplicate link</a>
  </article>
  <article><a href="/news/press-release">Press release</a></article>
  <article><a href="/rules-regulations/2026/01/undated">Undated Rule</a></article>
</div>
</body></html>`

func detailPage(pdfs ...string) string {
	page := "<html><body>"
	for _, p := range pdfs {
		page += p
	}
	return page + "</body></html>"
}

func newTestSEC(srv *httptest.Server, staging string) *SEC {
	return NewSEC(SECConfig{
		BaseURL:    srv.URL,
		ListingURL: srv.URL + "/rules-regulations/rulemaking-activity",
		UserAgent:  "regaudit-test/1.0",
		StagingDir: staging,
		Retries:    2,
		Backoff:    time.Millisecond,
	}, srv.Client(), nil)
}

func TestSEC_Discover(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	regs, err := newTestSEC(srv, t.TempDir()).Discover(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, regs, 3)

	assert.Equal(t, "2026-03-cyber-disclosure", regs[0].ID)
	assert.Equal(t, "Cybersecurity Incident Disclosure", regs[0].Title)
	assert.Equal(t, "March 1, 2026", regs[0].Date)
	assert.Equal(t, srv.URL+"/rules-regulations/2026/03/cyber-disclosure", regs[0].URL)

	assert.Equal(t, "2026-02-market-structure-33-11000", regs[1].ID)
	assert.Equal(t, "Feb. 10, 2026", regs[1].Date)

	assert.Equal(t, UnknownDate, regs[2].Date)
	assert.Equal(t, "regaudit-test/1.0", ua.Load())
}

func TestSEC_DiscoverLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	regs, err := newTestSEC(srv, t.TempDir()).Discover(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}

func TestSEC_FetchPrefersFinalRulePDF(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rules-regulations/2026/03/cyber-disclosure", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage(
			`<a href="/files/fact-sheet.pdf">Fact sheet</a>`,
			`<a href="/files/rules/proposed.pdf">Proposed rule</a>`,
			`<a href="/files/rules/final/2026/34-99001.pdf">Final Rule</a>`,
		))
	})
	mux.HandleFunc("/files/rules/final/2026/34-99001.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 test"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	staging := t.TempDir()
	reg := model.Regulation{ID: "2026-03-cyber-disclosure", URL: srv.URL + "/rules-regulations/2026/03/cyber-disclosure"}
	got, err := newTestSEC(srv, staging).Fetch(context.Background(), reg)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(staging, "34-99001.pdf"), got.LocalPath)
	data, err := os.ReadFile(got.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 test", string(data))
}

func TestSEC_FetchNoPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage(`<a href="/other">Other</a>`))
	}))
	defer srv.Close()

	_, err := newTestSEC(srv, t.TempDir()).Fetch(context.Background(), model.Regulation{URL: srv.URL + "/rules-regulations/2026/x"})
	assert.ErrorIs(t, err, ErrSourceFetch)
}

func TestSEC_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	regs, err := newTestSEC(srv, t.TempDir()).Discover(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, regs)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSEC_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestSEC(srv, t.TempDir()).Discover(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSourceFetch)
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus two retries")
}

func TestSEC_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestSEC(srv, t.TempDir()).Discover(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSourceFetch)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSEC_DelayBetweenRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	s := newTestSEC(srv, t.TempDir())
	s.cfg.Delay = 50 * time.Millisecond

	start := time.Now()
	for range 2 {
		_, err := s.Discover(context.Background(), 0)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDir_DiscoverAndFetch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "final_rule_cyber.txt"), []byte("Registrants must disclose."), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2026"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026", "Concept Release.md"), []byte("Comment requested."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.docx"), []byte("x"), 0o644))

	d := NewDir(root, nil)
	regs, err := d.Discover(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, regs, 2)

	assert.Equal(t, "2026-concept-release", regs[0].ID)
	assert.Equal(t, "Concept Release", regs[0].Title)
	assert.Equal(t, "final_rule_cyber", regs[1].ID)
	assert.Equal(t, "Final Rule Cyber", regs[1].Title)
	assert.Equal(t, UnknownDate, regs[1].Date)

	got, err := d.Fetch(context.Background(), regs[1])
	require.NoError(t, err)
	assert.Equal(t, regs[1].LocalPath, got.LocalPath)

	_, err = d.Fetch(context.Background(), model.Regulation{LocalPath: filepath.Join(root, "gone.pdf")})
	assert.ErrorIs(t, err, ErrSourceFetch)

	_, err = d.Fetch(context.Background(), model.Regulation{LocalPath: filepath.Join(root, "notes.docx")})
	assert.ErrorIs(t, err, ErrSourceFetch)
}

func TestDir_MissingDirectory(t *testing.T) {
	regs, err := NewDir(filepath.Join(t.TempDir(), "none"), nil).Discover(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestTitleFromFilename(t *testing.T) {
	assert.Equal(t, "Final Rule Cyber-disclosure", TitleFromFilename("final_rule_cyber-disclosure.pdf"))
	assert.Equal(t, "Amendments To Form Pf", TitleFromFilename("dir/AMENDMENTS_to_form_PF.txt"))
}
