package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"regaudit/internal/model"
)

const maxBodyBytes = 64 << 20

// SECConfig configures the SEC rulemaking scraper.
type SECConfig struct {
	BaseURL    string
	ListingURL string
	UserAgent  string
	StagingDir string
	// Delay is the minimum gap between two requests.
	Delay   time.Duration
	Timeout time.Duration
	// Retries is the number of retries after the first attempt. Each retry
	// waits Backoff, doubling after every attempt.
	Retries int
	Backoff time.Duration
}

// SEC discovers regulations on the SEC rulemaking activity page and downloads
// their PDFs.
type SEC struct {
	cfg    SECConfig
	client *http.Client
	logger *zap.Logger

	mu   sync.Mutex
	last time.Time
}

// NewSEC creates the scraper. A nil client uses one with cfg.Timeout.
func NewSEC(cfg SECConfig, client *http.Client, logger *zap.Logger) *SEC {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.ListingURL == "" {
		cfg.ListingURL = strings.TrimRight(cfg.BaseURL, "/") + "/rules-regulations/rulemaking-activity"
	}
	return &SEC{cfg: cfg, client: client, logger: logger}
}

// Discover scrapes the listing page for rule detail links.
func (s *SEC) Discover(ctx context.Context, limit int) ([]model.Regulation, error) {
	body, err := s.get(ctx, s.cfg.ListingURL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(ErrSourceFetch, "parse listing page",
			goerr.V("url", s.cfg.ListingURL), goerr.V("cause", err.Error()))
	}

	area := findFirst(doc, func(n *html.Node) bool { return isElement(n, "div") && hasClass(n, "view-content") })
	if area == nil {
		area = findFirst(doc, func(n *html.Node) bool { return isElement(n, "main") })
	}
	if area == nil {
		area = doc
	}

	var regs []model.Regulation
	seen := make(map[string]bool)
	walk(area, func(n *html.Node) {
		if limit > 0 && len(regs) >= limit {
			return
		}
		if !isElement(n, "a") {
			return
		}
		href := attr(n, "href")
		if !strings.Contains(href, "/rules-regulations/20") {
			return
		}
		abs, err := s.resolve(s.cfg.ListingURL, href)
		if err != nil || seen[abs] {
			return
		}
		seen[abs] = true

		title := collapse(text(n))
		if title == "" {
			title = abs
		}
		regs = append(regs, model.Regulation{
			ID:    idFromURL(abs),
			Title: title,
			Date:  dateNear(n),
			URL:   abs,
		})
	})

	s.logger.Info("rulemakings discovered", zap.String("url", s.cfg.ListingURL), zap.Int("count", len(regs)))
	return regs, nil
}

// Fetch finds the PDF link on the rule's detail page and downloads it into
// the staging directory.
func (s *SEC) Fetch(ctx context.Context, reg model.Regulation) (model.Regulation, error) {
	body, err := s.get(ctx, reg.URL)
	if err != nil {
		return reg, err
	}
	pdfURL, err := s.pdfLink(reg.URL, body)
	if err != nil {
		return reg, err
	}

	data, err := s.get(ctx, pdfURL)
	if err != nil {
		return reg, err
	}

	name := path.Base(strings.SplitN(pdfURL, "?", 2)[0])
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name = reg.ID + ".pdf"
	}
	dst := filepath.Join(s.cfg.StagingDir, name)
	if err := writeAtomic(dst, data); err != nil {
		return reg, goerr.Wrap(ErrSourceFetch, "stage regulation document",
			goerr.V("path", dst), goerr.V("cause", err.Error()))
	}

	s.logger.Info("regulation staged",
		zap.String("regulation", reg.ID), zap.String("pdf", pdfURL), zap.String("path", dst))
	reg.LocalPath = dst
	return reg, nil
}

// pdfLink picks the best PDF link on a detail page: "final", "full" or
// "complete" links first, then "rule" or "document", then any PDF. Ties go to
// the earliest link on the page.
func (s *SEC) pdfLink(pageURL string, body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", goerr.Wrap(ErrSourceFetch, "parse detail page",
			goerr.V("url", pageURL), goerr.V("cause", err.Error()))
	}

	best, bestPriority := "", -1
	walk(doc, func(n *html.Node) {
		if !isElement(n, "a") {
			return
		}
		href := attr(n, "href")
		if !strings.Contains(strings.ToLower(href), ".pdf") {
			return
		}
		abs, err := s.resolve(pageURL, href)
		if err != nil {
			return
		}
		label := strings.ToLower(collapse(text(n)))
		priority := 0
		switch {
		case strings.Contains(label, "final"), strings.Contains(label, "full"), strings.Contains(label, "complete"):
			priority = 2
		case strings.Contains(label, "rule"), strings.Contains(label, "document"):
			priority = 1
		}
		if priority > bestPriority {
			best, bestPriority = abs, priority
		}
	})

	if best == "" {
		return "", goerr.Wrap(ErrSourceFetch, "no PDF link on detail page", goerr.V("url", pageURL))
	}
	return best, nil
}

// get fetches u, honouring the inter-request delay and retrying transport
// errors and 429/5xx responses with doubling backoff.
func (s *SEC) get(ctx context.Context, u string) ([]byte, error) {
	backoff := s.cfg.Backoff
	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("retrying request",
				zap.String("url", u), zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff))
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		body, retry, err := s.do(ctx, u)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, goerr.Wrap(ErrSourceFetch, "request failed",
		goerr.V("url", u), goerr.V("cause", lastErr.Error()))
}

func (s *SEC) do(ctx context.Context, u string) (body []byte, retry bool, err error) {
	if err := s.throttle(ctx); err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

// throttle waits until Delay has passed since the previous request.
func (s *SEC) throttle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.last.IsZero() {
		if wait := s.cfg.Delay - time.Since(s.last); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	s.last = time.Now()
	return nil
}

func (s *SEC) resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(h).String(), nil
}

// idFromURL derives a stable id from the rule page path, e.g.
// "/rules-regulations/2025/09/s7-2025-01" becomes "2025-09-s7-2025-01".
func idFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return slug(raw)
	}
	p := strings.TrimPrefix(u.Path, "/rules-regulations/")
	id := slug(p)
	if u.Fragment != "" {
		id += "-" + slug(u.Fragment)
	}
	if id == "" {
		return slug(raw)
	}
	return id
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func writeAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
