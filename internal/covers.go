package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// CoverCleanupConfig tunes the cleanup-covers CLI command's batch walk.
type CoverCleanupConfig struct {
	BatchSize  int
	Quarantine string
	DryRun     bool
	Timeout    time.Duration
}

func DefaultCoverCleanupConfig() CoverCleanupConfig {
	return CoverCleanupConfig{
		BatchSize:  200,
		Quarantine: "quarantine/covers/",
		Timeout:    10 * time.Second,
	}
}

// CoverCleanupSummary is cleanup-covers' final report.
type CoverCleanupSummary struct {
	Checked     int
	Quarantined int
	Errors      []string
}

// coverChecker is the HTTP behaviour CoverCleaner depends on, narrowed
// to an interface so tests can substitute a fake that never makes a
// real network call.
type coverChecker interface {
	Head(ctx context.Context, url string) (int, error)
}

// httpCoverChecker issues a real HEAD request through the *http.Client
// it is given (main.go passes a plain http.Client, not one built by
// transport.go's NewUpstream).
type httpCoverChecker struct {
	client *http.Client
}

func (h *httpCoverChecker) Head(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, NewError(KindPermanent, "building cover HEAD request", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, NewError(KindTransient, "cover HEAD request failed", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// quarantineRecord is the audit trail written to the object cache for
// every cover URL that no longer resolves.
type quarantineRecord struct {
	BookID     string `json:"bookId"`
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode,omitempty"`
	Reason     string `json:"reason,omitempty"`
	QuarantinedAt string `json:"quarantinedAt"`
}

// CoverCleaner is the cleanup-covers CLI command's engine: it pages
// through every book with a stored cover_image_url, HEAD-checks it,
// and for anything that doesn't resolve, writes a quarantine record to
// the object cache and clears the column so a future fetch re-derives
// a fresh cover from the providers.
type CoverCleaner struct {
	store   *Store
	object  *ObjectCache
	checker coverChecker
	cfg     CoverCleanupConfig
}

func NewCoverCleaner(store *Store, object *ObjectCache, client *http.Client, cfg CoverCleanupConfig) *CoverCleaner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Quarantine == "" {
		cfg.Quarantine = "quarantine/covers/"
	}
	return &CoverCleaner{store: store, object: object, checker: &httpCoverChecker{client: client}, cfg: cfg}
}

// Run pages through every book with a cover URL until a page comes
// back short, quarantining anything that fails its HEAD check.
func (c *CoverCleaner) Run(ctx context.Context) (CoverCleanupSummary, error) {
	var summary CoverCleanupSummary

	offset := 0
	for {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		books, err := c.store.ListBooksWithCoverURLs(ctx, c.cfg.BatchSize, offset)
		if err != nil && !errorIsDisabled(err) {
			return summary, err
		}
		if len(books) == 0 {
			break
		}

		for _, b := range books {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Checked++

			checkCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			status, err := c.checker.Head(checkCtx, b.CoverImageURL)
			cancel()

			if err == nil && status >= 200 && status < 400 {
				continue
			}

			reason := "unreachable"
			if err != nil {
				reason = err.Error()
			}
			if c.cfg.DryRun {
				summary.Quarantined++
				continue
			}
			if qerr := c.quarantine(ctx, b.BookID, b.CoverImageURL, status, reason); qerr != nil {
				summary.Errors = append(summary.Errors, "quarantine "+b.BookID+": "+qerr.Error())
				continue
			}
			if err := c.store.ClearCoverImage(ctx, b.BookID); err != nil && !errorIsDisabled(err) {
				summary.Errors = append(summary.Errors, "clear cover "+b.BookID+": "+err.Error())
				continue
			}
			summary.Quarantined++
		}

		if len(books) < c.cfg.BatchSize {
			break
		}
		offset += len(books)
	}

	return summary, nil
}

func (c *CoverCleaner) quarantine(ctx context.Context, bookID, url string, status int, reason string) error {
	rec := quarantineRecord{
		BookID:        bookID,
		URL:           url,
		StatusCode:    status,
		Reason:        reason,
		QuarantinedAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.object.PutRaw(ctx, c.cfg.Quarantine+bookID+".json", payload)
}
