package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"vdicollect/internal/extractor"
	"vdicollect/internal/rest"
	"vdicollect/internal/telemetry"
)

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 1000

// Getter is the part of rest.Client the crawler needs.
type Getter interface {
	Get(ctx context.Context, path, token string) (int, []byte, error)
}

// FetchError describes why a collection walk stopped early. Records from
// the pages before the failure are still returned alongside it.
type FetchError struct {
	Path   string
	Page   int
	Status int // 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s page %d: status %d", e.Path, e.Page, e.Status)
	}
	return fmt.Sprintf("fetch %s page %d: %v", e.Path, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Crawler walks paginated inventory collections.
type Crawler struct {
	client   Getter
	token    string
	pageSize int
	logger   *slog.Logger
}

// NewCrawler creates a crawler that authenticates every request with token.
// A pageSize <= 0 selects DefaultPageSize.
func NewCrawler(client Getter, token string, pageSize int, logger *slog.Logger) *Crawler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		client:   client,
		token:    token,
		pageSize: pageSize,
		logger:   logger.With("component", "crawler"),
	}
}

func (c *Crawler) PageSize() int {
	return c.pageSize
}

// Walk requests path page by page and hands every page to onPage. It stops
// after the first page shorter than the page size, or on the first failure,
// in which case a *FetchError is returned. Pages already delivered stay
// delivered.
func (c *Crawler) Walk(ctx context.Context, path string, onPage func(page int, recs []extractor.Record)) error {
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return &FetchError{Path: path, Page: page, Err: err}
		}
		recs, err := c.fetchPage(ctx, path, page)
		if err != nil {
			telemetry.PagesFetched.WithLabelValues(path, "failed").Inc()
			c.logger.Warn("stopping pagination", "path", path, "page", page, "error", err)
			return err
		}
		telemetry.PagesFetched.WithLabelValues(path, "ok").Inc()
		c.logger.Debug("page fetched", "path", path, "page", page, "records", len(recs))

		onPage(page, recs)
		if len(recs) < c.pageSize {
			return nil
		}
	}
}

// FetchAll returns every record of a paginated collection in upstream
// order. On failure it returns the records gathered so far together with
// a *FetchError.
func (c *Crawler) FetchAll(ctx context.Context, path string) ([]extractor.Record, error) {
	var all []extractor.Record
	err := c.Walk(ctx, path, func(_ int, recs []extractor.Record) {
		all = append(all, recs...)
	})
	return all, err
}

// FetchOnce requests an unpaginated collection.
func (c *Crawler) FetchOnce(ctx context.Context, path string) ([]extractor.Record, error) {
	recs, err := c.get(ctx, path, path, 1)
	if err != nil {
		telemetry.PagesFetched.WithLabelValues(path, "failed").Inc()
		c.logger.Warn("collection fetch failed", "path", path, "error", err)
		return nil, err
	}
	telemetry.PagesFetched.WithLabelValues(path, "ok").Inc()
	return recs, nil
}

func (c *Crawler) fetchPage(ctx context.Context, path string, page int) ([]extractor.Record, error) {
	return c.get(ctx, path, PageURL(path, page, c.pageSize), page)
}

func (c *Crawler) get(ctx context.Context, path, url string, page int) ([]extractor.Record, error) {
	status, body, err := c.client.Get(ctx, url, c.token)
	if err != nil {
		return nil, &FetchError{Path: path, Page: page, Err: err}
	}
	if !rest.OK(status) {
		return nil, &FetchError{Path: path, Page: page, Status: status}
	}
	recs, err := extractor.SplitArray(body)
	if err != nil {
		return nil, &FetchError{Path: path, Page: page, Status: status, Err: err}
	}
	return recs, nil
}

// PageURL appends the page and size query parameters to path, using '&'
// when path already carries a query string.
func PageURL(path string, page, size int) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "page=" + strconv.Itoa(page) + "&size=" + strconv.Itoa(size)
}
