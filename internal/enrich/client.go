// Package enrich resolves the display names and logon time of a session
// through secondary lookups against the inventory API.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"time"

	"vdicollect/internal/extractor"
	"vdicollect/internal/rest"
	"vdicollect/internal/telemetry"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// SessionEnrichment is the lookup result attached to one session.
type SessionEnrichment = extractor.SessionEnrichment

// Getter is the part of rest.Client used for lookups.
type Getter interface {
	Get(ctx context.Context, path, token string) (int, []byte, error)
}

// lookup describes one name lookup: the session field carrying the id,
// the endpoint template and the response field holding the name.
type lookup struct {
	name   string
	field  string
	prefix string
	result string
}

var (
	userLookup    = lookup{name: "user", field: "user_id", prefix: "/rest/external/v1/ad-users-or-groups/", result: "login_name"}
	poolLookup    = lookup{name: "desktop_pool", field: "desktop_pool_id", prefix: "/rest/inventory/v1/desktop-pools/", result: "name"}
	farmLookup    = lookup{name: "farm", field: "farm_id", prefix: "/rest/inventory/v1/farms/", result: "name"}
	machineLookup = lookup{name: "machine", field: "machine_id", prefix: "/rest/inventory/v1/machines/", result: "name"}
	rdsLookup     = lookup{name: "rds_server", field: "rds_server_id", prefix: "/rest/inventory/v1/rds-servers/", result: "name"}
)

const logonSegmentPath = "/rest/helpdesk/v1/logon-timing/logon-segment"

// Client performs session lookups. Successful name lookups are cached for
// the lifetime of the client, which is one collection run.
type Client struct {
	api    Getter
	token  string
	cache  *cache.Cache
	logger *slog.Logger
}

func NewClient(api Getter, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    api,
		token:  token,
		cache:  cache.New(cache.NoExpiration, 0),
		logger: logger.With("component", "enrich"),
	}
}

// Enrich runs every lookup that applies to the session record. Each lookup
// fails independently; a failed lookup leaves its field empty.
func (c *Client) Enrich(ctx context.Context, rec extractor.Record) SessionEnrichment {
	var enr SessionEnrichment
	enr.LoginName = c.name(ctx, rec, userLookup)
	enr.PoolName = c.name(ctx, rec, poolLookup)
	enr.FarmName = c.name(ctx, rec, farmLookup)
	enr.MachineName = c.name(ctx, rec, machineLookup)
	enr.RDSName = c.name(ctx, rec, rdsLookup)
	if id, ok := rec.NonEmpty("id"); ok {
		enr.LogonTimeSeconds = c.logonSeconds(ctx, id)
	}
	return enr
}

// EnrichAll enriches records with up to workers concurrent sessions. The
// result at index i belongs to recs[i]. A panic in a worker is re-raised on
// the calling goroutine once the others have stopped.
func (c *Client) EnrichAll(ctx context.Context, recs []extractor.Record, workers int) []SessionEnrichment {
	out := make([]SessionEnrichment, len(recs))
	if workers <= 1 {
		for i, rec := range recs {
			out[i] = c.Enrich(ctx, rec)
		}
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					c.logger.Error("enrich worker panicked", "panic", p, "stack", string(debug.Stack()))
					err = fmt.Errorf("enrich worker: %v", p)
				}
			}()
			out[i] = c.Enrich(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}
	return out
}

func (c *Client) name(ctx context.Context, rec extractor.Record, l lookup) string {
	id, ok := rec.NonEmpty(l.field)
	if !ok {
		return ""
	}
	key := l.name + "/" + id
	if v, found := c.cache.Get(key); found {
		telemetry.Lookups.WithLabelValues(l.name, "cached").Inc()
		return v.(string)
	}

	body, ok := c.get(ctx, l.name, l.prefix+url.PathEscape(id))
	if !ok {
		return ""
	}
	name := gjson.GetBytes(body, l.result).String()
	if name != "" {
		c.cache.Set(key, name, cache.NoExpiration)
	}
	return name
}

// logonSeconds reads the logon duration of a session. The segment data is
// either an embedded JSON document or a JSON string holding one; the
// duration is v1.d in milliseconds.
func (c *Client) logonSeconds(ctx context.Context, sessionID string) float64 {
	body, ok := c.get(ctx, "logon_segment", logonSegmentPath+"?session_id="+url.QueryEscape(sessionID))
	if !ok {
		return 0
	}
	return extractor.LogonSeconds(LogonMillis(body))
}

// LogonMillis extracts v1.d from a logon-segment response.
func LogonMillis(body []byte) float64 {
	seg := gjson.GetBytes(body, "logon_segment_data")
	var d gjson.Result
	switch {
	case seg.Type == gjson.String:
		if !gjson.Valid(seg.Str) {
			return 0
		}
		d = gjson.Get(seg.Str, "v1.d")
	case seg.IsObject():
		d = seg.Get("v1.d")
	default:
		return 0
	}
	if d.Type != gjson.Number {
		return 0
	}
	return d.Float()
}

func (c *Client) get(ctx context.Context, name, path string) ([]byte, bool) {
	start := time.Now()
	status, body, err := c.api.Get(ctx, path, c.token)
	if err != nil || !rest.OK(status) {
		telemetry.Lookups.WithLabelValues(name, "failed").Inc()
		c.logger.Warn("lookup failed", "lookup", name, "path", path, "status", status, "error", err)
		return nil, false
	}
	telemetry.Lookups.WithLabelValues(name, "ok").Inc()
	c.logger.Debug("lookup", "lookup", name, "path", path, "elapsed", time.Since(start))
	return body, true
}
