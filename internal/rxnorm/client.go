// Package rxnorm resolves free-text or coded drug identities against the
// RxNorm API: exact name match, approximate-match fallback, and candidate
// NDC enumeration for a resolved concept.
package rxnorm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rxops/packfit/internal/observability/metrics"
	"github.com/rxops/packfit/internal/upstream"
	"github.com/rxops/packfit/pkg/cache"
)

const dependencyName = "rxnorm"

// NormalizedDrug is a canonical drug concept.
type NormalizedDrug struct {
	RxCUI string `json:"rxcui"`
	Name  string `json:"name"`
}

// Resolution is the outcome of resolving one query. Drug is nil when
// the query matched nothing; Degraded marks a stale-cache serve.
type Resolution struct {
	Drug     *NormalizedDrug
	NDCs     []string
	Degraded bool
	StaleAge time.Duration
}

// Client is the drug normalization client.
type Client struct {
	baseURL string
	caller  *upstream.Caller
	cache   *cache.Cache[Resolution]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a client. baseURL is the RxNav REST root without a
// trailing slash.
func New(baseURL string, caller *upstream.Caller, c *cache.Cache[Resolution], m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		caller:  caller,
		cache:   c,
		metrics: m,
		logger:  logger,
	}
}

// Resolve maps a free-text name or NDC code to a canonical identity and
// candidate NDC list. A query that matches nothing yields a Resolution
// with a nil Drug, which is cached to avoid hot-looping. On upstream
// failure a stale cache entry within the staleness window is served
// instead, marked Degraded.
func (c *Client) Resolve(ctx context.Context, query string) (*Resolution, error) {
	key := "resolve:" + strings.ToLower(strings.TrimSpace(query))

	if res, ok := c.cache.Get(key); ok {
		c.metrics.Cache(dependencyName, "hit")
		return &res, nil
	}
	c.metrics.Cache(dependencyName, "miss")

	res, err := c.resolveLive(ctx, query)
	if err != nil {
		if stale, age, ok := c.cache.GetStale(key); ok {
			c.metrics.Degraded(dependencyName)
			c.logger.Warn("serving stale identity resolution",
				zap.String("query", query),
				zap.Duration("age", age),
				zap.Error(err))
			stale.Degraded = true
			stale.StaleAge = age
			return &stale, nil
		}
		c.metrics.Upstream(dependencyName, "error")
		return nil, err
	}

	c.metrics.Upstream(dependencyName, "ok")
	c.cache.Set(key, *res)
	return res, nil
}

func (c *Client) resolveLive(ctx context.Context, query string) (*Resolution, error) {
	var (
		rxcui string
		err   error
	)
	if LooksLikeNDC(query) {
		rxcui, err = c.findByNDC(ctx, query)
	} else {
		rxcui, err = c.findByName(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	if rxcui == "" {
		// Definitive no-match; cached by the caller as a negative result.
		return &Resolution{}, nil
	}

	drug := &NormalizedDrug{RxCUI: rxcui, Name: query}
	if name, err := c.properties(ctx, rxcui); err == nil && name != "" {
		drug.Name = name
	}

	ndcs, err := c.candidateNDCs(ctx, rxcui)
	if err != nil && !errors.Is(err, upstream.ErrNotFound) {
		// The identity alone is still useful to the pipeline.
		c.logger.Warn("candidate NDC lookup failed",
			zap.String("rxcui", rxcui), zap.Error(err))
	}

	return &Resolution{Drug: drug, NDCs: ndcs}, nil
}

func (c *Client) findByName(ctx context.Context, name string) (string, error) {
	var out struct {
		IDGroup struct {
			RxNormID []string `json:"rxnormId"`
		} `json:"idGroup"`
	}
	u := fmt.Sprintf("%s/rxcui.json?search=2&name=%s", c.baseURL, url.QueryEscape(name))
	err := c.caller.GetJSON(ctx, u, &out)
	if err != nil && !errors.Is(err, upstream.ErrNotFound) {
		return "", err
	}
	if len(out.IDGroup.RxNormID) > 0 {
		return out.IDGroup.RxNormID[0], nil
	}
	return c.findApproximate(ctx, name)
}

func (c *Client) findApproximate(ctx context.Context, term string) (string, error) {
	var out struct {
		ApproximateGroup struct {
			Candidate []struct {
				RxCUI string `json:"rxcui"`
				Score string `json:"score"`
			} `json:"candidate"`
		} `json:"approximateGroup"`
	}
	u := fmt.Sprintf("%s/approximateTerm.json?term=%s&maxEntries=1", c.baseURL, url.QueryEscape(term))
	err := c.caller.GetJSON(ctx, u, &out)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if len(out.ApproximateGroup.Candidate) > 0 {
		return out.ApproximateGroup.Candidate[0].RxCUI, nil
	}
	return "", nil
}

func (c *Client) findByNDC(ctx context.Context, ndc string) (string, error) {
	var out struct {
		IDGroup struct {
			RxNormID []string `json:"rxnormId"`
		} `json:"idGroup"`
	}
	u := fmt.Sprintf("%s/rxcui.json?idtype=NDC&id=%s", c.baseURL, url.QueryEscape(ndc))
	err := c.caller.GetJSON(ctx, u, &out)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if len(out.IDGroup.RxNormID) > 0 {
		return out.IDGroup.RxNormID[0], nil
	}
	return "", nil
}

func (c *Client) properties(ctx context.Context, rxcui string) (string, error) {
	var out struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	}
	u := fmt.Sprintf("%s/rxcui/%s/properties.json", c.baseURL, url.PathEscape(rxcui))
	if err := c.caller.GetJSON(ctx, u, &out); err != nil {
		return "", err
	}
	return out.Properties.Name, nil
}

func (c *Client) candidateNDCs(ctx context.Context, rxcui string) ([]string, error) {
	var out struct {
		NDCGroup struct {
			NDCList struct {
				NDC []string `json:"ndc"`
			} `json:"ndcList"`
		} `json:"ndcGroup"`
	}
	u := fmt.Sprintf("%s/rxcui/%s/ndcs.json", c.baseURL, url.PathEscape(rxcui))
	if err := c.caller.GetJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.NDCGroup.NDCList.NDC, nil
}

// LooksLikeNDC reports whether the query is a structured package code
// rather than a drug name: digits with optional dashes, 8 to 13 digits.
func LooksLikeNDC(s string) bool {
	s = strings.TrimSpace(s)
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-' || r == ' ':
		default:
			return false
		}
	}
	return digits >= 8 && digits <= 13
}
