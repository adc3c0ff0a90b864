// Package ndc retrieves retail package metadata from the openFDA NDC
// directory, the authoritative source for package size and marketing
// activity status.
package ndc

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

const dependencyName = "ndc"

// Client is the package-data client.
type Client struct {
	baseURL string
	caller  *upstream.Caller
	cache   *cache.Cache[Catalog]
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a client. baseURL is the NDC directory endpoint.
func New(baseURL string, caller *upstream.Caller, c *cache.Cache[Catalog], m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		caller:  caller,
		cache:   c,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// LookupCode returns package records matching an NDC product or package
// code.
func (c *Client) LookupCode(ctx context.Context, code string) (*Catalog, error) {
	code = strings.TrimSpace(code)
	search := fmt.Sprintf(`package_ndc:"%s" product_ndc:"%s"`, code, code)
	return c.query(ctx, "code:"+code, search)
}

// SearchName returns package records for a brand or generic name search.
func (c *Client) SearchName(ctx context.Context, name string) (*Catalog, error) {
	name = strings.TrimSpace(name)
	search := fmt.Sprintf(`brand_name:"%s" generic_name:"%s"`, name, name)
	return c.query(ctx, "name:"+strings.ToLower(name), search)
}

func (c *Client) query(ctx context.Context, key, search string) (*Catalog, error) {
	if cat, ok := c.cache.Get(key); ok {
		c.metrics.Cache(dependencyName, "hit")
		return &cat, nil
	}
	c.metrics.Cache(dependencyName, "miss")

	cat, err := c.fetch(ctx, search)
	if err != nil {
		if stale, age, ok := c.cache.GetStale(key); ok {
			c.metrics.Degraded(dependencyName)
			c.logger.Warn("serving stale package catalog",
				zap.String("key", key),
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
	c.cache.Set(key, *cat)
	return cat, nil
}

// directoryResponse mirrors the openFDA NDC directory payload, reduced
// to the fields the pipeline consumes.
type directoryResponse struct {
	Results []struct {
		ProductNDC        string `json:"product_ndc"`
		BrandName         string `json:"brand_name"`
		GenericName       string `json:"generic_name"`
		DosageForm        string `json:"dosage_form"`
		MarketingEndDate  string `json:"marketing_end_date"`
		ActiveIngredients []struct {
			Name     string `json:"name"`
			Strength string `json:"strength"`
		} `json:"active_ingredients"`
		Packaging []struct {
			PackageNDC  string `json:"package_ndc"`
			Description string `json:"description"`
			TotalSize   int    `json:"total_package_size,omitempty"`
			Sample      bool   `json:"sample"`
		} `json:"packaging"`
	} `json:"results"`
}

func (c *Client) fetch(ctx context.Context, search string) (*Catalog, error) {
	u := fmt.Sprintf("%s?search=%s&limit=25", c.baseURL, url.QueryEscape(search))

	var resp directoryResponse
	if err := c.caller.GetJSON(ctx, u, &resp); err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			// No catalog entries is a legitimate, cacheable answer.
			return &Catalog{}, nil
		}
		return nil, err
	}

	seen := make(map[string]bool)
	var records []PackageRecord

	for _, product := range resp.Results {
		strength := ""
		if len(product.ActiveIngredients) > 0 {
			strength = product.ActiveIngredients[0].Strength
		}
		name := product.BrandName
		if name == "" {
			name = product.GenericName
		}
		active := c.isActive(product.MarketingEndDate)

		for _, pkg := range product.Packaging {
			if pkg.Sample {
				continue
			}
			ndc11 := NormalizeNDC11(pkg.PackageNDC)
			if seen[ndc11] {
				continue
			}
			seen[ndc11] = true

			size, unit, inferred := normalizeSize(pkg.TotalSize, pkg.Description, product.DosageForm, strength)
			if size <= 0 {
				c.logger.Debug("unusable package size",
					zap.String("package_ndc", pkg.PackageNDC),
					zap.String("description", pkg.Description))
				continue
			}

			records = append(records, PackageRecord{
				NDC11:        ndc11,
				PackageNDC:   pkg.PackageNDC,
				Size:         size,
				Unit:         unit,
				Active:       active,
				DosageForm:   product.DosageForm,
				Name:         name,
				Description:  pkg.Description,
				SizeInferred: inferred,
			})
		}
	}

	return &Catalog{Records: records}, nil
}

// isActive interprets the marketing end date. Absence of an explicit
// inactive marker means active.
func (c *Client) isActive(endDate string) bool {
	if endDate == "" {
		return true
	}
	t, err := time.Parse("20060102", endDate)
	if err != nil {
		if t, err = time.Parse("2006-01-02", endDate); err != nil {
			return true
		}
	}
	return t.After(c.now())
}
