// Package pipeline orchestrates the compute flow: concurrent upstream
// retrieval with reconciliation, directive parsing, quantity
// calculation, and package selection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rxops/packfit/internal/apperr"
	"github.com/rxops/packfit/internal/ndc"
	"github.com/rxops/packfit/internal/observability/metrics"
	"github.com/rxops/packfit/internal/packselect"
	"github.com/rxops/packfit/internal/quantity"
	"github.com/rxops/packfit/internal/rxnorm"
	"github.com/rxops/packfit/internal/sig"
)

// DrugNormalizer resolves a drug identity against the identity upstream.
type DrugNormalizer interface {
	Resolve(ctx context.Context, query string) (*rxnorm.Resolution, error)
}

// PackageSource retrieves package metadata from the authoritative
// package-data upstream.
type PackageSource interface {
	LookupCode(ctx context.Context, code string) (*ndc.Catalog, error)
	SearchName(ctx context.Context, name string) (*ndc.Catalog, error)
}

// DirectiveParser converts sig text into a structured directive.
type DirectiveParser interface {
	Parse(ctx context.Context, text string) (*sig.Directive, error)
}

// defaultRetryAfter is the hint attached to dependency failures that
// carry no more specific delay.
const defaultRetryAfter = 30 * time.Second

// Pipeline drives one compute request end to end.
type Pipeline struct {
	drugs    DrugNormalizer
	packages PackageSource
	parser   DirectiveParser
	policy   packselect.Policy
	budget   time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a pipeline. budget bounds the whole request; zero falls
// back to ten seconds.
func New(drugs DrugNormalizer, packages PackageSource, parser DirectiveParser,
	policy packselect.Policy, budget time.Duration, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if budget <= 0 {
		budget = 10 * time.Second
	}
	return &Pipeline{
		drugs:    drugs,
		packages: packages,
		parser:   parser,
		policy:   policy,
		budget:   budget,
		metrics:  m,
		logger:   logger,
	}
}

type drugOutcome struct {
	res *rxnorm.Resolution
	err error
}

type catalogOutcome struct {
	cat *ndc.Catalog
	err error
}

type parseOutcome struct {
	directive *sig.Directive
	err       error
}

// Compute runs the pipeline. The two data lookups and directive parsing
// fan out concurrently; no calculation happens until all three have
// returned. Terminal failures come back as *apperr.Error.
func (p *Pipeline) Compute(ctx context.Context, req *ComputeRequest) (*ComputeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	tracer := otel.Tracer("compute-pipeline")
	ctx, span := tracer.Start(ctx, "compute")
	defer span.End()
	span.SetAttributes(
		attribute.String("drug", req.Drug),
		attribute.Int("days_of_therapy", req.DaysOfTherapy),
	)

	drugCh := make(chan drugOutcome, 1)
	catCh := make(chan catalogOutcome, 1)
	parseCh := make(chan parseOutcome, 1)

	go func() {
		res, err := p.drugs.Resolve(ctx, req.Drug)
		drugCh <- drugOutcome{res, err}
	}()
	go func() {
		var (
			cat *ndc.Catalog
			err error
		)
		if rxnorm.LooksLikeNDC(req.Drug) {
			cat, err = p.packages.LookupCode(ctx, req.Drug)
		} else {
			cat, err = p.packages.SearchName(ctx, req.Drug)
		}
		catCh <- catalogOutcome{cat, err}
	}()
	go func() {
		d, err := p.parser.Parse(ctx, req.Directions)
		parseCh <- parseOutcome{d, err}
	}()

	drug := <-drugCh
	cat := <-catCh
	parsed := <-parseCh

	if drug.err != nil && cat.err != nil {
		retry := maxRetryHint(drug.err, cat.err)
		p.logger.Error("both data upstreams failed",
			zap.NamedError("rxnorm", drug.err),
			zap.NamedError("ndc", cat.err))
		return nil, apperr.Dependency(
			"drug data sources are unavailable; try again shortly",
			retry,
			errors.Join(drug.err, cat.err),
		)
	}

	if parsed.err != nil {
		if errors.Is(parsed.err, context.DeadlineExceeded) {
			return nil, apperr.Dependency("request time budget exceeded", defaultRetryAfter, parsed.err)
		}
		// Not retried further: a rewrite of the directive text, not
		// another attempt, is what would fix it.
		p.logger.Info("directive unparseable",
			zap.String("directions", req.Directions), zap.Error(parsed.err))
		return nil, apperr.Parse(
			"directions could not be interpreted; rephrase them like \"1 tablet twice daily\"")
	}

	result := &ComputeResult{ParseMethod: parsed.directive.Method}
	p.reconcile(result, drug, cat)

	required, err := quantity.Compute(parsed.directive, req.DaysOfTherapy, req.UnitOverride)
	if err != nil {
		return nil, apperr.Internal("quantity calculation failed", err)
	}
	result.Quantity = required

	catalog := []ndc.PackageRecord{}
	if cat.err == nil && cat.cat != nil {
		catalog = cat.cat.Records
	}
	selection := packselect.Select(required, catalog, req.PreferredNDCs, p.policy)
	result.Selection = selection

	switch {
	case selection.Chosen == nil:
		p.metrics.Selection("none")
		if selection.Note != "" {
			result.Flags.note(selection.Note)
		}
	case !selection.Chosen.Active:
		p.metrics.Selection("inactive")
		result.Flags.note(fmt.Sprintf(
			"no active package satisfied the constraints; chose inactive code %s", selection.Chosen.NDC11))
	default:
		p.metrics.Selection("chosen")
	}

	span.SetAttributes(attribute.Bool("mismatch", result.Flags.Mismatch))
	return result, nil
}

// reconcile merges the two upstream outcomes into the result. Package
// data wins on conflicts: it is authoritative for activity and size.
func (p *Pipeline) reconcile(result *ComputeResult, drug drugOutcome, cat catalogOutcome) {
	switch {
	case drug.err != nil:
		result.Flags.note("drug identity source unavailable; proceeding on package data only")
	case drug.res.Drug != nil:
		result.Drug = drug.res.Drug
	default:
		result.Flags.note("drug identity could not be normalized")
	}

	if drug.err == nil && drug.res.Degraded {
		result.Flags.note(fmt.Sprintf(
			"drug identity served from cache %s past refresh", drug.res.StaleAge.Truncate(time.Second)))
	}

	if cat.err != nil {
		result.Flags.note("package data source unavailable; no catalog to select from")
		return
	}
	if cat.cat.Degraded {
		result.Flags.note(fmt.Sprintf(
			"package catalog served from cache %s past refresh", cat.cat.StaleAge.Truncate(time.Second)))
	}

	for _, rec := range cat.cat.Records {
		if !rec.Active {
			result.Flags.InactiveNDCs = append(result.Flags.InactiveNDCs, rec.NDC11)
		}
		if rec.SizeInferred {
			result.Flags.note(fmt.Sprintf(
				"package size for %s inferred from concentration heuristics", rec.NDC11))
		}
	}

	// Mismatch: the identity source proposed candidate codes the
	// authoritative catalog does not corroborate, or one source came
	// back empty while the other had data.
	if drug.err == nil {
		candidates := make(map[string]bool, len(drug.res.NDCs))
		for _, code := range drug.res.NDCs {
			candidates[ndc.NormalizeNDC11(code)] = true
		}

		switch {
		case len(candidates) > 0 && len(cat.cat.Records) == 0:
			result.Flags.Mismatch = true
			result.Flags.note("identity source lists codes but package source returned none")
		case len(candidates) > 0:
			overlap := false
			for _, rec := range cat.cat.Records {
				if candidates[rec.NDC11] {
					overlap = true
					break
				}
			}
			if !overlap {
				result.Flags.Mismatch = true
				result.Flags.note("package codes do not overlap the identity source's candidates")
			}
		case drug.res.Drug != nil && len(cat.cat.Records) > 0:
			result.Flags.Mismatch = true
			result.Flags.note("identity source returned no candidate codes for a drug the package source knows")
		}
	}
}

// maxRetryHint picks the more restrictive (larger) retry-after among
// failing dependencies, with a non-zero floor.
func maxRetryHint(errs ...error) time.Duration {
	var hint time.Duration
	for _, err := range errs {
		if e, ok := apperr.As(err); ok && e.RetryAfter > hint {
			hint = e.RetryAfter
		}
	}
	if hint <= 0 {
		hint = defaultRetryAfter
	}
	return hint
}
