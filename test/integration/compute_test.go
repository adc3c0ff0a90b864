// Package integration exercises the compute API end to end against
// stubbed RxNorm and openFDA upstreams.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rxops/packfit/internal/api/handlers"
	"github.com/rxops/packfit/internal/api/middleware"
	"github.com/rxops/packfit/internal/ndc"
	"github.com/rxops/packfit/internal/packselect"
	"github.com/rxops/packfit/internal/pipeline"
	"github.com/rxops/packfit/internal/rxnorm"
	"github.com/rxops/packfit/internal/sig"
	"github.com/rxops/packfit/internal/upstream"
	"github.com/rxops/packfit/pkg/cache"
	"github.com/rxops/packfit/pkg/circuitbreaker"
	"github.com/rxops/packfit/pkg/ratelimit"
)

func rxnavStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/rxcui.json":
			name := r.URL.Query().Get("name")
			if strings.Contains(strings.ToLower(name), "amoxicillin") {
				w.Write([]byte(`{"idGroup":{"rxnormId":["308182"]}}`))
				return
			}
			w.Write([]byte(`{"idGroup":{}}`))
		case r.URL.Path == "/approximateTerm.json":
			w.Write([]byte(`{"approximateGroup":{"candidate":[]}}`))
		case r.URL.Path == "/rxcui/308182/properties.json":
			w.Write([]byte(`{"properties":{"rxcui":"308182","name":"amoxicillin 500 MG Oral Capsule"}}`))
		case r.URL.Path == "/rxcui/308182/ndcs.json":
			w.Write([]byte(`{"ndcGroup":{"ndcList":{"ndc":["00093415573","00093415505"]}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func openFDAStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		search := r.URL.Query().Get("search")
		if !strings.Contains(strings.ToLower(search), "amoxicillin") {
			http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{
			"results": [{
				"product_ndc": "0093-4155",
				"generic_name": "Amoxicillin",
				"dosage_form": "CAPSULE",
				"active_ingredients": [{"name": "AMOXICILLIN", "strength": "500 mg/1"}],
				"packaging": [
					{"package_ndc": "0093-4155-73", "description": "60 CAPSULE in 1 BOTTLE"},
					{"package_ndc": "0093-4155-05", "description": "500 CAPSULE in 1 BOTTLE"}
				]
			}]
		}`))
	}))
}

// newServer assembles the full stack the way the binary does, pointed
// at the two stub upstreams.
func newServer(t *testing.T, rxnavURL, fdaURL string, apiKeys map[string]string) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	rxnormBreaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("rxnorm"), logger)
	if err != nil {
		t.Fatalf("breaker init: %v", err)
	}
	ndcBreaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("ndc"), logger)
	if err != nil {
		t.Fatalf("breaker init: %v", err)
	}

	drugClient := rxnorm.New(rxnavURL,
		upstream.New(upstream.DefaultConfig("rxnorm"), ratelimit.New(100, time.Second), rxnormBreaker, nil, logger),
		cache.New[rxnorm.Resolution](cache.DefaultConfig()), nil, logger)
	packageClient := ndc.New(fdaURL,
		upstream.New(upstream.DefaultConfig("ndc"), ratelimit.New(100, time.Second), ndcBreaker, nil, logger),
		cache.New[ndc.Catalog](cache.DefaultConfig()), nil, logger)

	parser := sig.NewParser(nil, nil, logger)
	pipe := pipeline.New(drugClient, packageClient, parser,
		packselect.DefaultPolicy(), 5*time.Second, nil, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(apiKeys))
		r.Mount("/compute", handlers.NewComputeHandler(pipe, nil, logger).Routes())
	})
	return httptest.NewServer(r)
}

func postJSON(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestComputeEndToEnd(t *testing.T) {
	rxnav := rxnavStub(t)
	defer rxnav.Close()
	fda := openFDAStub(t)
	defer fda.Close()

	srv := newServer(t, rxnav.URL, fda.URL, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compute",
		`{"drug":"amoxicillin 500mg","directions":"1 capsule by mouth twice daily","days_of_therapy":30}`, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Request-ID"); got == "" {
		t.Error("missing X-Request-ID header")
	}

	var result struct {
		Drug *struct {
			RxCUI string `json:"rxcui"`
			Name  string `json:"name"`
		} `json:"drug"`
		ParseMethod string `json:"parse_method"`
		Quantity    struct {
			Unit  string `json:"unit"`
			Total string `json:"total"`
		} `json:"quantity"`
		Selection struct {
			Chosen *struct {
				NDC11       string `json:"ndc11"`
				Size        int    `json:"package_size"`
				Packs       int    `json:"packs"`
				OverfillPct string `json:"overfill_pct"`
			} `json:"chosen"`
			Alternates []json.RawMessage `json:"alternates"`
		} `json:"selection"`
		Flags struct {
			Mismatch bool     `json:"mismatch"`
			Notes    []string `json:"notes"`
		} `json:"flags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	if result.Drug == nil || result.Drug.RxCUI != "308182" {
		t.Errorf("drug = %+v, want rxcui 308182", result.Drug)
	}
	if result.Drug != nil && result.Drug.Name != "amoxicillin 500 MG Oral Capsule" {
		t.Errorf("drug name = %q", result.Drug.Name)
	}
	if result.ParseMethod != "rules" {
		t.Errorf("parse method = %q, want rules", result.ParseMethod)
	}
	if result.Quantity.Total != "60" || result.Quantity.Unit != "capsule" {
		t.Errorf("quantity = %+v, want 60 capsule", result.Quantity)
	}
	if result.Selection.Chosen == nil {
		t.Fatal("expected a chosen package")
	}
	if result.Selection.Chosen.NDC11 != "00093415573" || result.Selection.Chosen.Size != 60 {
		t.Errorf("chosen = %+v, want the 60-count bottle", result.Selection.Chosen)
	}
	if result.Flags.Mismatch {
		t.Errorf("mismatch flagged; notes = %v", result.Flags.Notes)
	}
}

func TestComputeEndToEndUnknownDrug(t *testing.T) {
	rxnav := rxnavStub(t)
	defer rxnav.Close()
	fda := openFDAStub(t)
	defer fda.Close()

	srv := newServer(t, rxnav.URL, fda.URL, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compute",
		`{"drug":"notarealdrug","directions":"1 capsule twice daily","days_of_therapy":30}`, nil)
	defer resp.Body.Close()

	// Nothing matched anywhere: still a successful computation, with no
	// identity, no selection, and explanatory notes.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var result struct {
		Drug      json.RawMessage `json:"drug"`
		Selection struct {
			Chosen json.RawMessage `json:"chosen"`
			Note   string          `json:"note"`
		} `json:"selection"`
		Flags struct {
			Notes []string `json:"notes"`
		} `json:"flags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(result.Drug) != 0 {
		t.Errorf("drug = %s, want absent", result.Drug)
	}
	if len(result.Selection.Chosen) != 0 {
		t.Errorf("chosen = %s, want absent", result.Selection.Chosen)
	}
	if result.Selection.Note == "" && len(result.Flags.Notes) == 0 {
		t.Error("expected an explanatory note")
	}
}

func TestComputeEndToEndUnparseableSig(t *testing.T) {
	rxnav := rxnavStub(t)
	defer rxnav.Close()
	fda := openFDAStub(t)
	defer fda.Close()

	srv := newServer(t, rxnav.URL, fda.URL, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compute",
		`{"drug":"amoxicillin 500mg","directions":"take as directed","days_of_therapy":30}`, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Code != "PARSE_ERROR" {
		t.Errorf("code = %q, want PARSE_ERROR", body.Code)
	}
}

func TestComputeEndToEndAPIKeyGate(t *testing.T) {
	rxnav := rxnavStub(t)
	defer rxnav.Close()
	fda := openFDAStub(t)
	defer fda.Close()

	srv := newServer(t, rxnav.URL, fda.URL, map[string]string{"sk-test": "pharmacy-a"})
	defer srv.Close()

	body := `{"drug":"amoxicillin 500mg","directions":"1 capsule twice daily","days_of_therapy":30}`

	resp := postJSON(t, srv.URL+"/api/v1/compute", body, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/v1/compute", body, map[string]string{"X-API-Key": "sk-test"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with key = %d, want 200", resp.StatusCode)
	}
}

func TestComputeEndToEndUpstreamsDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream maintenance", http.StatusInternalServerError)
	}))
	defer down.Close()

	srv := newServer(t, down.URL, down.URL, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compute",
		`{"drug":"amoxicillin 500mg","directions":"1 capsule twice daily","days_of_therapy":30}`, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}
