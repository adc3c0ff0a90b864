package rxnorm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rxops/packfit/internal/apperr"
	"github.com/rxops/packfit/internal/upstream"
	"github.com/rxops/packfit/pkg/cache"
	"github.com/rxops/packfit/pkg/circuitbreaker"
	"github.com/rxops/packfit/pkg/ratelimit"
)

func newTestClient(t *testing.T, baseURL string, limiter *ratelimit.Limiter, cacheCfg cache.Config) (*Client, *cache.Cache[Resolution]) {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.New(1000, time.Second)
	}
	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("rxnorm-test"), nil)
	if err != nil {
		t.Fatalf("breaker: %v", err)
	}
	if cacheCfg.Capacity == 0 {
		cacheCfg = cache.Config{Capacity: 100, TTL: time.Hour, MaxStale: 2 * time.Hour}
	}
	c := cache.New[Resolution](cacheCfg)
	caller := upstream.New(upstream.Config{
		Name:            "rxnorm-test",
		Timeout:         2 * time.Second,
		RetryBackoff:    5 * time.Millisecond,
		MaxRetryBackoff: 10 * time.Millisecond,
	}, limiter, breaker, nil, nil)
	return New(baseURL, caller, c, nil, nil), c
}

func rxnavStub(t *testing.T, hits *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt64(hits, 1)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/rxcui.json"):
			if strings.Contains(r.URL.RawQuery, "amoxicillin") {
				w.Write([]byte(`{"idGroup":{"rxnormId":["723"]}}`))
				return
			}
			w.Write([]byte(`{"idGroup":{}}`))
		case strings.Contains(r.URL.Path, "/properties.json"):
			w.Write([]byte(`{"properties":{"name":"amoxicillin 500 MG Oral Capsule"}}`))
		case strings.Contains(r.URL.Path, "/ndcs.json"):
			w.Write([]byte(`{"ndcGroup":{"ndcList":{"ndc":["00781150605","00781150610"]}}}`))
		case strings.HasSuffix(r.URL.Path, "/approximateTerm.json"):
			w.Write([]byte(`{"approximateGroup":{"candidate":[]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestResolveExactMatch(t *testing.T) {
	srv := rxnavStub(t, nil)
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil, cache.Config{})
	res, err := client.Resolve(context.Background(), "amoxicillin 500 mg capsule")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Drug == nil {
		t.Fatal("expected a normalized drug")
	}
	if res.Drug.RxCUI != "723" {
		t.Errorf("rxcui = %q, want 723", res.Drug.RxCUI)
	}
	if res.Drug.Name != "amoxicillin 500 MG Oral Capsule" {
		t.Errorf("name = %q", res.Drug.Name)
	}
	if len(res.NDCs) != 2 {
		t.Errorf("candidate NDCs = %d, want 2", len(res.NDCs))
	}
	if res.Degraded {
		t.Error("live resolution must not be degraded")
	}
}

func TestResolveCachesResult(t *testing.T) {
	var hits int64
	srv := rxnavStub(t, &hits)
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil, cache.Config{})
	ctx := context.Background()

	if _, err := client.Resolve(ctx, "amoxicillin"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	first := atomic.LoadInt64(&hits)

	if _, err := client.Resolve(ctx, "Amoxicillin"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != first {
		t.Errorf("cached resolve issued %d extra upstream calls", got-first)
	}
}

func TestResolveNoMatchCachedNegative(t *testing.T) {
	var hits int64
	srv := rxnavStub(t, &hits)
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil, cache.Config{})
	ctx := context.Background()

	res, err := client.Resolve(ctx, "notadrugatall")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Drug != nil {
		t.Fatal("expected no match")
	}
	first := atomic.LoadInt64(&hits)

	if _, err := client.Resolve(ctx, "notadrugatall"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != first {
		t.Error("negative result was not cached")
	}
}

func TestResolveRetriesOnServerError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/rxcui.json") {
			w.Write([]byte(`{"idGroup":{"rxnormId":["723"]}}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil, cache.Config{})
	res, err := client.Resolve(context.Background(), "amoxicillin")
	if err != nil {
		t.Fatalf("Resolve after retry: %v", err)
	}
	if res.Drug == nil || res.Drug.RxCUI != "723" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolveFailsClosedOnRateLimit(t *testing.T) {
	srv := rxnavStub(t, nil)
	defer srv.Close()

	limiter := ratelimit.New(1, time.Minute)
	limiter.TryAcquire() // exhaust the budget

	client, _ := newTestClient(t, srv.URL, limiter, cache.Config{})
	_, err := client.Resolve(context.Background(), "amoxicillin")
	if err == nil {
		t.Fatal("expected a rate-limit error")
	}
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeRateLimited {
		t.Fatalf("err = %v, want %s", err, apperr.CodeRateLimited)
	}
	if e.RetryAfter <= 0 {
		t.Error("rate-limit error must carry a retry delay")
	}
}

func TestResolveServesStaleWhenUpstreamDown(t *testing.T) {
	up := int64(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt64(&up) == 0 {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/rxcui.json"):
			w.Write([]byte(`{"idGroup":{"rxnormId":["723"]}}`))
		case strings.Contains(r.URL.Path, "/properties.json"):
			w.Write([]byte(`{"properties":{"name":"amoxicillin"}}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	client, c := newTestClient(t, srv.URL, nil, cache.Config{
		Capacity: 10,
		TTL:      10 * time.Millisecond,
		MaxStale: time.Hour,
	})
	ctx := context.Background()

	if _, err := client.Resolve(ctx, "amoxicillin"); err != nil {
		t.Fatalf("warm-up resolve: %v", err)
	}

	// Let the entry expire, then take the upstream down.
	time.Sleep(20 * time.Millisecond)
	atomic.StoreInt64(&up, 0)

	res, err := client.Resolve(ctx, "amoxicillin")
	if err != nil {
		t.Fatalf("degraded resolve: %v", err)
	}
	if !res.Degraded {
		t.Error("expected a degraded (stale) resolution")
	}
	if res.Drug == nil || res.Drug.RxCUI != "723" {
		t.Errorf("stale resolution lost data: %+v", res)
	}
	_ = c
}

func TestLooksLikeNDC(t *testing.T) {
	cases := map[string]bool{
		"0781-1506-05":     true,
		"00781150605":      true,
		"amoxicillin":      false,
		"500":              false,
		"1234-5678-90-1234": false, // too many digits
	}
	for in, want := range cases {
		if got := LooksLikeNDC(in); got != want {
			t.Errorf("LooksLikeNDC(%q) = %v, want %v", in, got, want)
		}
	}
}
