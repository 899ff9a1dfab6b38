package nws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClient_Fetch_Success(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Feb 2026 10:00:00 GMT")
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(`{"properties":{"gridId":"CTP"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 2*time.Second)
	res := c.Fetch(context.Background(), srv.URL+"/points/40,-76", Conditional{})

	if !res.OK() {
		t.Fatalf("Fetch() not OK: status=%d error=%q", res.StatusCode, res.Error)
	}
	if res.ETag != `"v1"` {
		t.Errorf("ETag = %q, want %q", res.ETag, `"v1"`)
	}
	if res.LastModified.IsZero() {
		t.Error("LastModified not captured")
	}
	if gotUA != userAgent {
		t.Errorf("User-Agent = %q, want fixed identifying string", gotUA)
	}
	if gotAccept != acceptHeader {
		t.Errorf("Accept = %q, want %q", gotAccept, acceptHeader)
	}
	if res.JSON["properties"] == nil {
		t.Error("parsed JSON missing properties")
	}
}

func TestHTTPClient_Fetch_ConditionalHeaders(t *testing.T) {
	var gotINM, gotIMS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotINM = r.Header.Get("If-None-Match")
		gotIMS = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 2*time.Second)
	res := c.Fetch(context.Background(), srv.URL+"/x/forecast", Conditional{
		IfNoneMatch:     `"v1"`,
		IfModifiedSince: "Mon, 02 Feb 2026 10:00:00 GMT",
	})

	if gotINM != `"v1"` || gotIMS != "Mon, 02 Feb 2026 10:00:00 GMT" {
		t.Fatalf("conditional headers = (%q, %q), not forwarded", gotINM, gotIMS)
	}
	if res.StatusCode != http.StatusNotModified {
		t.Fatalf("StatusCode = %d, want 304", res.StatusCode)
	}
	// 304 must not attempt a body parse and must not be an error.
	if res.Error != "" || res.JSON != nil {
		t.Fatalf("304 result = error=%q json=%v, want clean empty result", res.Error, res.JSON)
	}
}

// A 304 response that carries validators still surfaces them so the cache
// can refresh its stored copy.
func TestHTTPClient_Fetch_304CapturesValidators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 2*time.Second)
	res := c.Fetch(context.Background(), srv.URL+"/x/forecast", Conditional{IfNoneMatch: `"v1"`})
	if res.ETag != `"v2"` {
		t.Fatalf("ETag = %q, want %q", res.ETag, `"v2"`)
	}
}

func TestHTTPClient_Fetch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	c := NewHTTPClient(url, time.Second)
	res := c.Fetch(context.Background(), url+"/points/40,-76", Conditional{})

	if res.StatusCode != 0 {
		t.Fatalf("StatusCode = %d, want 0 for transport failure", res.StatusCode)
	}
	if res.Error == "" {
		t.Fatal("Error empty, want classified transport message")
	}
}

func TestHTTPClient_Fetch_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	res := c.Fetch(context.Background(), srv.URL+"/x/forecast", Conditional{})
	if res.Error != "empty response body" {
		t.Fatalf("Error = %q, want %q", res.Error, "empty response body")
	}
}

func TestHTTPClient_Fetch_NonJSONBody(t *testing.T) {
	longBody := "<html>" + strings.Repeat("x", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(longBody))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	res := c.Fetch(context.Background(), srv.URL+"/x/forecast", Conditional{})

	if res.Error == "" {
		t.Fatal("Error empty, want parse failure")
	}
	if res.BodyPreview == "" {
		t.Fatal("BodyPreview empty, want diagnostic preview")
	}
	if len(res.BodyPreview) > bodyPreviewLimit {
		t.Fatalf("BodyPreview length = %d, want <= %d", len(res.BodyPreview), bodyPreviewLimit)
	}
}

// A JSON array is well-formed JSON but not an object; the client reports it
// as a parse failure rather than returning an unusable result.
func TestHTTPClient_Fetch_JSONNotAnObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	res := c.Fetch(context.Background(), srv.URL+"/x/forecast", Conditional{})
	if res.Error == "" || res.JSON != nil {
		t.Fatalf("array body: error=%q json=%v, want parse failure", res.Error, res.JSON)
	}
}

func TestHTTPClient_Points_BuildsURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"properties":{}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	c.Points(context.Background(), 40.0, -76.0)
	if gotPath != "/points/40,-76" {
		t.Fatalf("points path = %q, want /points/40,-76", gotPath)
	}
}

// With the breaker enabled, repeated failures open the circuit; the open
// circuit surfaces as a transport-class result, never a panic or error return.
func TestHTTPClient_BreakerOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	c.EnableBreaker(BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		res := c.Fetch(context.Background(), srv.URL+"/x/forecast", Conditional{})
		if res.StatusCode != http.StatusBadGateway {
			t.Fatalf("pre-open fetch %d: status = %d, want 502", i, res.StatusCode)
		}
	}

	res := c.Fetch(context.Background(), srv.URL+"/x/forecast", Conditional{})
	if res.StatusCode != 0 {
		t.Fatalf("open-circuit StatusCode = %d, want 0", res.StatusCode)
	}
	if res.Error != "upstream circuit open" {
		t.Fatalf("open-circuit Error = %q, want %q", res.Error, "upstream circuit open")
	}
}

func TestClassifyResource(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.weather.gov/points/40,-76", "points"},
		{"https://api.weather.gov/gridpoints/CTP/76,64/stations", "stations"},
		{"https://api.weather.gov/gridpoints/CTP/76,64/forecast", "forecast"},
		{"https://api.weather.gov/gridpoints/CTP/76,64/forecast/hourly", "hourly"},
		{"https://api.weather.gov/gridpoints/CTP/76,64", "griddata"},
		{"https://api.weather.gov/alerts", "other"},
	}
	for _, tc := range tests {
		if got := classifyResource(tc.url); got != tc.want {
			t.Errorf("classifyResource(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
