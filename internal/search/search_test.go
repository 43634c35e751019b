package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const resultsPage = `<html><body>
<div class="result results_links result--ad">
  <a class="result__a" href="https://ads.example.com">Sponsored</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=abc">The <b>Go</b> docs</a></h2>
  <a class="result__snippet" href="#">Documentation for   the Go language.</a>
</div>
<div class="result results_links">
  <a class="result__a" href="https://pkg.go.dev/">Packages</a>
  <a class="result__snippet">Search packages.</a>
</div>
<div class="result results_links">
  <a class="result__a" href="https://go.dev/blog/">Blog</a>
</div>
</body></html>`

func TestDuckDuckGo_Search(t *testing.T) {
	var gotQuery, gotDF string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		_ = r.ParseForm()
		gotQuery = r.FormValue("q")
		gotDF = r.FormValue("df")
		w.Write([]byte(resultsPage))
	}))
	defer server.Close()

	d := NewDuckDuckGo()
	d.SetBaseURL(server.URL)

	results, err := d.Search(context.Background(), "golang docs", Month, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if gotQuery != "golang docs" || gotDF != "m" {
		t.Errorf("Unexpected form: q=%q df=%q", gotQuery, gotDF)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Href != "https://go.dev/doc/" {
		t.Errorf("Expected unwrapped href, got %s", results[0].Href)
	}
	if results[0].Title != "The Go docs" {
		t.Errorf("Expected title 'The Go docs', got %q", results[0].Title)
	}
	if results[0].Body != "Documentation for the Go language." {
		t.Errorf("Unexpected body %q", results[0].Body)
	}
	if results[1].Href != "https://pkg.go.dev/" {
		t.Errorf("Expected second result pkg.go.dev, got %s", results[1].Href)
	}
}

func TestDuckDuckGo_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="no-results">No results.</div></body></html>`))
	}))
	defer server.Close()

	d := NewDuckDuckGo()
	d.SetBaseURL(server.URL)

	results, err := d.Search(context.Background(), "zzzz", Week, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}

func TestDuckDuckGo_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	d := NewDuckDuckGo()
	d.SetBaseURL(server.URL)

	if _, err := d.Search(context.Background(), "q", Week, 5); err == nil {
		t.Error("Expected error for 429")
	}
	if _, err := d.Search(context.Background(), "  ", Week, 5); err == nil {
		t.Error("Expected error for empty query")
	}
}

func TestParseRecency(t *testing.T) {
	tests := []struct {
		in      string
		want    Recency
		wantErr bool
	}{
		{"", Week, false},
		{"d", Day, false},
		{"W", Week, false},
		{"m", Month, false},
		{"y", Year, false},
		{"h", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRecency(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRecency(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRecency(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
