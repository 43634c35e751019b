package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articlePage = `<!DOCTYPE html>
<html><head><title>  Release Notes </title><script>var x = 1;</script></head>
<body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<header>Site banner</header>
<article>
  <h1>Go 1.25 is out</h1>
  <p>This release brings <b>new</b> features.</p>
  <div aria-hidden="true">tracking pixel</div>
  <p>Upgrade today.</p>
</article>
<aside>Related links</aside>
<footer>Copyright</footer>
</body></html>`

func TestReadable_PrefersArticle(t *testing.T) {
	page, err := Readable(strings.NewReader(articlePage))
	if err != nil {
		t.Fatalf("Readable failed: %v", err)
	}
	if page.Title != "Release Notes" {
		t.Errorf("Expected title 'Release Notes', got %q", page.Title)
	}
	want := "Go 1.25 is out\n\nThis release brings new features.\n\nUpgrade today."
	if page.Content != want {
		t.Errorf("Unexpected content:\n%q\nwant\n%q", page.Content, want)
	}
	for _, junk := range []string{"Home", "Site banner", "Related", "Copyright", "var x", "tracking"} {
		if strings.Contains(page.Content, junk) {
			t.Errorf("Content should not contain %q", junk)
		}
	}
}

func TestReadable_FallsBackToBody(t *testing.T) {
	page, err := Readable(strings.NewReader(`<html><head><meta property="og:title" content="OG Title"></head><body><p>Hello</p><p>World</p></body></html>`))
	if err != nil {
		t.Fatalf("Readable failed: %v", err)
	}
	if page.Title != "OG Title" {
		t.Errorf("Expected og title, got %q", page.Title)
	}
	if page.Content != "Hello\n\nWorld" {
		t.Errorf("Unexpected content %q", page.Content)
	}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(articlePage))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("  just text \n"))
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 'P', 'N', 'G'})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()

	page, err := Fetch(ctx, server.Client(), server.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if page.URL != server.URL+"/page" || page.Title != "Release Notes" {
		t.Errorf("Unexpected page: %+v", page)
	}

	plain, err := Fetch(ctx, server.Client(), server.URL+"/plain")
	if err != nil {
		t.Fatalf("Fetch plain failed: %v", err)
	}
	if plain.Content != "just text" {
		t.Errorf("Expected trimmed plain text, got %q", plain.Content)
	}

	if _, err := Fetch(ctx, server.Client(), server.URL+"/image"); err == nil {
		t.Error("Expected error for image content")
	}
	if _, err := Fetch(ctx, server.Client(), server.URL+"/missing"); err == nil {
		t.Error("Expected error for 404")
	}
}
