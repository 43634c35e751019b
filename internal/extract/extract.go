// Package extract pulls the readable main text out of HTML pages.
package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxBodyBytes caps how much of a page is read.
const maxBodyBytes = 4 << 20

// Page is the readable form of a document.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// boilerplate elements never contribute text.
var boilerplate = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Button:   true,
	atom.Template: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Pre: true, atom.Blockquote: true, atom.Tr: true, atom.Br: true,
	atom.Main: true, atom.Td: true, atom.Dd: true, atom.Dt: true,
}

// Fetch downloads url and extracts its readable content.
func Fetch(ctx context.Context, client *http.Client, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; parley)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return &Page{URL: url, Content: strings.TrimSpace(string(raw))}, nil
	}
	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return nil, fmt.Errorf("unsupported content type %s", mediaType)
	}

	page, err := Readable(body)
	if err != nil {
		return nil, err
	}
	page.URL = url
	return page, nil
}

// Readable parses an HTML document and returns its title and main text.
// It prefers <article>, then <main>, then the whole <body>.
func Readable(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	page := &Page{Title: title(doc)}

	root := find(doc, atom.Article)
	if root == nil {
		root = find(doc, atom.Main)
	}
	if root == nil {
		root = find(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}
	page.Content = render(root)
	return page, nil
}

func title(doc *html.Node) string {
	if t := find(doc, atom.Title); t != nil {
		if s := collapse(textOf(t)); s != "" {
			return s
		}
	}
	var og string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if og != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Meta && attr(n, "property") == "og:title" {
			og = attr(n, "content")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if og != "" {
		return collapse(og)
	}
	if h := find(doc, atom.H1); h != nil {
		return collapse(textOf(h))
	}
	return ""
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

// render emits one paragraph per block element, skipping boilerplate.
func render(root *html.Node) string {
	var paragraphs []string
	var current strings.Builder

	flush := func() {
		if s := collapse(current.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if boilerplate[n.DataAtom] || hidden(n) {
				return
			}
			if blocks[n.DataAtom] {
				flush()
				defer flush()
			}
		case html.TextNode:
			current.WriteString(n.Data)
			current.WriteByte(' ')
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	flush()
	return strings.Join(paragraphs, "\n\n")
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch {
		case a.Key == "hidden":
			return true
		case a.Key == "aria-hidden" && a.Val == "true":
			return true
		case a.Key == "role" && (a.Val == "navigation" || a.Val == "banner"):
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
