package web

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

var denylistTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true,
	"header": true, "aside": true, "form": true, "noscript": true,
}

var denylistClasses = []string{"sidebar", "nav", "menu", "footer", "advert", "cookie"}

// ExtractMainContent walks an HTML document and returns its title plus
// a best-effort main-content text, stripping denylisted tags/classes
// and picking the densest text block rather than returning the whole
// page verbatim.
func ExtractMainContent(body []byte) (title, text string) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", ""
	}

	var bestText string
	var bestScore int

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			if denylistTags[n.Data] || hasDenylistedClass(n) {
				return
			}
		}

		if n.Type == html.ElementNode && (n.Data == "article" || n.Data == "main" || n.Data == "div" || n.Data == "section") {
			text := collectText(n)
			score := textDensity(text)
			if score > bestScore {
				bestScore = score
				bestText = text
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if bestText == "" {
		bestText = collectText(doc)
	}
	return title, strings.TrimSpace(bestText)
}

func hasDenylistedClass(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" && attr.Key != "id" {
			continue
		}
		lower := strings.ToLower(attr.Val)
		for _, bad := range denylistClasses {
			if strings.Contains(lower, bad) {
				return true
			}
		}
	}
	return false
}

func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (denylistTags[n.Data] || hasDenylistedClass(n)) {
			return
		}
		// Block elements start a new line and headings keep a markdown
		// marker, so runbook extraction still sees sections and steps.
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteString("\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
			case "p", "li", "br", "div", "tr", "pre":
				b.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				b.WriteString(trimmed)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// textDensity scores a text block by word count after collapsing
// whitespace, a crude stand-in for a true readability algorithm.
func textDensity(text string) int {
	return len(strings.Fields(text))
}

// ExtractLinks returns the absolute form of every anchor href in body,
// resolved against base and restricted to http(s) targets.
func ExtractLinks(base *url.URL, body []byte) []string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}

	var links []string
	seen := map[string]bool{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				abs.Fragment = ""
				if abs.Scheme != "http" && abs.Scheme != "https" {
					continue
				}
				s := abs.String()
				if !seen[s] {
					seen[s] = true
					links = append(links, s)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
