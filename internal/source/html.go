package source

import (
	"strings"

	"golang.org/x/net/html"
)

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteString(" ")
		}
	})
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// dateNear returns the text of the first <time> or .date element inside the
// closest div, article or li around n.
func dateNear(n *html.Node) string {
	for p := n.Parent; p != nil; p = p.Parent {
		if !isElement(p, "div") && !isElement(p, "article") && !isElement(p, "li") {
			continue
		}
		el := findFirst(p, func(c *html.Node) bool {
			return c.Type == html.ElementNode && (c.Data == "time" || hasClass(c, "date"))
		})
		if el == nil {
			return UnknownDate
		}
		if d := collapse(text(el)); d != "" {
			return d
		}
		if d := attr(el, "datetime"); d != "" {
			return d
		}
		return UnknownDate
	}
	return UnknownDate
}
