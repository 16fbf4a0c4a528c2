package posts

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// headingReplacements demote headings below h3 when the target is allowed.
var headingReplacements = map[string]string{
	"h4": "h3",
	"h5": "h3",
	"h6": "h3",
}

var allowedAttributes = map[string][]string{
	"a":   {"href"},
	"img": {"src", "alt"},
}

// Sanitize limits body to the allowed tags. Script and style elements are
// dropped with their content, other disallowed elements are replaced by
// their children, and only href on links and src/alt on images survive.
// An empty allowed list keeps body unchanged.
func Sanitize(body string, allowed []string) (string, error) {
	if len(allowed) == 0 {
		return body, nil
	}

	bodyCtx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(body), bodyCtx)
	if err != nil {
		return "", err
	}

	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	clean(root, allowed)

	var b strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func clean(parent *html.Node, allowed []string) {
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode:
			parent.RemoveChild(c)
		case html.ElementNode:
			if c.DataAtom == atom.Script || c.DataAtom == atom.Style {
				parent.RemoveChild(c)
				break
			}
			if to, ok := headingReplacements[c.Data]; ok && slices.Contains(allowed, to) {
				c.Data = to
				c.DataAtom = atom.Lookup([]byte(to))
			}
			clean(c, allowed)
			if slices.Contains(allowed, c.Data) {
				c.Attr = keepAttributes(c)
			} else {
				unwrap(parent, c)
			}
		}
		c = next
	}
}

func keepAttributes(n *html.Node) []html.Attribute {
	keep := allowedAttributes[n.Data]
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && slices.Contains(keep, a.Key) {
			out = append(out, a)
		}
	}
	return out
}

// unwrap replaces n with its children.
func unwrap(parent, n *html.Node) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
}
