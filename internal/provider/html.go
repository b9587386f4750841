package provider

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type htmlMeta struct {
	title  string
	author string
}

// readHTMLMeta pulls the document title and author from the head.
// Missing values are left empty.
func readHTMLMeta(content []byte) htmlMeta {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return htmlMeta{}
	}

	var meta htmlMeta
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if meta.title == "" && n.FirstChild != nil {
					meta.title = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Meta:
				name := strings.ToLower(attr(n, "name") + attr(n, "property"))
				switch name {
				case "author", "article:author", "citation_author", "dc.creator":
					if meta.author == "" {
						meta.author = strings.TrimSpace(attr(n, "content"))
					}
				case "og:title", "citation_title":
					if meta.title == "" {
						meta.title = strings.TrimSpace(attr(n, "content"))
					}
				}
			case atom.Body:
				// Metadata lives in the head.
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
