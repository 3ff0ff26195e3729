package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// blockElements end a line in the visible text so sentence detection still works
var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "tr": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "section": true, "article": true,
	"blockquote": true, "pre": true, "table": true,
}

// VisibleText parses an HTML response and returns its readable text, skipping
// scripts and styles. Offsets of claims extracted from the result refer to the
// returned text, not to the markup.
func VisibleText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var (
		buf     strings.Builder
		last    byte
		pending bool // whitespace seen since the last written text
	)
	write := func(s string) {
		buf.WriteString(s)
		last = s[len(s)-1]
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "head":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text == "" {
				pending = pending || n.Data != ""
			} else {
				if (pending || startsWithSpace(n.Data)) && buf.Len() > 0 && last != '\n' && last != ' ' {
					write(" ")
				}
				write(text)
				pending = endsWithSpace(n.Data)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && blockElements[n.Data] && buf.Len() > 0 && last != '\n' {
			write("\n")
			pending = false
		}
	}

	walk(doc)
	return strings.TrimSpace(buf.String()), nil
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\r\n") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n") != s
}

// Links returns the href of every http(s) anchor in an HTML response, in document order
func Links(htmlContent string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
					links = append(links, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)
	return links, nil
}
