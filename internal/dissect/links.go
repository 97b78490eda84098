package dissect

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var textURL = regexp.MustCompile(`(?i)\s?((?:http|https|ftp)://[^\s<]+[^\s<.)])`)

// HTMLLinks returns the href of every anchor in an HTML document, in
// document order. Malformed markup is tokenized as far as possible.
func HTMLLinks(body string) []string {
	var links []string
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "href" {
					links = append(links, string(val))
					break
				}
			}
		}
	}
}

// TextLinks returns every http, https or ftp URL in a plain-text body.
func TextLinks(body string) []string {
	matches := textURL.FindAllStringSubmatch(body, -1)
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		links = append(links, m[1])
	}
	return links
}
