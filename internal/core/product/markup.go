package product

import (
	"strings"

	"golang.org/x/net/html"
)

// blockTags separate words when stripped: "<p>a</p><p>b</p>" reads "a b".
var blockTags = map[string]struct{}{
	"br": {}, "p": {}, "div": {}, "li": {}, "ul": {}, "ol": {}, "tr": {}, "td": {}, "th": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "section": {}, "article": {},
	"table": {}, "dd": {}, "dt": {}, "hr": {},
}

// CleanText strips markup, decodes entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<&") {
		s = stripMarkup(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

func stripMarkup(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				// a self-closing <script/> has no end tag to balance it
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if _, ok := blockTags[tag]; ok {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
				continue
			}
			if _, ok := blockTags[tag]; ok {
				b.WriteByte(' ')
			}
		}
	}
}
