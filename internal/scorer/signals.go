package scorer

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	namePattern  = regexp.MustCompile(`\b[A-Z][a-z]+\s[A-Z][a-z]+\b`)
)

// Signals are the content features used by ScoreContent and the fallback trigger.
type Signals struct {
	// Emails are distinct, lower-cased addresses in first-seen order.
	Emails []string
	// EmailMentions counts address occurrences on the page. A mailto link
	// that also shows its address counts once.
	EmailMentions int
	// Names counts proper-name shaped matches in visible text.
	Names int
	// Headings holds trimmed h1-h3 texts.
	Headings []string
}

// ExtractSignals parses HTML and collects email, name and heading signals.
// Script and style content is ignored. Unparseable input yields empty signals.
func ExtractSignals(body []byte) Signals {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Signals{}
	}
	doc.Find("script, style, noscript, template").Remove()

	text := VisibleText(doc.Selection)

	seen := make(map[string]struct{})
	var emails []string
	textMentions := make(map[string]int)
	attrMentions := make(map[string]int)
	add := func(raw string, mentions map[string]int) {
		addr := strings.ToLower(strings.TrimSpace(raw))
		if addr == "" || !emailPattern.MatchString(addr) {
			return
		}
		mentions[addr]++
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		emails = append(emails, addr)
	}
	for _, m := range emailPattern.FindAllString(text, -1) {
		add(m, textMentions)
	}
	doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		addr := href[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		for _, part := range strings.Split(addr, ",") {
			add(part, attrMentions)
		}
	})
	doc.Find("[data-email], [data-mailto]").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"data-email", "data-mailto"} {
			if v, ok := sel.Attr(attr); ok {
				add(strings.TrimPrefix(v, "mailto:"), attrMentions)
			}
		}
	})
	mentions := 0
	for _, addr := range emails {
		mentions += max(textMentions[addr], attrMentions[addr])
	}

	var headings []string
	doc.Find("h1, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		if h := strings.Join(strings.Fields(sel.Text()), " "); h != "" {
			headings = append(headings, h)
		}
	})

	return Signals{
		Emails:        emails,
		EmailMentions: mentions,
		Names:         len(namePattern.FindAllString(text, -1)),
		Headings:      headings,
	}
}

// VisibleText joins the text nodes under sel with single spaces so adjacent
// elements do not run together.
func VisibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(strings.Join(strings.Fields(t), " "))
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}
