package fastpath

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoEndpoint is returned when the page references no data endpoint.
var ErrNoEndpoint = errors.New("no data endpoint referenced")

// DataTables initialisation snippets that name the server-side endpoint.
var endpointPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"ajax"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`(?i)ajax\s*:\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)url\s*:\s*["']([^"']*data[^"']*)["']`),
}

var endpointAttrs = []string{"data-ajax", "data-url", "data-ajax-url"}

// FindEndpoint locates the table's data endpoint in a technology page and
// resolves it against pageURL.
func FindEndpoint(html, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	var candidates []string
	doc.Find("script:not([src])").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		for _, re := range endpointPatterns {
			if m := re.FindStringSubmatch(text); m != nil {
				candidates = append(candidates, m[1])
			}
		}
	})
	for _, attr := range endpointAttrs {
		doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			candidates = append(candidates, s.AttrOr(attr, ""))
		})
	}

	for _, c := range candidates {
		if resolved, ok := resolve(base, c); ok {
			return resolved, nil
		}
	}
	return "", ErrNoEndpoint
}

func resolve(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(strings.ReplaceAll(ref, `\/`, `/`))
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(u)
	if resolved.Host != base.Host {
		return "", false
	}
	return resolved.String(), true
}

// InferEndpoint derives the conventional data endpoint of a technology page.
func InferEndpoint(base, category, slug string) string {
	return strings.TrimRight(base, "/") + "/tech/" + url.PathEscape(category) + "/" + url.PathEscape(slug) + "/data/"
}
