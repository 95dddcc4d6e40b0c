// Package discovery reads the catalogue's category index: each category
// heading and the technologies listed under it with their advertised counts.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/techdex/internal/artifacts"
	"github.com/jmylchreest/techdex/internal/browser"
	"github.com/jmylchreest/techdex/internal/challenge"
	"github.com/jmylchreest/techdex/internal/logger"
	"github.com/jmylchreest/techdex/pkg/catalog"
)

// IndexPath is the category index below the base URL.
const IndexPath = "/tech/"

// KnownCategories are the headings the index is known to carry, in page order.
var KnownCategories = []string{"Engine", "SDK", "Container", "Emulator", "Launcher", "AntiCheat"}

// Opener loads a page through the shared session.
type Opener interface {
	Open(ctx context.Context, rawURL string) (browser.Snapshot, challenge.Outcome, error)
	Page() browser.Page
}

// Discover opens the category index and parses it. A screenshot of the
// index is stored in sink.
func Discover(ctx context.Context, sess Opener, base string, sink artifacts.Sink) ([]*catalog.Category, error) {
	if sink == nil {
		sink = artifacts.Noop{}
	}
	indexURL := strings.TrimRight(base, "/") + IndexPath

	snap, _, err := sess.Open(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("open category index: %w", err)
	}
	if shot, err := sess.Page().Screenshot(ctx); err == nil {
		sink.Screenshot("categories", shot)
	}

	cats, err := Parse(snap.HTML, base)
	if err != nil {
		sink.HTML("categories", snap.HTML)
		return nil, err
	}
	return cats, nil
}

// Parse extracts every category heading (h2 with an id) followed by a
// taglist. Categories keep page order, technologies keep list order.
func Parse(html, base string) ([]*catalog.Category, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse category index: %w", err)
	}

	var cats []*catalog.Category
	doc.Find("h2[id]").Each(func(_ int, h2 *goquery.Selection) {
		id := strings.TrimSpace(h2.AttrOr("id", ""))
		if id == "" {
			return
		}
		list := taglist(h2)
		if list == nil {
			logger.Warn("no taglist for category", "category", id)
			return
		}

		cat := &catalog.Category{Name: id}
		list.Find("div.label").Each(func(_ int, label *goquery.Selection) {
			if tech := technology(label, id, base); tech != nil {
				cat.Technologies = append(cat.Technologies, tech)
			}
		})
		logger.Debug("category parsed", "category", id, "technologies", len(cat.Technologies))
		cats = append(cats, cat)
	})
	return cats, nil
}

// taglist returns the taglist belonging to h2: the first one before the
// next heading, either a sibling or nested in one.
func taglist(h2 *goquery.Selection) *goquery.Selection {
	following := h2.NextUntil("h2")
	if list := following.Filter("div.taglist").First(); list.Length() > 0 {
		return list
	}
	if list := following.Find("div.taglist").First(); list.Length() > 0 {
		return list
	}
	return nil
}

func technology(label *goquery.Selection, category, base string) *catalog.Technology {
	link := label.Find("a.label-link").First()
	if link.Length() == 0 {
		return nil
	}
	name := strings.Join(strings.Fields(link.Text()), " ")
	if name == "" {
		return nil
	}
	return &catalog.Technology{
		Name:          name,
		Category:      category,
		Slug:          label.AttrOr("data-s", name),
		Link:          absolute(base, link.AttrOr("href", "")),
		DeclaredCount: parseCount(label.Find("span.label-count").First().Text()),
		Method:        catalog.MethodNone,
		End:           catalog.EndSkipped,
	}
}

func parseCount(s string) int {
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(s))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func absolute(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// Select keeps the named categories, in the order of names. Names match
// case-insensitively. Unknown names are returned in missing.
func Select(cats []*catalog.Category, names []string) (selected []*catalog.Category, missing []string) {
	if len(names) == 0 {
		return cats, nil
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var found *catalog.Category
		for _, c := range cats {
			if strings.EqualFold(c.Name, name) {
				found = c
				break
			}
		}
		switch {
		case found == nil:
			missing = append(missing, name)
		case !slices.Contains(selected, found):
			selected = append(selected, found)
		}
	}
	return selected, missing
}

// WithMinReviews returns link with its min_reviews query parameter set to
// n, replacing any existing one.
func WithMinReviews(link string, n int) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := u.Query()
	q.Set("min_reviews", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}
