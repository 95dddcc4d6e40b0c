package table

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/techdex/pkg/catalog"
)

// Record is a game row as scraped: every field is still display text and
// may be catalog.Unknown.
type Record struct {
	AppID           string
	Name            string
	StoreLink       string
	CatalogLink     string
	ImageLink       string
	ReleaseDate     string
	Reviews         string
	PositivePercent string
	Tags            []string
}

// Link templates for a Steam application.
const (
	StoreLinkFormat = "https://store.steampowered.com/app/%s/"
	ImageLinkFormat = "https://shared.fastly.steamstatic.com/store_item_assets/steam/apps/%s/capsule_231x87.jpg"
)

var (
	appIDPattern = regexp.MustCompile(`/app/(\d+)`)
	datePattern  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2} [A-Z][a-z]{2} \d{4}\b|\b[A-Z][a-z]{2} \d{1,2}, \d{4}\b`)
	countPattern = regexp.MustCompile(`^[\d,.\s]+$`)
)

type field int

const (
	fieldUnknown field = iota
	fieldName
	fieldRelease
	fieldReviews
	fieldPositive
	fieldTags
)

// fieldFor maps a header or data-s key to a record field.
func fieldFor(s string) field {
	s = strings.ToLower(s)
	switch {
	case s == "":
		return fieldUnknown
	case strings.Contains(s, "release"):
		return fieldRelease
	case strings.Contains(s, "positive"), strings.Contains(s, "rating"), s == "%":
		return fieldPositive
	case strings.Contains(s, "review"):
		return fieldReviews
	case strings.Contains(s, "tag"):
		return fieldTags
	case strings.Contains(s, "name"), strings.Contains(s, "title"), s == "game", s == "app":
		return fieldName
	}
	return fieldUnknown
}

// Decode turns rows into records. Rows without an application id are
// dropped; base is the catalog origin used for catalog links.
func Decode(t *Table, base string) []Record {
	if t == nil {
		return nil
	}
	base = strings.TrimRight(base, "/")

	fields := make([]field, len(t.Columns))
	for i, c := range t.Columns {
		if f := fieldFor(c.Key); f != fieldUnknown {
			fields[i] = f
		} else {
			fields[i] = fieldFor(c.Title)
		}
	}

	records := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		if rec, ok := decodeRow(row, fields, base); ok {
			records = append(records, rec)
		}
	}
	return records
}

func decodeRow(row Row, fields []field, base string) (Record, bool) {
	cells := make([]*goquery.Document, len(row.Cells))
	for i, c := range row.Cells {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(c))
		if err != nil {
			return Record{}, false
		}
		cells[i] = doc
	}

	rec := Record{
		AppID:           row.AppID,
		ReleaseDate:     catalog.Unknown,
		Reviews:         catalog.Unknown,
		PositivePercent: catalog.Unknown,
	}

	// Identity: the first application link in the row.
	idCell := -1
	for i, doc := range cells {
		link := doc.Find(`a[href*="/app/"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return !strings.Contains(s.AttrOr("href", ""), "steampowered.com")
		}).First()
		if link.Length() == 0 {
			continue
		}
		if m := appIDPattern.FindStringSubmatch(link.AttrOr("href", "")); m != nil {
			if rec.AppID == "" {
				rec.AppID = m[1]
			}
			rec.Name = cleanText(link.Text())
			if rec.Name == "" {
				rec.Name = strings.TrimSpace(link.AttrOr("title", ""))
			}
			idCell = i
			break
		}
	}
	if rec.AppID == "" {
		return Record{}, false
	}

	for i, doc := range cells {
		f := fieldUnknown
		if i < len(fields) {
			f = fields[i]
		}
		if key, ok := doc.Find("[data-s]").First().Attr("data-s"); ok && f == fieldUnknown {
			f = fieldFor(key)
		}
		text := cleanText(doc.Text())

		switch {
		case f != fieldUnknown:
		case i == idCell:
			f = fieldName
		case text != rec.AppID:
			f = guessField(text)
		}
		switch f {
		case fieldName:
			if rec.Name == "" {
				rec.Name = text
			}
		case fieldRelease:
			if text != "" {
				rec.ReleaseDate = text
			}
		case fieldReviews:
			if text != "" {
				rec.Reviews = text
			}
		case fieldPositive:
			if text != "" {
				rec.PositivePercent = text
			}
		case fieldTags:
			if doc.Find(tagSelector).Length() == 0 {
				for _, tag := range strings.Split(text, ",") {
					rec.Tags = appendTag(rec.Tags, tag)
				}
			}
		}

		if store := doc.Find(`a[href*="store.steampowered.com/app/"]`).First(); store.Length() > 0 && rec.StoreLink == "" {
			rec.StoreLink, _, _ = strings.Cut(store.AttrOr("href", ""), "?")
		}
		if img := doc.Find("img[src]").First(); img.Length() > 0 && rec.ImageLink == "" {
			rec.ImageLink = absoluteImage(img.AttrOr("src", ""))
		}
		doc.Find(tagSelector).Each(func(_ int, a *goquery.Selection) {
			rec.Tags = appendTag(rec.Tags, a.Text())
		})
	}

	if rec.StoreLink == "" {
		rec.StoreLink = fmt.Sprintf(StoreLinkFormat, rec.AppID)
	}
	if rec.CatalogLink == "" {
		rec.CatalogLink = base + "/app/" + rec.AppID + "/"
	}
	if rec.ImageLink == "" {
		rec.ImageLink = fmt.Sprintf(ImageLinkFormat, rec.AppID)
	}
	return rec, true
}

// guessField classifies an unlabelled cell by its content.
func guessField(text string) field {
	switch {
	case text == "":
		return fieldUnknown
	case strings.HasSuffix(text, "%"):
		return fieldPositive
	case datePattern.MatchString(text):
		return fieldRelease
	case countPattern.MatchString(text):
		return fieldReviews
	}
	return fieldUnknown
}

const tagSelector = `a[href^="/tag/"], a.tag`

func appendTag(tags []string, tag string) []string {
	tag = cleanText(tag)
	if tag == "" {
		return tags
	}
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

func absoluteImage(src string) string {
	switch {
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "http"):
		return src
	default:
		return ""
	}
}
