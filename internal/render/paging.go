package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Pagination containers and buttons of DataTables 2.x and 1.x.
const (
	pagingSelector = "div.dt-paging, div.dataTables_paginate"
	buttonSelector = "button.dt-paging-button, a.paginate_button"
)

// Arrow labels that mean "next page", in order of preference.
var nextLabels = []string{"›", "next", ">", "»"}

// nextState describes the pagination control after the current page.
type nextState int

const (
	nextAbsent nextState = iota
	nextDisabled
	nextEnabled
)

// pager is what the pagination control says about the rendered page.
type pager struct {
	state  nextState
	target nextTarget
	// current is the active page number, or 0 when the pager does not show one.
	current int
}

// nextTarget is the control to click. page is the page number it leads to,
// or 0 for an arrow, which moves relative to whatever page is showing and so
// must not be clicked twice for one step.
type nextTarget struct {
	selector string
	page     int
}

// nextControl finds the control that advances to the next page, with a CSS
// selector that reaches it in the live document.
func nextControl(doc *goquery.Document) pager {
	container := doc.Find(pagingSelector).First()
	if container.Length() == 0 {
		return pager{state: nextAbsent}
	}
	buttons := container.Find(buttonSelector)
	if buttons.Length() == 0 {
		return pager{state: nextAbsent}
	}

	p := pager{current: activePage(buttons)}
	target := nextNumbered(buttons, p.current)
	if target != nil {
		p.target.page = p.current + 1
	} else {
		target = nextArrow(buttons)
	}
	switch {
	case target == nil:
		p.state = nextAbsent
		p.target = nextTarget{}
	case isDisabled(target):
		p.state = nextDisabled
		p.target = nextTarget{}
	default:
		p.state = nextEnabled
		p.target.selector = selectorFor(container, target)
	}
	return p
}

// activePage returns the number on the active button, or 0.
func activePage(buttons *goquery.Selection) int {
	current := 0
	buttons.EachWithBreak(func(_ int, b *goquery.Selection) bool {
		if isActive(b) {
			if n, err := strconv.Atoi(label(b)); err == nil {
				current = n
			}
			return false
		}
		return true
	})
	return current
}

// nextNumbered returns the numbered button for the page after current.
func nextNumbered(buttons *goquery.Selection, current int) *goquery.Selection {
	if current <= 0 {
		return nil
	}
	want := strconv.Itoa(current + 1)
	var found *goquery.Selection
	buttons.EachWithBreak(func(_ int, b *goquery.Selection) bool {
		if label(b) == want {
			found = b
			return false
		}
		return true
	})
	return found
}

func nextArrow(buttons *goquery.Selection) *goquery.Selection {
	if next := buttons.FilterFunction(func(_ int, b *goquery.Selection) bool {
		return b.HasClass("next") || b.AttrOr("data-dt-idx", "") == "next"
	}).First(); next.Length() > 0 {
		return next
	}
	for _, want := range nextLabels {
		var found *goquery.Selection
		buttons.EachWithBreak(func(_ int, b *goquery.Selection) bool {
			if strings.ToLower(label(b)) == want {
				found = b
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func label(b *goquery.Selection) string {
	if text := strings.Join(strings.Fields(b.Text()), " "); text != "" {
		return text
	}
	return strings.TrimSpace(b.AttrOr("aria-label", ""))
}

func isActive(b *goquery.Selection) bool {
	return b.HasClass("current") || b.AttrOr("aria-current", "") == "page"
}

func isDisabled(b *goquery.Selection) bool {
	if b.HasClass("disabled") || b.AttrOr("aria-disabled", "") == "true" {
		return true
	}
	_, ok := b.Attr("disabled")
	return ok
}

// selectorFor builds a selector for target: its id when it has one, its
// data-dt-idx within the container, else a child-index path.
func selectorFor(container, target *goquery.Selection) string {
	if id := target.AttrOr("id", ""); id != "" {
		return "#" + cssEscape(id)
	}

	scope := scopeSelector(container)
	tag := goquery.NodeName(target)
	if idx, ok := target.Attr("data-dt-idx"); ok {
		return fmt.Sprintf(`%s %s[data-dt-idx="%s"]`, scope, tag, idx)
	}

	var path []string
	for s := target; s.Length() > 0 && !s.IsSelection(container); s = s.Parent() {
		path = append([]string{fmt.Sprintf("%s:nth-child(%d)", goquery.NodeName(s), s.Index()+1)}, path...)
	}
	return scope + " > " + strings.Join(path, " > ")
}

func scopeSelector(container *goquery.Selection) string {
	if id := container.AttrOr("id", ""); id != "" {
		return "#" + cssEscape(id)
	}
	if container.HasClass("dt-paging") {
		return "div.dt-paging"
	}
	return "div.dataTables_paginate"
}

func cssEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteString(`\` + string(r))
		}
	}
	return b.String()
}

// processing reports whether the table's processing indicator is showing.
func processing(doc *goquery.Document) bool {
	visible := false
	doc.Find("div.dt-processing, div.dataTables_processing").Each(func(_ int, s *goquery.Selection) {
		style := strings.ReplaceAll(strings.ToLower(s.AttrOr("style", "")), " ", "")
		if !strings.Contains(style, "display:none") {
			visible = true
		}
	})
	return visible
}
