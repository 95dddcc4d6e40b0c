package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/techdex/pkg/catalog"
)

const rule = "============================================================"

// Summary prints the end-of-run report: totals, games per technology and
// the technologies left out with their reasons.
func Summary(w io.Writer, r *catalog.ScrapeResult, path string, elapsed time.Duration) {
	m := r.Metadata
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "SCRAPE SUMMARY")
	fmt.Fprintln(w, rule)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if path != "" {
		fmt.Fprintf(tw, "Output file:\t%s\n", path)
	}
	fmt.Fprintf(tw, "Categories:\t%s\n", humanize.Comma(int64(m.TotalCategories)))
	fmt.Fprintf(tw, "Technologies:\t%s\n", humanize.Comma(int64(m.TotalTechnologies)))
	if !m.TestMode {
		fmt.Fprintf(tw, "Games:\t%s\n", humanize.Comma(int64(m.TotalGames)))
	}
	fmt.Fprintf(tw, "Skipped:\t%s\n", humanize.Comma(int64(m.TotalSkipped)))
	if elapsed > 0 {
		fmt.Fprintf(tw, "Duration:\t%s\n", elapsed.Round(time.Second))
	}
	_ = tw.Flush()

	if m.TestMode {
		fmt.Fprintln(w, "\nTechnologies found:")
	} else {
		fmt.Fprintln(w, "\nGames per technology:")
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range r.Categories {
		for _, t := range c.Technologies {
			if m.TestMode {
				fmt.Fprintf(tw, "  %s/%s\t%s declared\n", c.Name, t.Name, humanize.Comma(int64(t.DeclaredCount)))
				continue
			}
			note := string(t.End)
			if t.Partial() {
				note += " (partial)"
			}
			fmt.Fprintf(tw, "  %s/%s\t%s games\t%s\t%s\n",
				c.Name, t.Name, humanize.Comma(int64(len(t.Games))), t.Method, note)
		}
	}
	_ = tw.Flush()

	if len(r.Skipped) > 0 {
		fmt.Fprintln(w, "\nSkipped technologies:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, s := range r.Skipped {
			detail := ""
			if s.Detail != "" {
				detail = truncate(s.Detail, 80)
			}
			fmt.Fprintf(tw, "  %s/%s\t%s\tdeclared %s\t%s\n",
				s.Category, s.Technology, s.Reason, humanize.Comma(int64(s.DeclaredCount)), detail)
		}
		_ = tw.Flush()
	}
	fmt.Fprintln(w, rule)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
