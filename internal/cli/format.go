package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lannapoly/tiewson-kiosk/internal/content"
	"github.com/lannapoly/tiewson-kiosk/internal/locale"
)

// FormatAge formats how long ago t was in a short form (45s, 12m, 3h, 5d).
func FormatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// FormatAudience renders an item's targeting, e.g. "female 18-100" or "all".
func FormatAudience(it content.Item) string {
	gender := string(it.TargetGender.Normalize())
	if it.TargetAgeMin == nil {
		return gender
	}
	hi := "100"
	if it.TargetAgeMax != nil {
		hi = fmt.Sprint(*it.TargetAgeMax)
	}
	return fmt.Sprintf("%s %d-%s", gender, *it.TargetAgeMin, hi)
}

// WriteItems prints items as an aligned table with titles resolved for l.
func WriteItems(w io.Writer, items []content.Item, l locale.Locale, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGE\tTYPE\tAUDIENCE\tTITLE")
	for _, it := range items {
		title := it.TitleFor(l)
		if r := []rune(title); len(r) > 40 {
			title = string(r[:39]) + "…"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			it.ID, FormatAge(now, it.CreatedAt), it.MediaType, FormatAudience(it), strings.TrimSpace(title))
	}
	return tw.Flush()
}
