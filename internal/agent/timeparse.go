package agent

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

// DefaultWindow is the lookback applied when the request names no time.
const DefaultWindow = time.Hour

// timeHintPattern matches the phrases worth handing to the date parser:
// relative expressions ("2 hours ago", "since yesterday") and absolute
// dates.
var timeHintPattern = regexp.MustCompile(
	`(?i)(\d+\s+(?:second|minute|hour|day|week|month)s?\s+ago|` +
		`last\s+(?:night|hour|week|month|\d+\s+\w+)|` +
		`(?:since|until|at|around)\s+[\w:,\- ]{3,30}|` +
		`yesterday|today|this\s+morning)`)

// Window is the resolved investigation time range.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return fmt.Sprintf("%s to %s",
		w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}

// ExtractWindow derives a time window from the request text. The
// earliest parseable time hint becomes the window start; without any
// hint the window is the last DefaultWindow up to now.
func ExtractWindow(request string, now time.Time) Window {
	window := Window{Start: now.Add(-DefaultWindow), End: now}

	hints := timeHintPattern.FindAllString(request, -1)
	if len(hints) == 0 {
		return window
	}

	parser := dps.Parser{}
	cfg := &dps.Configuration{
		CurrentTime:         now,
		PreferredDateSource: dps.CurrentPeriod,
	}

	var earliest time.Time
	for _, hint := range hints {
		hint = strings.TrimSpace(hint)
		for _, prefix := range []string{"since ", "until ", "at ", "around ", "Since ", "Until ", "At ", "Around "} {
			hint = strings.TrimPrefix(hint, prefix)
		}
		parsed, err := parser.Parse(cfg, hint)
		if err != nil || parsed.IsZero() {
			continue
		}
		t := parsed.Time
		if t.After(now) {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	if !earliest.IsZero() {
		window.Start = earliest
	}
	return window
}
