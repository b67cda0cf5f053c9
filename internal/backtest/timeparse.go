package backtest

import "time"

// Bar time-label layouts tried in order. Data sources deliver labels in any
// of these shapes depending on bar size.
var barTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102",
	"2006-01-02",
	"2006-01-02 15:04:05",
}

// epoch is the sort fallback for unparsable labels.
var epoch = time.Unix(0, 0).UTC()

// parseBarTime parses a bar's raw time label via the layout fallback chain.
// Unparsable labels map to the Unix epoch so a malformed series degrades to
// a stable ordering instead of aborting the run; callers keep the raw label
// as a secondary sort key so such bars preserve their lexical order.
func parseBarTime(label string) (time.Time, bool) {
	for _, layout := range barTimeLayouts {
		if t, err := time.Parse(layout, label); err == nil {
			return t.UTC(), true
		}
	}
	return epoch, false
}
