package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return b, eris.Wrap(err, "read stdin")
	}
	b, err := os.ReadFile(path)
	return b, eris.Wrapf(err, "read %s", path)
}

// parseTimeFlag accepts RFC 3339 or a bare date.
func parseTimeFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, resilience.Validationf(name, "expected RFC 3339 or YYYY-MM-DD, got %q", v)
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// startHelp describes window alignment for --start flags.
const startHelp = "window start, aligned to its period: daily at 00:00 UTC, weekly on Monday 00:00 UTC, " +
	"monthly in 30-day blocks counted from 0001-01-01 (default: latest closed window)"

// resolveStart returns the window start named by --start, or the latest
// closed window when start is empty. With align set, start is moved back
// to the beginning of the window that contains it.
func resolveStart(d model.PeriodDurations, p model.Period, start string, align bool, now time.Time) (time.Time, error) {
	if start == "" {
		return d.LatestClosedStart(p, now), nil
	}
	t, err := parseTimeFlag("start", start)
	if err != nil {
		return time.Time{}, err
	}
	if align {
		t = d.AlignStart(p, t)
	}
	return t, nil
}
