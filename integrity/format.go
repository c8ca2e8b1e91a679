package integrity

import (
	"fmt"
	"strings"
)

// Format renders a report as human-readable text.
func Format(report *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Integrity audit at %s (%s)\n",
		report.Timestamp.Format("2006-01-02 15:04:05"), report.Duration.Round(1e6))
	if report.OverallMatch {
		b.WriteString("Overall: MATCH\n")
	} else {
		b.WriteString("Overall: MISMATCH\n")
	}
	fmt.Fprintf(&b, "Collections: %d total, %d matched, %d failed, %d errored\n",
		report.Summary.Total, report.Summary.Matched, report.Summary.Failed, report.Summary.Errored)

	for _, r := range report.Results {
		switch {
		case r.Error != "":
			fmt.Fprintf(&b, "  %-15s ERROR   %s\n", r.Entity, r.Error)
		case r.Match:
			fmt.Fprintf(&b, "  %-15s ok      local=%d remote=%d\n", r.Entity, r.LocalCount, r.RemoteCount)
		default:
			fmt.Fprintf(&b, "  %-15s DIVERGED local=%d remote=%d\n", r.Entity, r.LocalCount, r.RemoteCount)
			for _, m := range r.Mismatches {
				switch m.Field {
				case FieldPresence:
					fmt.Fprintf(&b, "    %s: present local=%v remote=%v\n", m.ID, m.LocalValue, m.RemoteValue)
				case FieldRecord:
					fmt.Fprintf(&b, "    %s: record digests differ\n", m.ID)
				default:
					fmt.Fprintf(&b, "    %s.%s: local=%v remote=%v\n", m.ID, m.Field, m.LocalValue, m.RemoteValue)
				}
			}
		}
	}
	return b.String()
}
