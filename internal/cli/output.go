package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dukerupert/brokerdesk/internal/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func writeSignups(w io.Writer, format string, rows []model.Signup) error {
	if format == "json" {
		return writeJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tSTATUS\tDEMO\tREAL\tUPDATED")
	for _, su := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			su.ID, su.Email, su.Status, deref(su.DemoLogin), deref(su.RealLogin), su.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeWithdrawals(w io.Writer, format string, rows []model.Withdrawal) error {
	if format == "json" {
		return writeJSON(w, rows)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no stale withdrawals")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tLOGIN\tAMOUNT\tKEY\tCREATED")
	for _, wd := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			wd.Ref(), wd.Login, wd.Amount.StringFixed(2), wd.IdempotencyKey, wd.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
