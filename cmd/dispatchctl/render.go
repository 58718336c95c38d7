package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/example/dispatch-engine/internal/assign"
	"github.com/example/dispatch-engine/internal/coordinator"
	"github.com/example/dispatch-engine/internal/fare"
	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
	"github.com/example/dispatch-engine/internal/problems"
)

func renderBoard(w io.Writer, trips []models.Trip, flags []problems.Flag, cmds *coordinator.CommandStore, synced time.Time) error {
	reasons := make(map[string]string, len(flags))
	for _, f := range flags {
		reasons[f.TripID] = f.Reason
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "synced %s  trips %d  problems %d\n", synced.Format(time.TimeOnly), len(trips), len(flags))
	fmt.Fprintln(tw, "TRIP\tCODE\tZONE\tSTATUS\tDRIVER\tNEXT\tPROBLEM\tCOMMAND")
	for _, t := range trips {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, dash(t.Code), dash(t.Zone), dash(string(t.Status)), dash(t.DriverID),
			nextStatuses(t.Status), dash(reasons[t.ID]), commandNote(cmds, t.ID))
	}
	return tw.Flush()
}

func nextStatuses(s models.Status) string {
	next := lifecycle.Allowed(s, lifecycle.FlowDispatch)
	if len(next) == 0 {
		return "-"
	}
	out := ""
	for i, n := range next {
		if i > 0 {
			out += ","
		}
		out += string(n)
	}
	return out
}

func commandNote(cmds *coordinator.CommandStore, tripID string) string {
	if cmds == nil {
		return "-"
	}
	st, ok := cmds.Get(tripID)
	if !ok {
		return "-"
	}
	switch {
	case st.PendingOverride != "":
		return "pending " + st.PendingOverride
	case st.LastError != "":
		return "failed: " + st.LastError
	case st.Acknowledged:
		return "ack"
	}
	return "-"
}

func renderSuggestions(w io.Writer, ref string, res assign.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "trip %s  mode %s\n", ref, res.Mode)
	if res.Note != "" {
		fmt.Fprintf(tw, "note: %s\n", res.Note)
	}
	if len(res.Suggestions) == 0 {
		fmt.Fprintln(tw, "no candidates")
		return tw.Flush()
	}
	fmt.Fprintln(tw, "#\tDRIVER\tNAME\tDISTANCE")
	for i, s := range res.Suggestions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, s.DriverID, dash(s.Name), s.Label)
	}
	return tw.Flush()
}

func renderQuote(w io.Writer, q fare.Quote) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	dist := "unknown"
	if q.DriverToPickupKm != nil {
		dist = fmt.Sprintf("%.2f km", *q.DriverToPickupKm)
	}
	fmt.Fprintf(tw, "trip\t%s\n", q.TripID)
	fmt.Fprintf(tw, "driver\t%s\n", dash(q.DriverID))
	fmt.Fprintf(tw, "to pickup\t%s\n", dist)
	fmt.Fprintf(tw, "base fare\t%d\n", q.BaseFare)
	fmt.Fprintf(tw, "pickup fee\t%d\n", q.PickupFee)
	fmt.Fprintf(tw, "total\t%d\n", q.Total)
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
