package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/coordinator"
	"github.com/zen-systems/localroute/pkg/profile"
	"github.com/zen-systems/localroute/pkg/router"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDecision(out io.Writer, d router.Decision) error {
	if jsonOutput {
		return printJSON(out, d)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tCONFIDENCE\tLOCAL\tFREE\tPAID")
	fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\n",
		d.Provider, d.Model, d.Confidence, d.Scores.Local, d.Scores.Free, d.Scores.Paid)
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, d.Explanation)
	for _, r := range d.Reasons {
		fmt.Fprintf(out, "  - %s\n", r)
	}
	if d.Cost != nil {
		fmt.Fprintf(out, "\nEstimated paid cost: $%.6f (%s)\n", d.Cost.Paid.Cost.Total, d.Cost.Paid.Model)
	}
	return nil
}

func printCost(out io.Writer, est catalog.CostEstimate) error {
	if jsonOutput {
		return printJSON(out, est)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tMODEL\tPROMPT\tCOMPLETION\tTOTAL TOKENS\tCOST (USD)")
	for _, row := range []struct {
		name string
		path catalog.PathCost
	}{{"local", est.Local}, {"paid", est.Paid}} {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.6f\n", row.name, row.path.Model,
			row.path.Tokens.Prompt, row.path.Tokens.Completion, row.path.Tokens.Total, row.path.Cost.Total)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if est.Note != "" {
		fmt.Fprintf(out, "\nNote: %s\n", est.Note)
	}
	return nil
}

func printPlan(out io.Writer, plan *coordinator.Plan) error {
	if jsonOutput {
		return printJSON(out, plan)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSUBTASK\tCOMPLEXITY\tTOKENS\tMODEL\tSCORE")
	for i, st := range plan.ExecutionOrder {
		a, _ := plan.Assignment(st.ID)
		model := a.ModelID
		if a.Fallback {
			model += " (fallback)"
		}
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%d\t%s\t%.2f\n", i+1, shorten(st.Description, 60), st.Complexity, st.EstimatedTokens, model, a.Score)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s\n", plan.Visualization)
	if len(plan.RemovedEdges) > 0 {
		fmt.Fprintf(out, "Removed %d circular dependencies.\n", len(plan.RemovedEdges))
	}
	for _, s := range plan.Suggestions {
		fmt.Fprintf(out, "Suggestion (%s): %s\n", s.Kind, s.Message)
	}
	c := plan.EstimatedCost
	fmt.Fprintf(out, "\nEstimated cost: $%.6f as assigned, $%.6f all paid, %d tokens\n", c.Assigned, c.Paid, c.Tokens.Total)
	return nil
}

func printRun(out io.Writer, res *coordinator.Result) error {
	if jsonOutput {
		return printJSON(out, res)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBTASK\tMODEL\tSTATUS\tDURATION")
	for _, r := range res.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
			if r.ErrorKind != "" {
				status += " (" + string(r.ErrorKind) + ")"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\n", shorten(r.Description, 60), r.ModelID, status, r.DurationMs)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n", res.Final)
	fmt.Fprintf(out, "\nCalls: %d, tokens: %d, cost: $%.6f\n", res.Cost.Calls, res.Cost.Usage.TotalTokens, res.Cost.Amount)
	return nil
}

func printModels(out io.Writer, models []catalog.Model) error {
	if jsonOutput {
		return printJSON(out, models)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPROVIDER\tBACKEND\tCONTEXT\tSIZE\tPROMPT/1M\tCOMPLETION/1M")
	for _, m := range models {
		window := "-"
		if m.ContextWindow > 0 {
			window = fmt.Sprintf("%d", m.ContextWindow)
		}
		size := string(m.SizeTier)
		if size == "" {
			size = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%.2f\n", m.ID, m.Provider, m.Backend, window, size,
			m.Pricing.Prompt*1e6, m.Pricing.Completion*1e6)
	}
	return w.Flush()
}

func printProfiles(out io.Writer, profiles []profile.Profile) error {
	if jsonOutput {
		return printJSON(out, profiles)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No executions recorded yet.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tRUNS\tSUCCESS\tQUALITY\tAVG MS\tAFFINITY\tUPDATED")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.0f\t%.2f\t%s\n", p.ModelID, p.BenchmarkCount, p.SuccessRate,
			p.QualityScore, p.AvgResponseTimeMs, p.ComplexityAffinity, p.LastUpdated.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
