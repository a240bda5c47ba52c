// Package report summarises ledger history per track.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/ratchet/internal/ledger"
)

type TrackSummary struct {
	Track           string  `json:"track"`
	Rounds          int     `json:"rounds"`
	Replaced        int     `json:"replaced"`
	Retained        int     `json:"retained"`
	Fatal           int     `json:"fatal"`
	MeanImprovement float64 `json:"mean_improvement"`
	LatestAvg       float64 `json:"latest_avg_return"`
	LatestState     string  `json:"latest_state"`
}

type Report struct {
	Tracks         []TrackSummary `json:"tracks"`
	AdvisorCostUSD float64        `json:"advisor_cost_usd"`
	AdvisorTokens  int            `json:"advisor_tokens"`
}

// Generate reads round history from l and writes a summary in format
// (table, markdown, or json).
func Generate(ctx context.Context, l *ledger.Ledger, format string, w io.Writer) error {
	rounds, err := l.Rounds(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("reading rounds: %w", err)
	}
	cost, tokens, err := l.AdvisorSpend(ctx)
	if err != nil {
		return fmt.Errorf("reading advisor spend: %w", err)
	}
	r := Report{Tracks: Summarize(rounds), AdvisorCostUSD: cost, AdvisorTokens: tokens}
	return Write(r, format, w)
}

// Summarize aggregates rounds per track. rounds are expected newest first,
// as the ledger returns them. Unfinished rounds are skipped.
func Summarize(rounds []ledger.Round) []TrackSummary {
	type accum struct {
		TrackSummary
		gain float64
		seen bool
	}
	byTrack := map[string]*accum{}

	for _, r := range rounds {
		if r.State == "" {
			continue
		}
		a, ok := byTrack[r.Track]
		if !ok {
			a = &accum{TrackSummary: TrackSummary{Track: r.Track}}
			byTrack[r.Track] = a
		}
		a.Rounds++
		switch r.State {
		case "replaced":
			a.Replaced++
			a.gain += r.WinnerAvg - r.BaselineAvg
		case "fatal":
			a.Fatal++
		default:
			a.Retained++
		}
		if !a.seen {
			a.seen = true
			a.LatestState = r.State
			a.LatestAvg = r.BaselineAvg
			if r.State == "replaced" {
				a.LatestAvg = r.WinnerAvg
			}
		}
	}

	var summaries []TrackSummary
	for _, a := range byTrack {
		if a.Replaced > 0 {
			a.MeanImprovement = a.gain / float64(a.Replaced)
		}
		summaries = append(summaries, a.TrackSummary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Track < summaries[j].Track
	})
	return summaries
}

func Write(r Report, format string, w io.Writer) error {
	switch format {
	case "markdown":
		return writeMarkdown(r, w)
	case "json":
		return writeJSON(r, w)
	default:
		return writeTable(r, w)
	}
}

func writeTable(r Report, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tROUNDS\tREPLACED\tRETAINED\tFATAL\tMEAN GAIN\tLIVE AVG\tLAST")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, s := range r.Tracks {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%+.3f\t%.3f\t%s\n",
			s.Track, s.Rounds, s.Replaced, s.Retained, s.Fatal, s.MeanImprovement, s.LatestAvg, s.LatestState)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nadvisor: %d tokens, $%.2f\n", r.AdvisorTokens, r.AdvisorCostUSD)
	return err
}

func writeMarkdown(r Report, w io.Writer) error {
	fmt.Fprintln(w, "| Track | Rounds | Replaced | Retained | Fatal | Mean Gain | Live Avg | Last |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|")
	for _, s := range r.Tracks {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %+.3f | %.3f | %s |\n",
			s.Track, s.Rounds, s.Replaced, s.Retained, s.Fatal, s.MeanImprovement, s.LatestAvg, s.LatestState)
	}
	_, err := fmt.Fprintf(w, "\nAdvisor spend: %d tokens, $%.2f\n", r.AdvisorTokens, r.AdvisorCostUSD)
	return err
}

func writeJSON(r Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
