package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/scoring"
	"github.com/sells-group/pipeline-cli/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score deals on demand",
	Long: `Compute confidence scores for open deals.

Each score starts from the sales-call assessment (or a neutral default when
no call has been logged), subtracts time-decay penalties for unopened
emails, unviewed proposals, and prospect silence, and adds a bonus when
every invited stakeholder engaged. Predicted monthly and one-time revenue
are weighted by the resulting confidence.

Examples:
  # Score every open deal
  score

  # Score a single deal with the full component breakdown
  score --deal 4fbb6a3a-2f1c-4f8e-9a7d-0c5a1d2e3f4b

  # Export sent deals to CSV
  score --status sent --format csv --output scores.csv

  # Score and persist the results
  score --save`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("deal", "", "score a single deal by ID")
	f.String("status", "", "filter open deals by status (draft or sent)")
	f.String("tenant", "", "filter deals by tenant")
	f.Int("limit", 0, "maximum number of deals to score (0=all)")
	f.String("output", "", "output file path (default: stdout)")
	f.String("format", "table", "output format: table or csv")
	f.Bool("save", false, "persist results to deal_scores")

	rootCmd.AddCommand(scoreCmd)
}

// scoredDeal pairs a deal with its computed result for output.
type scoredDeal struct {
	Deal   model.Deal
	Result scoring.Result
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "score"))

	dealID, _ := cmd.Flags().GetString("deal")
	status, _ := cmd.Flags().GetString("status")
	tenant, _ := cmd.Flags().GetString("tenant")
	limit, _ := cmd.Flags().GetInt("limit")
	outputPath, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	save, _ := cmd.Flags().GetBool("save")

	if format != "table" && format != "csv" {
		return eris.Errorf("score: --format must be table or csv (got %q)", format)
	}
	if status != "" && !model.DealStatus(status).Open() {
		return eris.Errorf("score: --status must be draft or sent (got %q)", status)
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	now := time.Now().UTC()

	// Single-deal mode.
	if dealID != "" {
		sd, err := scoreOne(ctx, st, engine, dealID, now)
		if err != nil {
			return err
		}
		printSingleScore(sd)
		if save {
			if err := saveResults(ctx, st, engine, []scoredDeal{*sd}, now); err != nil {
				return err
			}
			fmt.Println("Score saved to deal_scores")
		}
		return nil
	}

	// Bulk mode.
	deals, err := st.ListOpenDeals(ctx, store.DealFilter{
		Status: model.DealStatus(status),
		Tenant: tenant,
		Limit:  limit,
	})
	if err != nil {
		return err
	}

	log.Info("scoring open deals",
		zap.Int("deals", len(deals)),
		zap.String("status", status),
		zap.String("tenant", tenant),
	)

	var results []scoredDeal
	for _, deal := range deals {
		sd, err := scoreOne(ctx, st, engine, deal.ID, now)
		if err != nil {
			log.Warn("deal scoring failed",
				zap.String("deal_id", deal.ID),
				zap.Error(err),
			)
			continue
		}
		results = append(results, *sd)
	}

	if err := outputScoreResults(results, format, outputPath); err != nil {
		return err
	}
	if save && len(results) > 0 {
		if err := saveResults(ctx, st, engine, results, now); err != nil {
			return err
		}
		fmt.Printf("Saved %d scores to deal_scores\n", len(results))
	}

	printScoreSummary(results)
	return nil
}

func scoreOne(ctx context.Context, st store.Store, engine *scoring.Engine, dealID string, now time.Time) (*scoredDeal, error) {
	in, err := st.LoadScoringInput(ctx, dealID)
	if err != nil {
		return nil, err
	}
	res, err := engine.Score(*in, now)
	if err != nil {
		return nil, eris.Wrapf(err, "score: deal %s", dealID)
	}
	return &scoredDeal{Deal: in.Deal, Result: *res}, nil
}

func saveResults(ctx context.Context, st store.Store, engine *scoring.Engine, results []scoredDeal, now time.Time) error {
	configHash := engine.Config().Hash()
	scores := make([]model.DealScore, 0, len(results))
	for _, sd := range results {
		scores = append(scores, model.DealScore{
			DealID:          sd.Deal.ID,
			Score:           sd.Result.ConfidenceScore,
			BaseScore:       sd.Result.BaseScore,
			TotalPenalties:  sd.Result.TotalPenalties,
			TotalBonus:      sd.Result.TotalBonus,
			WeightedMonthly: sd.Result.WeightedMonthly,
			WeightedOnetime: sd.Result.WeightedOnetime,
			Breakdown:       sd.Result.Breakdown,
			ConfigHash:      configHash,
			ScoredAt:        now,
		})
	}
	if _, err := st.SaveScores(ctx, scores); err != nil {
		return eris.Wrap(err, "score: save")
	}
	return nil
}

func printSingleScore(sd *scoredDeal) {
	fmt.Printf("Deal:             %s\n", sd.Deal.ID)
	fmt.Printf("Name:             %s\n", sd.Deal.Name)
	fmt.Printf("Status:           %s\n", sd.Deal.Status)
	fmt.Printf("Score:            %d / 100\n", sd.Result.ConfidenceScore)
	fmt.Printf("Base:             %.1f\n", sd.Result.BaseScore)
	fmt.Printf("Penalties:        %.1f\n", sd.Result.TotalPenalties)
	fmt.Printf("Bonus:            %.1f\n", sd.Result.TotalBonus)
	fmt.Printf("Weighted monthly: %.2f\n", sd.Result.WeightedMonthly)
	fmt.Printf("Weighted onetime: %.2f\n", sd.Result.WeightedOnetime)
	if len(sd.Result.Breakdown) > 0 {
		fmt.Println("\nComponents:")
		keys := make([]string, 0, len(sd.Result.Breakdown))
		for k := range sd.Result.Breakdown {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-25s %.2f\n", k, sd.Result.Breakdown[k])
		}
	}
}

func printScoreSummary(results []scoredDeal) {
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	var sumScore float64
	var sumMonthly, sumOnetime float64
	maxScore, minScore := 0, 101
	for _, r := range results {
		sumScore += float64(r.Result.ConfidenceScore)
		sumMonthly += r.Result.WeightedMonthly
		sumOnetime += r.Result.WeightedOnetime
		if r.Result.ConfidenceScore > maxScore {
			maxScore = r.Result.ConfidenceScore
		}
		if r.Result.ConfidenceScore < minScore {
			minScore = r.Result.ConfidenceScore
		}
	}
	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Total scored:     %d\n", len(results))
	fmt.Printf("Score range:      %d - %d\n", minScore, maxScore)
	fmt.Printf("Average score:    %.1f\n", sumScore/float64(len(results)))
	fmt.Printf("Weighted monthly: %.2f\n", sumMonthly)
	fmt.Printf("Weighted onetime: %.2f\n", sumOnetime)
}

func outputScoreResults(results []scoredDeal, format, outputPath string) error {
	var w *os.File
	if outputPath != "" {
		var err error
		w, err = os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "score: create output file %s", outputPath)
		}
		defer w.Close() //nolint:errcheck
	} else {
		w = os.Stdout
	}

	switch format {
	case "csv":
		return writeScoreCSV(w, results)
	case "table":
		return writeScoreTable(w, results)
	default:
		return eris.Errorf("score: unsupported format %q", format)
	}
}

func writeScoreCSV(w *os.File, results []scoredDeal) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"deal_id", "name", "status", "score", "base", "penalties", "bonus", "weighted_monthly", "weighted_onetime"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "score: write CSV header")
	}

	for _, r := range results {
		row := []string{
			r.Deal.ID,
			r.Deal.Name,
			string(r.Deal.Status),
			fmt.Sprintf("%d", r.Result.ConfidenceScore),
			fmt.Sprintf("%.1f", r.Result.BaseScore),
			fmt.Sprintf("%.1f", r.Result.TotalPenalties),
			fmt.Sprintf("%.1f", r.Result.TotalBonus),
			fmt.Sprintf("%.2f", r.Result.WeightedMonthly),
			fmt.Sprintf("%.2f", r.Result.WeightedOnetime),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "score: write CSV row")
		}
	}
	return nil
}

func writeScoreTable(w *os.File, results []scoredDeal) error {
	header := fmt.Sprintf("%-36s %-30s %-6s %5s %12s %12s\n",
		"Deal ID", "Name", "Status", "Score", "Monthly", "One-time")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "score: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 105)); err != nil {
		return eris.Wrap(err, "score: write table separator")
	}

	for _, r := range results {
		name := r.Deal.Name
		// Truncate by rune so multibyte deal names are not split mid-character.
		if runes := []rune(name); len(runes) > 30 {
			name = string(runes[:27]) + "..."
		}
		line := fmt.Sprintf("%-36s %-30s %-6s %5d %12.2f %12.2f\n",
			r.Deal.ID, name, r.Deal.Status, r.Result.ConfidenceScore,
			r.Result.WeightedMonthly, r.Result.WeightedOnetime)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "score: write table row")
		}
	}
	return nil
}
