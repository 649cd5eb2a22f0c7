package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/synchronie/cotation/internal/bands"
	"github.com/synchronie/cotation/internal/config"
	"github.com/synchronie/cotation/internal/domain"
	"github.com/synchronie/cotation/internal/scoring"
)

var (
	scoreGridPath    string
	scoreRatingsPath string
	scoreJSON        bool
	scorePayload     bool
	scoreSeanceID    int64
	scoreGrilleID    int64
	scoreObservation string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a grid offline from a ratings file",
	Long: `Computes domain and global percentages for a grid without the web application.

The grid file holds {"domaines": [...]} as served by the grid endpoint.
The ratings file is either a list of {domaine_id, indicateur_id, value, poids?}
or a saved payload {"scores": {dom: {ind: {value, poids}}}}.

--payload also prints the save payload; it needs --seance, and --grille
unless the grid file carries an "id".`,
	Args: cobra.NoArgs,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreGridPath, "grid", "", "grid schema JSON file")
	scoreCmd.Flags().StringVar(&scoreRatingsPath, "ratings", "", "ratings JSON file")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the summary as JSON")
	scoreCmd.Flags().BoolVar(&scorePayload, "payload", false, "also print the save payload")
	scoreCmd.Flags().Int64Var(&scoreSeanceID, "seance", 0, "seance id used in the payload")
	scoreCmd.Flags().Int64Var(&scoreGrilleID, "grille", 0, "grid id used in the payload (default: id of the grid file)")
	scoreCmd.Flags().StringVar(&scoreObservation, "observations", "", "observations used in the payload")
	_ = scoreCmd.MarkFlagRequired("grid")
	_ = scoreCmd.MarkFlagRequired("ratings")
}

// ratingLine is one rating of a ratings file.
type ratingLine struct {
	DomainID    domain.ID `json:"domaine_id"`
	IndicatorID domain.ID `json:"indicateur_id"`
	Value       int       `json:"value"`
	Weight      *float64  `json:"poids,omitempty"`
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	classifier, err := bands.NewClassifier(cfg.Bands)
	if err != nil {
		return fmt.Errorf("failed to compile score bands: %w", err)
	}

	grid, err := readGrid(scoreGridPath)
	if err != nil {
		return err
	}
	var seanceID, grilleID int64
	if scorePayload {
		if seanceID, grilleID, err = payloadTarget(grid); err != nil {
			return err
		}
	}
	raw, err := os.ReadFile(scoreRatingsPath)
	if err != nil {
		return fmt.Errorf("cannot read ratings: %w", err)
	}
	ratings, err := parseRatings(raw)
	if err != nil {
		return fmt.Errorf("cannot parse %s: %w", scoreRatingsPath, err)
	}

	agg, sum, err := scoreOffline(grid, ratings, classifier)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scoreJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	} else {
		renderSummary(out, sum)
	}

	if scorePayload {
		payload, err := agg.BuildSavePayload(seanceID, grilleID, scoreObservation)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
	return nil
}

// payloadTarget resolves the seance and grid ids of a --payload run.
func payloadTarget(grid *domain.Grid) (seanceID, grilleID int64, err error) {
	if scoreSeanceID <= 0 {
		return 0, 0, errors.New("--payload requires a positive --seance")
	}
	grilleID = scoreGrilleID
	if grilleID == 0 {
		grilleID = grid.ID
	}
	if grilleID <= 0 {
		return 0, 0, errors.New("--payload requires --grille when the grid file has no id")
	}
	return scoreSeanceID, grilleID, nil
}

func readGrid(path string) (*domain.Grid, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read grid: %w", err)
	}
	var grid domain.Grid
	if err := json.Unmarshal(raw, &grid); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return &grid, nil
}

// parseRatings accepts a list of ratings or a save payload. Payload entries
// are replayed in domain then indicator id order.
func parseRatings(raw []byte) ([]ratingLine, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("ratings file is empty")
	}

	if raw[0] == '[' {
		var lines []ratingLine
		if err := json.Unmarshal(raw, &lines); err != nil {
			return nil, err
		}
		return lines, nil
	}

	var payload domain.SavePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	domIDs := make([]string, 0, len(payload.Scores))
	for id := range payload.Scores {
		domIDs = append(domIDs, id)
	}
	sort.Strings(domIDs)

	var lines []ratingLine
	for _, domID := range domIDs {
		entries := payload.Scores[domID]
		indIDs := make([]string, 0, len(entries))
		for id := range entries {
			indIDs = append(indIDs, id)
		}
		sort.Strings(indIDs)

		for _, indID := range indIDs {
			e := entries[indID]
			w := e.Weight
			lines = append(lines, ratingLine{
				DomainID:    domain.ID(domID),
				IndicatorID: domain.ID(indID),
				Value:       e.Value,
				Weight:      &w,
			})
		}
	}
	return lines, nil
}

// scoreOffline replays ratings on a fresh aggregator, resolving weights the
// same way live sessions do.
func scoreOffline(grid *domain.Grid, ratings []ratingLine, classifier scoring.Classifier) (*scoring.Aggregator, *domain.Summary, error) {
	agg := scoring.NewAggregator()
	if err := agg.Initialize(grid.Domains); err != nil {
		return nil, nil, err
	}

	for i, r := range ratings {
		dom, ind := r.DomainID.String(), r.IndicatorID.String()
		if err := agg.RecordRating(dom, ind, r.Value, grid.ResolveWeight(dom, ind, r.Weight)); err != nil {
			return nil, nil, fmt.Errorf("rating #%d: %w", i+1, err)
		}
	}

	return agg, scoring.NewSummarizer(classifier).Summarize(agg, grid), nil
}

func renderSummary(w io.Writer, sum *domain.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAINE\tSCORE\tBAND\tCOTÉS")
	for _, d := range sum.Domains {
		name := d.Name
		if name == "" {
			name = d.ID
		}
		fmt.Fprintf(tw, "%s\t%d%%\t%s\t%d/%d\n", name, d.Percent, d.Band, d.Rated, d.Total)
	}
	fmt.Fprintf(tw, "GLOBAL\t%d%%\t%s\t%d/%d\n", sum.GlobalPercent, sum.GlobalBand, sum.Completion.Rated, sum.Completion.Total)
	tw.Flush()

	fmt.Fprintf(w, "\nProgression: %d%% des indicateurs cotés\n", sum.CompletionPct)
}
