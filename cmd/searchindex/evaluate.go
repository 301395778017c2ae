package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moonwalker/searchindex/pkg/evaluate"
	"github.com/moonwalker/searchindex/pkg/search"
)

func evaluateCmd(envName *string) *cobra.Command {
	var (
		judgementsPath string
		rankEval       bool
		abTests        string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score live search against relevance judgements (nDCG)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if judgementsPath == "" {
				return fmt.Errorf("--judgements is required")
			}
			a, err := setup(*envName)
			if err != nil {
				return err
			}

			f, err := os.Open(judgementsPath)
			if err != nil {
				return err
			}
			defer f.Close()
			judgements, err := evaluate.LoadJudgementsCSV(f)
			if err != nil {
				return err
			}
			ab, err := parseABTests(abTests)
			if err != nil {
				return err
			}

			var out interface{}
			if rankEval {
				out, err = a.rankEval(cmd.Context(), judgements, ab)
				if err != nil {
					return err
				}
			} else {
				ndcg := evaluate.New(a.searcher)
				ndcg.ABTests = ab
				out = ndcg.Compute(cmd.Context(), judgements)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&judgementsPath, "judgements", "", "CSV of query,score,link rows")
	cmd.Flags().BoolVar(&rankEval, "rank-eval", false, "score with the cluster _rank_eval API instead of live searches")
	cmd.Flags().StringVar(&abTests, "ab-tests", "", "comma separated test:variant pairs")
	return cmd
}

func (a *app) rankEval(ctx context.Context, judgements []evaluate.Judgement, ab map[string]string) (*evaluate.RankEvalResult, error) {
	builder := evaluate.QueryBuilderFunc(func(ctx context.Context, params search.Parameters) (search.M, error) {
		return a.searcher.Builder(params).Payload(ctx)
	})
	re := evaluate.NewRankEval(a.pool.Registry().Default().URI, builder, a.cfg.Indices.Govuk, a.cfg.Indices.Government)
	re.ABTests = ab
	return re.Evaluate(ctx, judgements)
}

func parseABTests(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		test, variant, ok := strings.Cut(pair, ":")
		if !ok || test == "" || variant == "" {
			return nil, fmt.Errorf("invalid ab test %q, want test:variant", pair)
		}
		out[test] = variant
	}
	return out, nil
}
