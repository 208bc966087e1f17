package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/voxcore/internal/domain"
	"github.com/ashureev/voxcore/internal/intent"
)

type classification struct {
	Matched bool                `json:"matched"`
	Partial bool                `json:"partial,omitempty"`
	Result  domain.IntentResult `json:"result"`
}

func newClassifyCmd() *cobra.Command {
	var (
		aliasesPath string
		partial     bool
	)
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Run the offline intent classifier on an utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []intent.Option{}
			if aliasesPath != "" {
				aliases, err := intent.LoadAliases(aliasesPath)
				if err != nil {
					return err
				}
				opts = append(opts, intent.WithAliases(aliases))
			}
			c := intent.New(opts...)
			text := strings.Join(args, " ")

			var out classification
			if partial {
				out.Result, out.Matched = c.DetectPartial(text)
				out.Partial = true
			} else {
				out.Result, out.Matched = c.Detect(text)
			}
			if !out.Matched {
				out.Result = domain.NewIntentResult(domain.KindGeneral, 0, text, nil, domain.ProvenanceFast)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&aliasesPath, "aliases", "", "YAML alias table extending the built-in one")
	cmd.Flags().BoolVar(&partial, "partial", false, "treat the text as an unfinished utterance")
	return cmd
}

type kindInfo struct {
	Name          string          `json:"name"`
	Category      domain.Category `json:"category"`
	Sensitive     bool            `json:"sensitive,omitempty"`
	TimeSensitive bool            `json:"time_sensitive,omitempty"`
}

func newIntentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List the intent kinds the pipeline resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds := domain.AllIntentKinds()
			out := make([]kindInfo, 0, len(kinds))
			for _, k := range kinds {
				out = append(out, kindInfo{
					Name:          k.String(),
					Category:      k.Category(),
					Sensitive:     k.Sensitive(),
					TimeSensitive: k.TimeSensitive(),
				})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode intents: %w", err)
			}
			return nil
		},
	}
}
