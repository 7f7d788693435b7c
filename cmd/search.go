package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/around-me/discovery/internal/model"
)

var (
	searchLat      float64
	searchLng      float64
	searchRadius   int
	searchTopK     int
	searchPreset   string
	searchCategory string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run one search and print the ranked places as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req := &model.SearchRequest{
			Lat:     searchLat,
			Lng:     searchLng,
			RadiusM: searchRadius,
			TopK:    searchTopK,
		}
		if len(args) > 0 {
			req.Query = args[0]
		}
		if searchPreset != "" {
			req.Context = &model.Context{RankingPreset: searchPreset}
		}
		if searchCategory != "" {
			req.Filters = &model.Filters{Categories: []string{searchCategory}}
		}

		resp, err := env.Pipeline.Search(ctx, req)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	searchCmd.Flags().Float64Var(&searchLat, "lat", 0, "latitude of the search origin")
	searchCmd.Flags().Float64Var(&searchLng, "lng", 0, "longitude of the search origin")
	searchCmd.Flags().IntVar(&searchRadius, "radius", 0, "search radius in meters (default from request defaults)")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "maximum places to return")
	searchCmd.Flags().StringVar(&searchPreset, "preset", "", "ranking preset: balanced, nearby, review-heavy")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "category filter")
	_ = searchCmd.MarkFlagRequired("lat")
	_ = searchCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(searchCmd)
}
