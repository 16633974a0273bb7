package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/d4l-network/d4l-gateway/internal/tools/common"
	"github.com/d4l-network/d4l-gateway/internal/tools/loadgen"
	"github.com/d4l-network/d4l-gateway/internal/tools/ui"
)

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive synthetic traffic at a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.AdminKey == "" {
				cfg.AdminKey = os.Getenv("ADMIN_API_KEY")
			}
			fn := func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("total=%d failures=%d", res.TotalRequests, res.Failures)}
				classes := make([]string, 0, len(res.ByStatusClass))
				for class := range res.ByStatusClass {
					classes = append(classes, class)
				}
				sort.Strings(classes)
				for _, class := range classes {
					details = append(details, fmt.Sprintf("%s=%d", class, res.ByStatusClass[class]))
				}
				if res.Failures > 0 {
					return details, fmt.Errorf("%d requests failed", res.Failures)
				}
				return details, nil
			}
			if !ci {
				_, err := ui.Run("loadgen "+cfg.Profile, fn)
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Duration+time.Minute)
			defer cancel()
			details, err := fn(ctx)
			common.PrintCIResult(err == nil, "loadgen", details, err)
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "gateway base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: public, auth, admin or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "target requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "concurrent workers")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 42, "random seed for request selection")
	cmd.Flags().StringVar(&cfg.AdminKey, "admin-key", "", "admin API key (defaults to ADMIN_API_KEY)")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}
