package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielscholl/claude-sdlc/internal/health"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check prerequisites for running watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			report := health.NewChecker().Report(ctx)
			fmt.Print(health.Summary(report))
			if !report.Healthy {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
}
