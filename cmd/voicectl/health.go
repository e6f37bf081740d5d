package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"highwayhub/voice/internal/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe a voice server's gRPC health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), settings.GetDuration("timeout"))
		defer cancel()

		st := health.CheckAll(ctx, health.GRPC(settings.GetString("grpc")))
		fmt.Print(st.String())
		if !st.OK {
			return fmt.Errorf("server not serving")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().String("grpc", "localhost:9090", "gRPC health address of the voice server")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "probe timeout")
	_ = settings.BindPFlag("grpc", healthCmd.Flags().Lookup("grpc"))
	_ = settings.BindPFlag("timeout", healthCmd.Flags().Lookup("timeout"))
}
