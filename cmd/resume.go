package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/deconvolve/internal/server"
	"github.com/cwbudde/deconvolve/internal/store"
)

var resumeDataDir string

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a checkpointed job",
	Long: `Loads the checkpoint of a previous job and continues the deconvolution
from its best solution, updating the checkpoint as it progresses.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewFSStore(resumeDataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		return server.ResumeJob(cmd.Context(), st, resumeDataDir, args[0])
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	rootCmd.AddCommand(resumeCmd)
}
