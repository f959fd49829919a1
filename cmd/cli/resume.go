package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/doublegate/prort-ip/internal/progress"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <scan-id>",
	Short: "Show the last checkpoint for an interrupted scan",
	Long: `resume loads the most recent checkpoint for scan-id from the
configured state directory and reports its progress. It does not
restart the scan: the scan command never reads a checkpoint back, so
running a scan again probes every (target, port, protocol) tuple from
the start.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringVar(&scanStateDir, "state-dir", defaultStateDir(), "checkpoint directory")
}

func runResume(_ *cobra.Command, args []string) error {
	scanID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid scan id %q: %w", args[0], err)
	}

	cp, err := progress.LoadCheckpoint(scanStateDir, scanID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	fmt.Printf("scan %s: status=%s started=%s last_checkpoint=%s completed=%d/%d open_ports=%d\n",
		cp.ScanID, cp.Status, cp.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		cp.LastCheckpoint.Format("2006-01-02T15:04:05Z07:00"),
		cp.Snapshot.Completed, cp.Snapshot.Total, cp.Snapshot.OpenPorts)
	return nil
}
