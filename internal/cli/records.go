package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/your-org/absens/internal/auth"
	"github.com/your-org/absens/internal/lifecycle"
	"github.com/your-org/absens/internal/models"
)

func RecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage missing-person and sighting records",
	}
	cmd.AddCommand(recordsTransitionCmd())
	return cmd
}

func recordsTransitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition [kind] [record-id] [status]",
		Short: "Move a record to a new status as an administrator",
		Long: `Move a record through the status graph with administrator rights.
The graph is still enforced: terminal statuses cannot be left.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseKind(args[0])
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[1])
			}
			status, err := models.ParseStatus(args[2])
			if err != nil {
				return err
			}
			operator, _ := cmd.Flags().GetString("as")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer b.close()

			var events lifecycle.EventPublisher
			if b.producer != nil {
				events = b.producer
			}
			mgr := lifecycle.NewManager(b.store, events, nil)

			rec, err := mgr.Transition(cmd.Context(), auth.Identity{UserID: operator, Role: auth.RoleAdmin}, kind, id, status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s is now %s\n",
				color.New(color.FgGreen).Sprint("✓"), rec.Kind, rec.ID, rec.CurrentStatus())
			return nil
		},
	}
	cmd.Flags().String("as", "absensctl", "operator id recorded in the audit log")
	return cmd
}
