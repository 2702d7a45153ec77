package commands

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/solagent/txsched/errors"
	"github.com/solagent/txsched/schedule"
)

// CancelCmd cancels a pending scheduled transaction.
var CancelCmd = &cobra.Command{
	Use:   "cancel <transaction-id>",
	Short: "Cancel a pending scheduled transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			return errors.New("--owner is required")
		}

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Newf("invalid transaction id: %s", args[0])
		}

		database, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		store := schedule.NewStore(database)
		changed, err := store.Cancel(id, owner)
		if err != nil {
			return err
		}
		if !changed {
			txn, err := store.Get(id)
			if err != nil || txn.OwnerID != owner {
				return errors.NewNotFoundError("scheduled transaction not found: %d", id)
			}
			return errors.Newf("transaction is %s, only pending transactions can be cancelled", txn.Status)
		}

		pterm.Success.Printf("Cancelled transaction %d\n", id)
		return nil
	},
}

func init() {
	CancelCmd.Flags().String("owner", "", "Owner of the transaction")
}
