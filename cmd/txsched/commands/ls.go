package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/solagent/txsched/errors"
	"github.com/solagent/txsched/schedule"
)

// LsCmd lists an owner's scheduled transactions.
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List scheduled transactions",
	Long: `List scheduled transactions for an owner, newest first.

Examples:
  txsched ls --owner user-1
  txsched ls --owner user-1 --status pending
  txsched ls --owner user-1 --limit 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			return errors.New("--owner is required")
		}
		statusFlag, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		database, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		var status *schedule.Status
		if statusFlag != "" {
			st := schedule.Status(statusFlag)
			status = &st
		}

		store := schedule.NewStore(database)
		txns, err := store.ListByOwner(owner, status, limit, 0)
		if err != nil {
			return err
		}

		if len(txns) == 0 {
			pterm.Info.Println("No scheduled transactions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTOOL\tTYPE\tSTATUS\tNEXT\tRUNS\tERROR")
		for _, txn := range txns {
			next := "-"
			if txn.NextExecution != nil {
				next = txn.NextExecution.UTC().Format(time.RFC3339)
			}
			errMsg := ""
			if txn.ErrorMessage != nil {
				errMsg = *txn.ErrorMessage
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
				txn.ID, txn.ToolName, txn.Schedule.Type, txn.Status, next, txn.ExecutionCount, errMsg)
		}
		return w.Flush()
	},
}

func init() {
	LsCmd.Flags().String("owner", "", "Owner whose transactions to list")
	LsCmd.Flags().String("status", "", "Filter by status (pending, executed, failed, cancelled, expired)")
	LsCmd.Flags().Int("limit", 50, "Maximum number of transactions to show")
}
