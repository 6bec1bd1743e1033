package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var newThreadDataSource string

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage chat threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, t := range app.manager.Threads() {
			created := time.Unix(t.CreatedAt, 0).Format("2006-01-02 15:04")
			fmt.Printf("%-22s %-30s %s  %d messages\n", t.ID, t.Title, created, len(t.Messages))
		}
		return nil
	},
}

var threadsNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a thread",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := ""
		if len(args) > 0 {
			title = args[0]
		}
		t, err := app.manager.NewThread(cmd.Context(), newThreadDataSource, title)
		if err != nil {
			return err
		}
		fmt.Println(t.ID)
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a thread and its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.manager.DeleteThread(cmd.Context(), args[0])
	},
}

func init() {
	threadsNewCmd.Flags().StringVar(&newThreadDataSource, "data-source", "", "Data source id for the new thread")
	threadsCmd.AddCommand(threadsListCmd, threadsNewCmd, threadsDeleteCmd)
	rootCmd.AddCommand(threadsCmd)
}
