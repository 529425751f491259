package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "deskbot",
		Short: "Telegram support desk bot",
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the ticket pipeline, and the ops server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
