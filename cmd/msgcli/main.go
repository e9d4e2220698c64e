package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "msgcli",
	Short: "Messenger CLI",
	Long:  "Command-line client for the messenger service.\nManage your account and contacts, send messages, and listen for realtime delivery.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
