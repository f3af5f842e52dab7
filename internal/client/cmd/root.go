package cmd

import (
	"github.com/spf13/cobra"
)

func NewRootCmd(version, buildDate string) *cobra.Command {
	var serverURL string
	root := &cobra.Command{
		Use:   "lastword",
		Short: "lastword dead man's switch CLI",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server base URL")

	root.AddCommand(newVersionCmd(version, buildDate))
	root.AddCommand(newAuthCmd(&serverURL))
	root.AddCommand(newSecretsCmd(&serverURL))
	root.AddCommand(newCheckInCmd(&serverURL))
	root.AddCommand(newSweepCmd(&serverURL))
	return root
}
