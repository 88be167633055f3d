package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:     "crewmesh",
		Short:   "CrewMesh task routing and agent coordination",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "CrewMesh server URL")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newAgentCommand())
	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newOutcomeCommand())
	rootCmd.AddCommand(newImprovementsCommand())
	rootCmd.AddCommand(newMessagesCommand())
	rootCmd.AddCommand(newAuditCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("CREWMESH_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8087"
}
