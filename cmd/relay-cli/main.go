// relay CLI — инструмент командной строки для операторов: просмотр живых
// сессий и состояния провайдеров через HTTP API relay-api.
//
// Использование:
//
//	relay [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	session  Просмотр живых сессий
//	health   Состояние провайдеров и активных worktree
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relayforge/relay/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "relay operator CLI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "relay-api URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewSessionCmd(clientFn, outputFn),
		cli.NewHealthCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
