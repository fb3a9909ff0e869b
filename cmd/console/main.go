/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"os"
	"strings"

	"github.com/hyperledger/fabric-console/internal/console/localconfig"
	"github.com/hyperledger/fabric-console/internal/console/node"
	"github.com/hyperledger/fabric-console/internal/console/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// The main command describes the service and
// defaults to printing the help message.
var mainCmd = &cobra.Command{Use: "console"}

func bindFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Path to console.yaml; the search path is used when empty")
	viper.BindPFlag(node.ConfigFlag, flags.Lookup("config"))

	flags.String("logging-level", "", "Overrides General.LogSpec")
	viper.BindPFlag(node.LoggingLevelFlag, flags.Lookup("logging-level"))
}

func main() {
	// For environment variables.
	viper.SetEnvPrefix(localconfig.Prefix)
	viper.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	// Define command-line flags that are valid for all console commands and
	// subcommands.
	bindFlags(mainCmd.PersistentFlags())

	mainCmd.AddCommand(version.Cmd())
	mainCmd.AddCommand(node.Cmd())

	// On failure Cobra prints the usage message and error string, so we only
	// need to exit with a non-0 status
	if mainCmd.Execute() != nil {
		os.Exit(1)
	}
}
