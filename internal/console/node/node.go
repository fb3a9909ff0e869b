/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"fmt"
	"os"

	"github.com/hyperledger/fabric-console/internal/console/localconfig"
	"github.com/hyperledger/fabric-console/internal/console/server"
	"github.com/hyperledger/fabric-console/internal/console/version"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/sigmon"
	"gopkg.in/yaml.v2"
)

const (
	// ConfigFlag names the viper key holding an explicit config file.
	ConfigFlag = "config"
	// LoggingLevelFlag names the viper key overriding General.LogSpec.
	LoggingLevelFlag = "logging_level"
)

var logger = flogging.MustGetLogger("console.node")

// Cmd returns the cobra command for starting the console.
func Cmd() *cobra.Command {
	return nodeStartCmd
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the console.",
	Long:  `Starts a console serving the signature collection API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("trailing args detected")
		}
		// Parsing of the command line is done so silence cmd usage
		cmd.SilenceUsage = true
		return serve()
	},
}

func loadConfig() (*localconfig.TopLevel, error) {
	if file := viper.GetString(ConfigFlag); file != "" {
		return localconfig.LoadFile(file)
	}
	return localconfig.Load()
}

func serve() error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	logSpec := conf.General.LogSpec
	if override := viper.GetString(LoggingLevelFlag); override != "" {
		logSpec = override
	}
	flogging.Init(flogging.Config{
		Format:  conf.General.LogFormat,
		Writer:  os.Stderr,
		LogSpec: logSpec,
	})

	logger.Infof("Starting %s", version.GetInfo())
	if settings, err := yaml.Marshal(conf); err == nil {
		logger.Debugf("Console config:\n%s", settings)
	}

	c, err := server.New(conf)
	if err != nil {
		return err
	}

	process := ifrit.Invoke(sigmon.New(c))
	logger.Info("Console started")
	return <-process.Wait()
}
