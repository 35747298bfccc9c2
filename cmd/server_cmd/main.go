package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/tokex-io/bridge-go/cmd"
	"github.com/tokex-io/bridge-go/config"
	"github.com/tokex-io/bridge-go/logconfig"
)

const ENV_CONFIG_FILE_PATH = "BRIDGE_CONFIG"

func main() {
	viper.AutomaticEnv()

	configFile := viper.GetString(ENV_CONFIG_FILE_PATH)
	if configFile == "" {
		fmt.Printf("set %s to the configuration file path\n", ENV_CONFIG_FILE_PATH)
		os.Exit(1)
	}

	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("error reading configuration file %s: %s\n", configFile, err)
		os.Exit(1)
	}

	cfg, err := config.FromViper()
	if err != nil {
		fmt.Printf("bad configuration: %s\n", err)
		os.Exit(1)
	}

	if cfg.LogFile != "" {
		logconfig.ConfigProductionLogger(cfg.LogFile)
	} else {
		logconfig.ConfigInfoLogger()
	}

	fmt.Println("starting bridge server... press Ctrl+C to stop")
	cmd.StartBridgeServerAndWait(cfg)
}
