package main

import (
	"os"

	"github.com/spf13/cobra"

	"datagrid-backend/internal/config"
	"datagrid-backend/internal/logger"

	_ "time/tzdata"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "datagrid",
	Short:         "Metadata-driven data tables with filtering and bulk upload",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to app.yaml")
	rootCmd.AddCommand(serveCmd, checkCmd, templateCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
