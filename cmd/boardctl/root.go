package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kanban-api/client"
)

const defaultServer = "http://localhost:8000"

type app struct {
	v      *viper.Viper
	client *client.Client
	store  *client.Store
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "boardctl",
		Short: "Manage a kanban board from the terminal",
		Long: `boardctl talks to a kanban board server.

The server URL is taken from --server, then BOARDCTL_SERVER, then the
"server" key in ~/.boardctl.yaml.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().String("server", defaultServer, "board server URL")
	root.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().String("config", "", "config file (default ~/.boardctl.yaml)")
	_ = a.v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	root.PersistentFlags().Bool("debug", false, "log requests to stderr")
	_ = a.v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))
	_ = a.v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(
		a.listCmd(),
		a.addCmd(),
		a.showCmd(),
		a.moveCmd(),
		a.reorderCmd(),
		a.rmCmd(),
		a.analyzeCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("BOARDCTL")
	a.v.AutomaticEnv()
	a.v.SetDefault("server", defaultServer)
	a.v.SetDefault("timeout", 30*time.Second)

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".boardctl.yaml")
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			a.v.SetConfigFile(path)
			a.v.SetConfigType("yaml")
			if err := a.v.ReadInConfig(); err != nil {
				return err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	a.client = client.New(a.v.GetString("server"), a.v.GetDuration("timeout"))
	logger := log.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(log.ErrorLevel)
	if a.v.GetBool("debug") {
		logger.SetLevel(log.DebugLevel)
	}
	a.store = client.NewStore(a.client, client.WithStoreLogger(logger))
	return nil
}
