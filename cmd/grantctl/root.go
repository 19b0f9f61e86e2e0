package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bitfsorg/libgrant-go/config"
	"github.com/bitfsorg/libgrant-go/logger"
)

const (
	RootCmdLiteral = "grantctl"
	RootCmdExample = `# Create a wallet
grantctl wallet new

# Upload a file readable by one other address for the next hour
grantctl upload report.pdf --grant 0xb0b=1h

# Download it on the other side
grantctl download 0x5e...`
)

var (
	flagConfig            string
	flagDataDir           string
	flagLogLevel          string
	flagSkipEncryption    bool
	flagSkipRemoteStorage bool
)

// env is the loaded environment shared by every subcommand.
var env *app

var rootCmd = &cobra.Command{
	Use:           RootCmdLiteral,
	Short:         "Share confidential files through on-ledger access grants",
	Example:       RootCmdExample,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		env = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if env != nil {
			env.close()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Configuration file (default <data-dir>/config.toml when present)")
	pf.StringVar(&flagDataDir, "data-dir", "", "Data directory (default ~/.grant)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.BoolVar(&flagSkipEncryption, "skip-encryption", false, "Store files without threshold encryption")
	pf.BoolVar(&flagSkipRemoteStorage, "skip-remote-storage", false, "Keep blobs on this machine")

	rootCmd.AddCommand(uploadCmd, downloadCmd, grantCmd, revokeCmd, checkCmd,
		walletCmd, keyserverCmd, localnetCmd)
}

// flagOverrides turns global flags into environment overrides so that
// config validation sees the final values.
func flagOverrides() error {
	set := map[string]string{}
	if flagDataDir != "" {
		set["DATA__DIR"] = flagDataDir
	}
	if flagLogLevel != "" {
		set["LOG__LEVEL"] = flagLogLevel
	}
	if flagSkipEncryption {
		set["TRANSFER_SKIP__ENCRYPTION"] = "true"
	}
	if flagSkipRemoteStorage {
		set["TRANSFER_SKIP__REMOTE__STORAGE"] = "true"
	}
	for k, v := range set {
		if err := os.Setenv(config.EnvPrefix+k, v); err != nil {
			return err
		}
	}
	return nil
}

func loadApp() (*app, error) {
	if err := flagOverrides(); err != nil {
		return nil, err
	}
	path := flagConfig
	if path == "" {
		dir := flagDataDir
		if dir == "" {
			dir = config.DefaultDataDir()
		}
		candidate := config.ConfigPath(dir)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg, err := config.ReadConfig(path)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	log.Debug("configuration loaded", zap.String("path", path), zap.String("data_dir", cfg.DataDir))
	return &app{cfg: cfg, logger: log}, nil
}
