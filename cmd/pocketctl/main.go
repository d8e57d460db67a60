package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kislikjeka/pocketflow/internal/app"
	"github.com/kislikjeka/pocketflow/pkg/config"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "pocketctl",
		Short: "Operator commands for the pocketflow ledger",
		Long: `pocketctl manages pockets, provider mappings, webhooks and replays
for a pocketflow deployment. It reads the same configuration as the API
server (environment variables, optionally a config file).`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, env keys as field names)")
	rootCmd.PersistentFlags().String("profile", "", "budget profile to act on")
	rootCmd.PersistentFlags().String("store", "", "storage backend (postgres, sqlite)")

	_ = viper.BindPFlag("STORE", rootCmd.PersistentFlags().Lookup("store"))

	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(credentialsCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(pocketCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(webhooksCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(verifyCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	return nil
}

// loadConfig reads configuration through viper so flags bound above win
func loadConfig() (*config.Config, error) {
	return config.LoadFrom(viper.GetViper())
}

// withApp wires the services, runs fn and releases them
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Keep stdout for command output
	log := logger.New(cfg.Env, os.Stderr)

	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func requireProfile(cmd *cobra.Command) (string, error) {
	profile, _ := cmd.Flags().GetString("profile")
	if profile == "" {
		return "", fmt.Errorf("--profile is required")
	}
	return profile, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
