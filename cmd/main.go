package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sir-Unknown/cityvisitorparking/internal/config"
	"github.com/sir-Unknown/cityvisitorparking/internal/livecheck"
	"github.com/sir-Unknown/cityvisitorparking/internal/setup"
	"github.com/sir-Unknown/cityvisitorparking/pkg/client"
	"github.com/sir-Unknown/cityvisitorparking/pkg/provider"
)

var rootParams struct {
	ConfigPath string
}

var checkParams struct {
	Username string
	Password string
	Extra    []string
	Filter   string
	Dump     bool
}

func init() {
	rootCmd.
		PersistentFlags().
		StringVarP(
			&rootParams.ConfigPath,
			"config",
			"c",
			"config/config.yaml",
			"path to config file",
		)

	checkCmd.Flags().StringVar(&checkParams.Username, "username", "", "account username (falls back to USERNAME)")
	checkCmd.Flags().StringVar(&checkParams.Password, "password", "", "account password (falls back to PASSWORD)")
	checkCmd.Flags().StringArrayVar(&checkParams.Extra, "extra", nil, "extra credential as KEY=VALUE, repeatable")
	checkCmd.Flags().StringVar(&checkParams.Filter, "filter", "", "expression to filter reservations and favorites")
	checkCmd.Flags().BoolVar(&checkParams.Dump, "dump", false, "dump sanitized account data as JSON")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(defaultConfigGenCmd)
}

var rootCmd = &cobra.Command{
	Use:   "parkctl",
	Short: "City visitor parking client entrypoint",
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Log in to the configured provider and report account state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		creds, err := buildCredentials()
		if err != nil {
			return err
		}

		var components setup.Components
		app, err := setup.Setup(rootParams.ConfigPath, &components)
		if err != nil {
			return fmt.Errorf("setup application: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
		defer cancel()
		if err := app.Start(startCtx); err != nil {
			return fmt.Errorf("start application: %w", err)
		}

		runErr := components.Runner.Run(ctx, livecheck.Params{
			Credentials: creds,
			Filter:      checkParams.Filter,
			Dump:        checkParams.Dump,
		})

		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		if err := app.Stop(stopCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("stop application: %w", err)
		}

		return runErr
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List known providers and their capabilities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := client.New()
		if err != nil {
			return fmt.Errorf("build client: %w", err)
		}
		defer c.Close()

		infos, err := c.ListProviders(cmd.Context())
		if err != nil {
			return fmt.Errorf("list providers: %w", err)
		}

		for _, info := range infos {
			fmt.Printf("%s\t%s\tfavorites=%s\treservations=%s\n",
				info.ID,
				info.Name,
				formatFields(info.FavoriteUpdateFields),
				formatFields(info.ReservationUpdateFields),
			)
		}
		return nil
	},
}

var defaultConfigGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return config.GenerateDefaultConfig(rootParams.ConfigPath)
	},
}

func buildCredentials() (provider.Credentials, error) {
	username := checkParams.Username
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	password := checkParams.Password
	if password == "" {
		password = os.Getenv("PASSWORD")
	}

	creds := provider.Credentials{
		provider.CredentialUsername: username,
		provider.CredentialPassword: password,
	}
	for _, pair := range checkParams.Extra {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --extra value %q, expected KEY=VALUE", pair)
		}
		creds[key] = value
	}
	return creds, nil
}

func formatFields(fields []string) string {
	if len(fields) == 0 {
		return "-"
	}
	return strings.Join(fields, ",")
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatalf("execute command: %s", err.Error())
	}
}
