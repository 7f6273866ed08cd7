package command

// root.go defines the root command of runctl and its global flags.

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"runserver/cmd/cli/command/client"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "runserver"

// NewRootCmd builds the command tree. Every call gets its own viper so
// tests can run commands side by side.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "runctl",
		Short: "runctl - command line client for the record server",
		Long: `runctl talks to the record server over its newline-delimited JSON
protocol. One-shot commands open a connection, send a single request and
print the response. Use "runctl shell" to keep one connection (and its
login) open across many requests.

Flags can also be set through RUNSERVER_* environment variables or a .env
file, e.g. RUNSERVER_ADDR=10.0.0.5:7775.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}

	rootCmd.PersistentFlags().String("addr", "127.0.0.1:7775", "server address (host:port)")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "dial and response timeout")
	rootCmd.PersistentFlags().Bool("raw", false, "print the response as compact JSON")

	initClientConfig(v)

	rootCmd.AddCommand(
		newLoginCmd(v),
		newStatusCmd(v),
		newEchoCmd(v),
		newSearchCmd(v),
		newSaveCmd(v),
		newListCmd(v),
		newShellCmd(v),
		newHashPasswordCmd(),
	)
	return rootCmd
}

// Execute runs the CLI. This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

// initClientConfig reads .env files and maps RUNSERVER_* variables onto flags
func initClientConfig(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// connect opens a client using the bound addr and timeout settings
func connect(ctx context.Context, v *viper.Viper) (*client.TCPClient, error) {
	c := client.NewTCPClient(v.GetString("addr"), v.GetDuration("timeout"))
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
