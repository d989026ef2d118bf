// Command rpcd is an example server binary: it listens for peers,
// serves the demo handler set, and logs activity with rlog. Built the
// way phenix's own CLI is (cobra root command, viper-bound flags/env).
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ronrpc/ronrpc/internal/handlers"
	"github.com/ronrpc/ronrpc/pkg/acceptor"
	"github.com/ronrpc/ronrpc/pkg/rlog"
	"github.com/ronrpc/ronrpc/pkg/rpc"
)

var rootCmd = &cobra.Command{
	Use:   "rpcd",
	Short: "example server for the bidirectional RPC protocol",
	RunE:  runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("listen", ":7070", "address to listen on")
	rootCmd.PersistentFlags().Bool("encrypt", false, "require the RSA/Fernet handshake")
	rootCmd.PersistentFlags().Int("worker-pool-size", 0, "bound concurrent inbound-call workers (0 = unbounded)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn, error")

	viper.BindPFlags(rootCmd.PersistentFlags())
	viper.SetEnvPrefix("RPCD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	viper.SetConfigName("rpcd")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/ronrpc")
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	level, err := rlog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	rlog.SetLevel("stderr", level)

	cfg := rpc.NewConfig(
		rpc.WithEncryption(viper.GetBool("encrypt")),
		rpc.WithWorkerPoolSize(viper.GetInt("worker-pool-size")),
		rpc.WithCallTimeout(30*time.Second),
	)

	registry := rpc.NewRegistry()
	handlers.Register(registry)

	a, err := acceptor.Listen(viper.GetString("listen"), cfg, registry)
	if err != nil {
		return err
	}
	defer a.Close()

	rlog.Info("rpcd: listening on %v", a.Addr())
	return a.Serve()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
