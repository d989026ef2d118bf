// Command rpcc is an example client binary: it connects to an rpcd
// peer and invokes one of the demo handlers, printing the result.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ronrpc/ronrpc/pkg/connector"
	"github.com/ronrpc/ronrpc/pkg/rlog"
	"github.com/ronrpc/ronrpc/pkg/rpc"
	"github.com/ronrpc/ronrpc/pkg/wire"
)

var rootCmd = &cobra.Command{
	Use:   "rpcc addr function [args...]",
	Short: "example client for the bidirectional RPC protocol",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCall,
}

func init() {
	rootCmd.PersistentFlags().Bool("encrypt", false, "require the RSA/Fernet handshake")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "call timeout")
	rootCmd.PersistentFlags().String("log-level", "warn", "debug, info, warn, error")
	viper.BindPFlags(rootCmd.PersistentFlags())
	viper.SetEnvPrefix("RPCC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runCall(cmd *cobra.Command, args []string) error {
	level, err := rlog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	rlog.SetLevel("stderr", level)

	addr, name, rest := args[0], args[1], args[2:]

	cfg := rpc.NewConfig(
		rpc.WithEncryption(viper.GetBool("encrypt")),
		rpc.WithCallTimeout(viper.GetDuration("timeout")),
	)

	conn := connector.New(addr, cfg, rpc.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
	defer cancel()

	if err := conn.Connect(ctx, viper.GetDuration("timeout")); err != nil {
		return err
	}
	defer conn.Close()

	values := make([]wire.Value, 0, len(rest))
	for _, a := range rest {
		values = append(values, parseArg(a))
	}

	result, err := conn.Call(ctx, name, values, nil)
	if err != nil {
		return err
	}

	if result.FilePath != "" {
		fmt.Println("file:", result.FilePath)
		return nil
	}
	fmt.Println(formatValue(result.Value))
	return nil
}

// parseArg turns a bare CLI argument into the narrowest Value it looks
// like: an int if it parses as one, else a float, otherwise a string. There is no
// syntax on the command line for the richer kinds (list/map/bytes);
// those are exercised through internal/handlers' own tests instead.
func parseArg(s string) wire.Value {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return wire.Int(int32(n))
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return wire.Float(f)
	}
	return wire.String(s)
}

func formatValue(v wire.Value) string {
	switch v.Tag {
	case wire.TagInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case wire.TagFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case wire.TagString:
		return v.Str
	case wire.TagBool:
		return strconv.FormatBool(v.Bool)
	case wire.TagNull:
		return "null"
	default:
		return fmt.Sprintf("%+v", v)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
