package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harshakreox/ghostqa/pkg/client"
)

var rootCmd = &cobra.Command{
	Use:   "ghostqa-ctl",
	Short: "GhostQA orchestrator CLI",
	Long: `ghostqa-ctl drives a running GhostQA orchestrator over its REST API.
- start / stop: lifecycle; stop drains, --hard abandons in-flight runs.
- queue: file feature or project runs, or list what is pending.
- regression / discovery: trigger a sweep or a scan now.
- config: read the live config or apply a YAML patch.
- history: recent execution records.
- events: tail the live event stream.
- catalog: seed the Feature/Project Store directly.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GHOSTQA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "orchestrator base URL")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Duration("timeout", 60*time.Second, "request timeout")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func newClient() *client.Client {
	c := client.New(viper.GetString("server"))
	c.Timeout = viper.GetDuration("timeout")
	return c
}
