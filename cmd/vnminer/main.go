package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vnminer/agent/internal/audio"
	"github.com/vnminer/agent/internal/config"
	"github.com/vnminer/agent/internal/logging"
	"github.com/vnminer/agent/internal/video"
)

var (
	version  = "0.1.0"
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "vnminer",
	Short: "Sentence mining companion for visual novels",
	Long: `vnminer keeps the last minutes of game audio in memory, captures a slot
for every line the text hook reports and attaches the line's audio and a
screenshot to your newest Anki card.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start buffering and open the console",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMiner()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices()
	},
}

var windowsCmd = &cobra.Command{
	Use:   "windows [filter]",
	Short: "List running applications that can be used as the target window",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}
		return listWindows(filter)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			fmt.Println(cfgFile)
			return
		}
		fmt.Println(config.DefaultPath())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vnminer v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(windowsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the config. Clamped values are logged;
// fatal problems abort the command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		logging.L("config").Warn("config value adjusted", logging.KeyError, w)
	}
	if result.HasFatals() {
		msgs := make([]string, 0, len(result.Fatals))
		for _, f := range result.Fatals {
			msgs = append(msgs, f.Error())
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return cfg, nil
}

func listDevices() error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	capturer := audio.NewCapturer()
	defer capturer.Close()

	devices, err := capturer.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No capture devices found.")
		return nil
	}
	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		fmt.Printf("%s %-40s %d ch  %.0f Hz  id=%q\n", mark, d.DisplayName(), d.Channels, d.SampleRate, d.ID)
	}
	return nil
}

func listWindows(filter string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	targets, err := video.ListTargets(video.SystemProcesses(), filter)
	if err != nil {
		return err
	}
	for _, t := range targets {
		fmt.Printf("%-32s %s\n", t.DisplayName(), t.Exe)
	}
	return nil
}
