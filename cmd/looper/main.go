package main

import (
	"context"
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"github.com/JeanRibes/looper/config"
)

var flags struct {
	config   string
	input    string
	output   string
	serial   string
	baud     int
	measures int
	channel  int
	oscHost  string
	oscPort  int
	dump     string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "looper",
	Short: "MIDI looper driven by the keyboard clock",
	Long: `looper records what is played on the source channel, one sequence every
few measures of the incoming MIDI clock, and replays every finished sequence on
its own channel at each sequence boundary.

The Vocal Harmony button toggles recording.`,
	SilenceUsage: true,
	RunE:         runLooper,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the ports and start looping (default)",
	RunE:  runLooper,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI and serial ports",
	RunE:  listPorts,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", config.DefaultFile, "YAML configuration file (missing file means defaults)")
	pf.StringVarP(&flags.logLevel, "log-level", "l", "", "debug, info, warn or error")

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		f := c.Flags()
		f.StringVarP(&flags.input, "input", "i", "", "MIDI input port name")
		f.StringVarP(&flags.output, "output", "o", "", "MIDI output port name")
		f.StringVar(&flags.serial, "serial", "", "serial device used for both input and output, e.g. /dev/ttyUSB0")
		f.IntVar(&flags.baud, "baud", 0, "serial baud rate")
		f.IntVarP(&flags.measures, "measures", "m", 0, "measures per sequence")
		f.IntVar(&flags.channel, "channel", 0, "source channel (0-15)")
		f.StringVar(&flags.oscHost, "osc-host", "", "send event notifications to this OSC host")
		f.IntVar(&flags.oscPort, "osc-port", 0, "OSC port")
		f.StringVarP(&flags.dump, "dump", "d", "", "write the session as JSON to this file on exit")
	}
	rootCmd.AddCommand(runCmd, portsCmd)
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	midi.CloseDriver()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the file then applies the flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return cfg, err
	}
	f := cmd.Flags()
	if f.Changed("input") {
		cfg.Input.Name = flags.input
	}
	if f.Changed("output") {
		cfg.Output.Name = flags.output
	}
	if f.Changed("serial") {
		cfg.Input.Serial = flags.serial
		cfg.Output.Serial = flags.serial
	}
	if f.Changed("baud") {
		cfg.Input.Baud = flags.baud
		cfg.Output.Baud = flags.baud
	}
	if f.Changed("measures") {
		cfg.Session.MeasuresPerSequence = flags.measures
	}
	if f.Changed("channel") {
		cfg.Session.SourceChannel = flags.channel
	}
	if f.Changed("osc-host") {
		cfg.OSC.Host = flags.oscHost
	}
	if f.Changed("osc-port") {
		cfg.OSC.Port = flags.oscPort
	}
	if f.Changed("dump") {
		cfg.Dump = flags.dump
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*charmlog.Logger, error) {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	}), nil
}
