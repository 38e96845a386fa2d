package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smartspin2k/ss2k-flasher/embedded"
	"github.com/smartspin2k/ss2k-flasher/internal/config"
	"github.com/smartspin2k/ss2k-flasher/internal/detect"
	"github.com/smartspin2k/ss2k-flasher/internal/flasher"
	"github.com/smartspin2k/ss2k-flasher/internal/image"
	"github.com/smartspin2k/ss2k-flasher/internal/layout"
	"github.com/smartspin2k/ss2k-flasher/internal/monitor"
	"github.com/smartspin2k/ss2k-flasher/internal/orchestrator"
	"github.com/smartspin2k/ss2k-flasher/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag     string
	verboseFlag    bool
	portFlag       string
	uploadBaudFlag int
	logBaudFlag    int
	showLogsFlag   bool
	bootloaderFlag string
	partitionsFlag string
	otadataFlag    string
	filesystemFlag string
	interfaceFlag  string
	udpPortFlag    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ss2k-flasher",
		Short: "Flash SmartSpin2k firmware to ESP32 devices",
		Long: `SmartSpin2k Flasher writes a complete SmartSpin2k image to an ESP32:
bootloader, partition table, OTA data, firmware and filesystem.

Only the firmware has to be provided. Everything else is downloaded from
the published SmartSpin2k releases unless overridden.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Print diagnostic logs to stderr")

	defaults := config.Default()

	// Flash command
	flashCmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Flash firmware to device",
		Long: `Flash SmartSpin2k to an ESP32 device.

The following regions are written:
  - Bootloader at 0x1000 (matching the firmware's flash mode and frequency)
  - Partition table at 0x8000
  - OTA data at 0xE000
  - Firmware at 0x10000 (your file, a path or an http(s) URL)
  - Filesystem at 0x3D0000

If the device does not support the upload baud rate, flashing continues at 115200.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	flashCmd.Flags().IntVar(&uploadBaudFlag, "upload-baud-rate", defaults.UploadBaud, "Baud rate to upload with")
	flashCmd.Flags().StringVar(&bootloaderFlag, "bootloader", defaults.Bootloader, "Bootloader to flash, may contain $FLASH_MODE$ and $FLASH_FREQ$")
	flashCmd.Flags().StringVar(&partitionsFlag, "partitions", defaults.Partitions, "Partition table to flash")
	flashCmd.Flags().StringVar(&otadataFlag, "otadata", defaults.OTAData, "OTA data to flash")
	flashCmd.Flags().StringVar(&filesystemFlag, "filesystem", defaults.Filesystem, "Filesystem image to flash")
	flashCmd.Flags().BoolVar(&showLogsFlag, "show-logs", false, "Flash, then show the device's serial logs (use the logs command to only show logs)")
	flashCmd.Flags().IntVar(&logBaudFlag, "log-baud-rate", defaults.LogBaud, "Baud rate to show logs with")

	// Logs command
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the device's serial logs",
		RunE:  runLogs,
	}
	logsCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	logsCmd.Flags().IntVarP(&logBaudFlag, "baud", "b", defaults.LogBaud, "Baud rate")

	// UDP logs command
	udpLogsCmd := &cobra.Command{
		Use:   "udp-logs",
		Short: "Show the logs a device sends over WiFi",
		Long: `Listen for the UDP log datagrams a SmartSpin2k sends on the local network.

Type the number or name of another interface and press enter to switch.`,
		RunE: runUDPLogs,
	}
	udpLogsCmd.Flags().StringVar(&interfaceFlag, "interface", "", "Network interface name or IP (prompt if not specified)")
	udpLogsCmd.Flags().IntVar(&udpPortFlag, "udp-port", defaults.UDPPort, "UDP port to listen on")

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Connect to an ESP32 and show its chip details and flash size.",
		RunE:  runInfo,
	}
	infoCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ss2k-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print an example configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			os.Stdout.Write(embedded.ExampleConfig())
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(flashCmd, logsCmd, udpLogsCmd, infoCmd, configCmd, versionCmd, listCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage is what the user sees for a failed command.
func errorMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "Aborted."
	}

	return err.Error()
}

func newLogger() zerolog.Logger {
	if !verboseFlag {
		return zerolog.Nop()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger().
		Level(zerolog.DebugLevel)
}

// loadConfig applies the configuration file and then every flag the user set
// explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()

	overrides := []struct {
		name  string
		apply func()
	}{
		{"upload-baud-rate", func() { cfg.UploadBaud = uploadBaudFlag }},
		{"log-baud-rate", func() { cfg.LogBaud = logBaudFlag }},
		{"baud", func() { cfg.LogBaud = logBaudFlag }},
		{"bootloader", func() { cfg.Bootloader = bootloaderFlag }},
		{"partitions", func() { cfg.Partitions = partitionsFlag }},
		{"otadata", func() { cfg.OTAData = otadataFlag }},
		{"filesystem", func() { cfg.Filesystem = filesystemFlag }},
		{"udp-port", func() { cfg.UDPPort = udpPortFlag }},
	}

	for _, o := range overrides {
		if flags.Lookup(o.name) != nil && flags.Changed(o.name) {
			o.apply()
		}
	}

	return cfg, cfg.Validate()
}

func newOrchestrator(cfg config.Config, log zerolog.Logger) *orchestrator.Orchestrator {
	resolver := image.NewResolver(cfg.HTTPTimeout, log)

	return &orchestrator.Orchestrator{
		Connector: flasher.NewConnector(cfg.StubRef(), resolver, log),
		Ports:     detect.System{},
		Planner: &layout.Planner{
			Resolver: resolver,
			Sources:  cfg.Sources(),
			Log:      log,
		},
		Sink: orchestrator.WriterSink{W: os.Stdout},
		Log:  log,
	}
}

func runFlash(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := newLogger()

	bar := &progress{}
	defer bar.finish()

	res, err := newOrchestrator(cfg, log).Flash(cmd.Context(), orchestrator.Options{
		Port:       portFlag,
		Firmware:   image.Parse(args[0]),
		UploadBaud: cfg.UploadBaud,
		Progress:   bar.report,
	})
	if err != nil {
		return err
	}

	if !showLogsFlag {
		return nil
	}

	return showLogs(cmd.Context(), res.Port, cfg.LogBaud, log)
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	_, err = newOrchestrator(cfg, newLogger()).Info(cmd.Context(), portFlag)

	return err
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sel, err := detect.Select(portFlag, detect.System{})
	if err != nil {
		return err
	}

	return showLogs(cmd.Context(), sel.Port, cfg.LogBaud, newLogger())
}

func showLogs(ctx context.Context, portName string, baud int, log zerolog.Logger) error {
	port, err := serial.Open(portName, baud)
	if err != nil {
		return err
	}
	defer port.Close()

	m := &monitor.Monitor{Out: os.Stdout, Log: log}

	if err := m.Run(ctx, port); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s (%s)\n", p.Name, p.Description)
	}

	return nil
}
