// omxconf - OpenMAX IL conformance harness
//
// Drives an IL component through its state machine, port commands and
// buffer exchange and reports a PASS/FAIL verdict per test:
// - state transitions and refused transitions
// - buffer allocation, flush, port enable/disable
// - tunneling and buffer marks
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/krisarmstrong/omxconf/pkg/config"
	"github.com/krisarmstrong/omxconf/pkg/harness"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/scenario"
	"github.com/krisarmstrong/omxconf/pkg/tui"
	"github.com/krisarmstrong/omxconf/pkg/web"
)

var (
	version     = "1.0.0"
	cfgFile     string
	component   string
	coreLibrary string
	tests       []string
	buffers     int
	allocMode   string
	queueOrder  string
	trace       string
	logFile     string
	logFormat   string
	metabolism  string
	inputs      map[string]string
	outputs     map[string]string
	useTracer   bool
	webAddr     string
	useTUI      bool
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "omxconf",
		Short: "omxconf - OpenMAX IL conformance harness",
		Long: `omxconf v1

Conformance tests for OpenMAX IL components:
  - State transitions, including the ones a component must refuse
  - Buffer allocation and accounting, flush, port enable/disable
  - Tunneling against the in-process test component
  - Buffer marks and metabolism-driven buffer exchange

Examples:
  # Run every test against the in-process tunnel test component
  omxconf

  # Run two tests against a component from a native IL core
  omxconf -l /usr/lib/libomxil-bellagio.so.0 -C OMX.st.audio_decoder.mp3 -t BufferTest -t FlushTest

  # Feed port 0 from a file and keep port 1's output
  omxconf --input 0=in.bin --output 1=out.bin -t BufferTest

  # Run with the terminal UI
  omxconf --tui

  # Run with the Web UI
  omxconf --web :8080

  # Use config file
  omxconf -c omxconf.yaml`,
		Run: runMain,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (YAML)")
	flags.StringVarP(&component, "component", "C", "", "Component under test")
	flags.StringVarP(&coreLibrary, "core", "l", "", "IL core library (default: in-process test core)")
	flags.BoolVar(&useTracer, "tracer", false, "Trace every IL call the harness makes")
	flags.StringVar(&trace, "trace", "", "Trace flags: names (passfail,callsequence,...), all, none or a hex mask")
	flags.StringVar(&logFile, "log-file", "", "Mirror log records to a file")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text, json")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.Flags().StringSliceVarP(&tests, "test", "t", nil, "Test to run (repeatable, default: all)")
	rootCmd.Flags().IntVarP(&buffers, "buffers", "b", 0, "Buffers per port in pumping tests")
	rootCmd.Flags().StringVar(&allocMode, "alloc-mode", "", "Buffer memory: allocate, use")
	rootCmd.Flags().StringVar(&queueOrder, "queue-order", "", "Free buffer order: fifo, lifo")
	rootCmd.Flags().StringVar(&metabolism, "metabolism", "", "Metabolism file for MetabolismTest")
	rootCmd.Flags().StringToStringVar(&inputs, "input", nil, "Map an input file to a port (port=file)")
	rootCmd.Flags().StringToStringVar(&outputs, "output", nil, "Map an output file to a port (port=file)")
	rootCmd.Flags().StringVar(&webAddr, "web", "", "Enable Web UI on address (e.g., :8080)")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Enable terminal UI")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("omxconf v%s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list-tests",
		Short: "List the registered conformance tests",
		Run: func(cmd *cobra.Command, args []string) {
			for _, s := range scenario.All() {
				fmt.Printf("%-24s %s\n", s.Name, s.Description)
			}
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list-components",
		Short: "List the components the IL core offers",
		Run: func(cmd *cobra.Command, args []string) {
			rc := harness.New(loadConfig(cmd))
			names, err := rc.ComponentNames()
			if err != nil {
				log.Fatalf("List components: %v", err)
			}
			for _, n := range names {
				fmt.Println(n)
			}
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Interactive command prompt (h for help)",
		Run: func(cmd *cobra.Command, args []string) {
			rc := harness.New(loadConfig(cmd))
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := harness.NewShell(rc, os.Stdout).Run(ctx, os.Stdin); err != nil {
				log.Fatalf("Shell: %v", err)
			}
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate-config [file]",
		Short: "Check a config file and print the effective settings",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(args[0])
			if err != nil {
				log.Fatalf("Invalid config: %v", err)
			}
			fmt.Printf("%s: ok (%d tests, component %s)\n", args[0], len(cfg.SelectedTests()), cfg.Component)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the flags that were set.
// Exits on invalid settings.
func loadConfig(cmd *cobra.Command) *config.Config {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Override with CLI flags
	changed := cmd.Flags().Changed
	if component != "" {
		cfg.Component = component
	}
	if coreLibrary != "" {
		cfg.CoreLibrary = coreLibrary
	}
	if changed("tracer") {
		cfg.Tracer = useTracer
	}
	if trace != "" {
		cfg.Trace = trace
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if logFormat != "" {
		cfg.LogFormat = config.OutputFormat(logFormat)
	}
	if changed("verbose") {
		cfg.Verbose = verbose
	}
	if len(tests) > 0 {
		cfg.Tests = tests
	}
	if buffers != 0 {
		cfg.Buffers = buffers
	}
	if allocMode != "" {
		cfg.AllocMode = config.AllocMode(allocMode)
	}
	if queueOrder != "" {
		cfg.QueueOrder = config.QueueOrder(queueOrder)
	}
	if metabolism != "" {
		cfg.Metabolism = metabolism
	}
	if cfg.Inputs == nil {
		cfg.Inputs = map[uint32]string{}
	}
	if cfg.Outputs == nil {
		cfg.Outputs = map[uint32]string{}
	}
	if err := mapPorts(cfg.Inputs, inputs); err != nil {
		log.Fatalf("Invalid --input: %v", err)
	}
	if err := mapPorts(cfg.Outputs, outputs); err != nil {
		log.Fatalf("Invalid --output: %v", err)
	}
	if webAddr != "" {
		cfg.WebUI.Enabled = true
		cfg.WebUI.Address = webAddr
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}
	if err := harness.ApplyLogging(cfg); err != nil {
		log.Fatalf("Logging: %v", err)
	}
	return cfg
}

func mapPorts(dst map[uint32]string, flags map[string]string) error {
	for p, file := range flags {
		port, err := strconv.ParseUint(p, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid port %q", p)
		}
		dst[uint32(port)] = file
	}
	return nil
}

func runMain(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	rc := harness.New(cfg)
	defer logging.CloseLogFile()

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Mode selection
	if useTUI {
		runTUI(rc, sigCh)
	} else if cfg.WebUI.Enabled {
		runWebOnly(rc, cfg, sigCh)
	} else {
		runCLI(rc, sigCh)
	}
}

func runTUI(rc *harness.Context, sigCh chan os.Signal) {
	app := tui.New()
	cfg := rc.Config()

	// The console would tear the screen; records go to the log panel instead.
	logging.SetOutput(nil)
	detach := logging.AddSink(app.LogWriter())
	defer func() {
		detach()
		logging.SetOutput(os.Stderr)
	}()

	rc.OnRunStart = app.RunStarted
	rc.OnScenarioStart = func(_, name string) { app.TestStarted(name) }
	rc.OnResult = func(_ string, res scenario.Result) { app.AddResult(harness.NewRecord(res)) }
	rc.OnFinish = func(sum *harness.Summary) { app.RunFinished(sum.Report()) }

	app.OnStart = func() {
		if rc.Running() {
			app.LogWarn("A run is already in progress")
			return
		}
		app.LogInfo("Starting %d tests on %s", len(cfg.SelectedTests()), cfg.Component)
		if _, err := rc.Run(context.Background()); err != nil {
			app.LogError("Run failed: %v", err)
		}
	}

	app.OnStop = func() {
		app.LogInfo("Stopping after the current test...")
		rc.Cancel()
	}

	app.OnCancel = func() {
		app.LogWarn("Run cancelled")
		rc.Cancel()
	}

	app.OnQuit = func() {
		rc.Cancel()
	}

	// Start with welcome message
	go func() {
		time.Sleep(100 * time.Millisecond)
		app.LogInfo("omxconf v%s", version)
		app.LogInfo("Component: %s", cfg.Component)
		if cfg.CoreLibrary == "" {
			app.LogInfo("Core: in-process test core")
		} else {
			app.LogInfo("Core: %s", cfg.CoreLibrary)
		}
		app.LogInfo("Tests: %d selected", len(cfg.SelectedTests()))
		app.Log("Press F1 to run, F10 to quit")
	}()

	// Handle signals
	go func() {
		<-sigCh
		rc.Cancel()
		app.Stop()
	}()

	if err := app.Run(); err != nil {
		log.Fatalf("TUI error: %v", err)
	}
}

// applyWebConfig copies the non-empty fields of a web run request.
func applyWebConfig(cfg *config.Config, req web.Config) {
	if req.Component != "" {
		cfg.Component = req.Component
	}
	if len(req.Tests) > 0 {
		cfg.Tests = req.Tests
	}
	if req.Buffers > 0 {
		cfg.Buffers = req.Buffers
	}
	if req.AllocMode != "" {
		cfg.AllocMode = config.AllocMode(req.AllocMode)
	}
	if req.QueueOrder != "" {
		cfg.QueueOrder = config.QueueOrder(req.QueueOrder)
	}
	if req.Tracer {
		cfg.Tracer = true
	}
}

func runWebOnly(rc *harness.Context, cfg *config.Config, sigCh chan os.Signal) {
	var opts []web.Option
	if cfg.Metrics {
		opts = append(opts, web.WithMetrics())
	}
	web.Version = version
	srv := web.New(cfg.WebUI.Address, opts...)

	detach := logging.AddSink(srv.LogWriter())
	defer detach()

	rc.OnRunStart = srv.RunStarted
	rc.OnScenarioStart = func(_, name string) { srv.TestStarted(name) }
	rc.OnResult = func(_ string, res scenario.Result) { srv.AddResult(harness.NewRecord(res)) }
	rc.OnFinish = func(sum *harness.Summary) { srv.RunFinished(sum.Report()) }

	srv.OnStart = func(req web.Config) error {
		if rc.Running() {
			return harness.ErrBusy
		}
		if err := rc.Update(func(cfg *config.Config) { applyWebConfig(cfg, req) }); err != nil {
			return err
		}
		logging.LogInfo(logging.ComponentWeb, "starting run", "component", rc.Config().Component)
		go func() {
			if _, err := rc.Run(context.Background()); err != nil {
				srv.UpdateStatus(web.StatusError, err.Error())
			}
		}()
		return nil
	}

	srv.OnStop = func() error {
		logging.LogInfo(logging.ComponentWeb, "stopping run")
		rc.Cancel()
		return nil
	}

	srv.OnCancel = func() {
		logging.LogWarn(logging.ComponentWeb, "cancelling run")
		rc.Cancel()
	}

	// Handle signals
	go func() {
		<-sigCh
		log.Println("[main] Shutting down...")
		rc.Cancel()
		srv.Stop()
	}()

	log.Printf("omxconf v%s", version)
	log.Printf("Web UI: http://localhost%s", cfg.WebUI.Address)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Web server error: %v", err)
	}
}

func runCLI(rc *harness.Context, sigCh chan os.Signal) {
	cfg := rc.Config()
	core := cfg.CoreLibrary
	if core == "" {
		core = "in-process test core"
	}
	fmt.Printf("omxconf v%s\n", version)
	fmt.Printf("Component: %s\n", cfg.Component)
	fmt.Printf("Core: %s\n", core)
	fmt.Printf("Tests: %v\n", cfg.SelectedTests())
	fmt.Println()

	rc.OnScenarioStart = func(_, name string) {
		fmt.Printf("Running %s...\n", name)
	}

	// Handle cancel
	go func() {
		<-sigCh
		fmt.Println("\nCancelling after the current test...")
		rc.Cancel()
	}()

	sum, err := rc.Run(context.Background())
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	// Verdicts are in the output; the exit status does not reflect them.
	fmt.Println()
	fmt.Println(sum)
}
