package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/shiba/datarecording"
	"github.com/sarchlab/shiba/monitoring"
	"github.com/sarchlab/shiba/vm/mmu"
)

var (
	numFrames   int
	outerBits   uint
	innerBits   uint
	frameSize   int
	tracePath   string
	traceOn     bool
	monitorOn   bool
	monitorPort int
	openBrowser bool
)

var rootCmd = &cobra.Command{
	Use:   "shiba [script]",
	Short: "shiba simulates a demand-paged virtual memory manager",
	Long: `shiba simulates a demand-paged virtual memory manager with ` +
		`copy-on-write fork semantics. It executes an instruction script ` +
		`from the given file, or from stdin when no file is given.

Instructions, one per line:
  a <vpn> <r|w|rw>   allocate a page
  f <vpn>            free a page
  r <vpn>            read access
  w <vpn> [data]     write access
  s <pid>            switch to the process, forking it if absent
  p                  print the page table and the frame table`,
	Args: cobra.MaximumNArgs(1),
	RunE: run,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
}

func init() {
	// A .env file may override the built-in defaults; flags override both.
	_ = godotenv.Load()

	rootCmd.Flags().IntVar(&numFrames, "frames",
		envInt("SHIBA_FRAMES", 128), "number of physical frames")
	rootCmd.Flags().UintVar(&outerBits, "outer-bits",
		uint(envInt("SHIBA_OUTER_BITS", 4)),
		"VPN bits indexing the outer directory")
	rootCmd.Flags().UintVar(&innerBits, "inner-bits",
		uint(envInt("SHIBA_INNER_BITS", 4)),
		"VPN bits indexing an inner directory")
	rootCmd.Flags().IntVar(&frameSize, "frame-size",
		envInt("SHIBA_FRAME_SIZE", 64), "frame payload size in bytes")
	rootCmd.Flags().BoolVar(&traceOn, "trace", false,
		"record every instruction to a SQLite trace database")
	rootCmd.Flags().StringVar(&tracePath, "trace-db",
		os.Getenv("SHIBA_TRACE_DB"),
		"trace database path (without extension)")
	rootCmd.Flags().BoolVar(&monitorOn, "monitor", false,
		"serve the final simulator state over HTTP")
	rootCmd.Flags().IntVar(&monitorPort, "monitor-port", 0,
		"port for the monitoring server")
	rootCmd.Flags().BoolVar(&openBrowser, "open", false,
		"open the monitoring page in a browser")
}

func run(_ *cobra.Command, args []string) error {
	m := mmu.MakeBuilder().
		WithNumFrames(numFrames).
		WithOuterBits(outerBits).
		WithInnerBits(innerBits).
		WithFrameSize(frameSize).
		Build("MMU")

	interp := &interpreter{
		mmu: m,
		out: os.Stdout,
	}

	if traceOn {
		recorder := datarecording.New(tracePath)
		recorder.CreateTable(accessTableName, accessRecord{})
		interp.recorder = recorder

		defer recorder.Flush()
	}

	input := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()

		input = f
	}

	if err := interp.run(input); err != nil {
		return err
	}

	if monitorOn {
		monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
		monitor.RegisterMMU(m)
		monitor.StartServer(openBrowser)

		select {} // serve until interrupted
	}

	return nil
}

func envInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ignoring %s=%q: %v\n", key, s, err)
		return fallback
	}

	return n
}
