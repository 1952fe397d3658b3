// Command oscbridge attaches to an oscring shared region from the
// command line: run a live consumer with demo producers, inspect a
// layout and metrics snapshot, or burst messages through a bench run.
// It is the standalone front-end the library itself never needs, the
// Go-native analogue of the teacher's own device-lifecycle CLI.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-oscring/oscring"
	"github.com/go-oscring/oscring/internal/logging"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "oscbridge",
		Short: "Attach to and exercise an oscring shared-memory region",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults built in if omitted)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")

	root.AddCommand(newRunCmd(), newInspectCmd(), newBenchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*oscring.Config, error) {
	if configPath == "" {
		return oscring.DefaultConfig(), nil
	}
	return oscring.LoadConfig(configPath)
}

func newLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(cfg)
	if err != nil {
		logger = logging.NewDiscard()
	}
	return logger
}

func newRunCmd() *cobra.Command {
	var producerCount int
	var sendInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach a consumer and N demo producers, printing metrics as it runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			consumer, err := oscring.NewConsumer(cfg, &oscring.Options{Context: ctx, Logger: logger})
			if err != nil {
				return fmt.Errorf("oscbridge: attach consumer: %w", err)
			}

			var sent, received int
			consumer.OnMessage(func(payload []byte) { received++ })

			if err := consumer.Start(); err != nil {
				return fmt.Errorf("oscbridge: start consumer: %w", err)
			}
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.Errorf("stop consumer: %v", err)
				}
			}()

			logger.Infof("attached consumer: in=%s out=%s debug=%s producers=%d",
				cfg.InRingSize, cfg.OutRingSize, cfg.DebugRingSize, producerCount)

			producers := make([]*oscring.Producer, producerCount)
			for i := range producers {
				producers[i] = oscring.NewProducer(consumer)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(sendInterval)
			defer ticker.Stop()
			metricsTicker := time.NewTicker(2 * time.Second)
			defer metricsTicker.Stop()

			fmt.Println("Press Ctrl+C to stop...")
			for {
				select {
				case <-sigCh:
					logger.Infof("received shutdown signal, sent=%d received=%d", sent, received)
					return nil
				case <-ticker.C:
					p := producers[sent%len(producers)]
					if err := p.Send(demoMessage(sent)); err == nil {
						sent++
					}
				case <-metricsTicker.C:
					printMetrics(consumer.Metrics().GetMetricsArray())
				}
			}
		},
	}
	cmd.Flags().IntVar(&producerCount, "producers", 2, "number of demo producers to attach")
	cmd.Flags().DurationVar(&sendInterval, "interval", 100*time.Millisecond, "delay between demo sends")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Dump a fresh layout and metrics snapshot without starting any loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			consumer, err := oscring.NewConsumer(cfg, &oscring.Options{Logger: logging.NewDiscard()})
			if err != nil {
				return fmt.Errorf("oscbridge: attach consumer: %w", err)
			}

			layout := consumer.Layout()
			fmt.Println("layout:")
			fmt.Printf("  in:           offset=%d size=%d\n", layout.In.Offset, layout.In.Size)
			fmt.Printf("  out:          offset=%d size=%d\n", layout.Out.Offset, layout.Out.Size)
			fmt.Printf("  debug:        offset=%d size=%d\n", layout.Debug.Offset, layout.Debug.Size)
			fmt.Printf("  control:      offset=%d size=%d\n", layout.Control.Offset, layout.Control.Size)
			fmt.Printf("  metrics:      offset=%d size=%d\n", layout.Metrics.Offset, layout.Metrics.Size)
			fmt.Printf("  node_tree:    offset=%d size=%d\n", layout.NodeTree.Offset, layout.NodeTree.Size)
			fmt.Printf("  audio_capture: offset=%d size=%d\n", layout.AudioCapture.Offset, layout.AudioCapture.Size)
			fmt.Printf("  total:        %d bytes\n", layout.TotalSize())

			fmt.Println("metrics:")
			printMetrics(consumer.Metrics().GetMetricsArray())

			tree := consumer.NodeTree()
			fmt.Printf("node_tree: version=%d count=%d\n", tree.Version(), tree.Count())
			return nil
		},
	}
}

func newBenchCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Burst N messages through a single producer and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			consumer, err := oscring.NewConsumer(cfg, &oscring.Options{Logger: logging.NewDiscard()})
			if err != nil {
				return fmt.Errorf("oscbridge: attach consumer: %w", err)
			}
			if err := consumer.Start(); err != nil {
				return fmt.Errorf("oscbridge: start consumer: %w", err)
			}
			defer consumer.Stop()

			producer := oscring.NewProducer(consumer)

			var ok, failed int
			start := time.Now()
			for i := 0; i < count; i++ {
				if err := producer.Send(demoMessage(i)); err != nil {
					failed++
					continue
				}
				ok++
			}
			elapsed := time.Since(start)

			rate := float64(ok) / elapsed.Seconds()
			fmt.Printf("sent=%d failed=%d elapsed=%s rate=%.0f msgs/sec\n", ok, failed, elapsed, rate)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 100000, "number of messages to burst")
	return cmd
}

func demoMessage(i int) []byte {
	address := fmt.Sprintf("/oscbridge/demo/%d", rand.Intn(16))
	padLen := (4 - len(address)%4)
	if padLen == 0 {
		padLen = 4
	}
	address += strings.Repeat("\x00", padLen)
	return append([]byte(address), ",\x00\x00\x00"...)
}

func printMetrics(m []uint32) {
	fmt.Printf("  osc_out_sent=%d processed=%d dropped=%d corrupt=%d\n", m[0], m[1], m[2], m[3])
	fmt.Printf("  bypass non_bundle=%d immediate=%d near_future=%d late=%d far_future=%d\n",
		m[4], m[5], m[6], m[7], m[8])
	fmt.Printf("  scheduler bundles=%d dispatches=%d retries_req=%d retries_ok=%d cancelled=%d dropped=%d\n",
		m[9], m[10], m[11], m[12], m[13], m[14])
	fmt.Printf("  depth pending=%d peak_pending=%d retry=%d peak_retry=%d\n", m[15], m[16], m[17], m[18])
}
