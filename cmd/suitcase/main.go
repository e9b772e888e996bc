package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	suitcase "github.com/bluesky/suitcase-core"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "ingest":
		err = ingestCommand(os.Args[2:])
	case "export":
		err = exportCommand(os.Args[2:])
	case "tospec":
		err = tospecCommand(os.Args[2:])
	case "list":
		err = listCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("suitcase %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := suitcase.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func ingestCommand(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	file := fs.String("file", "", "Specfile to ingest (overrides config)")
	scans := fs.String("scans", "", "Comma-separated scan numbers; empty means every scan")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := suitcase.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	path := cfg.Specfile.Path
	if *file != "" {
		path = *file
	}
	scanIDs, err := parseScanIDs(*scans)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeDB, err := suitcase.OpenBroker(ctx, cfg.Broker)
	if err != nil {
		return err
	}
	defer closeDB()

	stats, err := suitcase.InsertSpecfile(ctx, b, path, scanIDs...)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %s: %d documents inserted, %d duplicates skipped\n",
		path, stats.Inserted, stats.Skipped)
	return nil
}

func exportCommand(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	out := fs.String("out", "export.h5", "HDF5 file to write")
	format := fs.String("format", "hdf5", "Output layout: hdf5 or nexus")
	uids := fs.String("uids", "", "Comma-separated run-start uids; empty means every run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := suitcase.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeDB, err := suitcase.OpenBroker(ctx, cfg.Broker)
	if err != nil {
		return err
	}
	defer closeDB()

	opts := suitcase.ExportOptionsFromConfig(cfg.Export)
	switch *format {
	case "hdf5":
		err = suitcase.ExportUIDs(ctx, b, *out, opts, splitList(*uids)...)
	case "nexus":
		err = suitcase.ExportNexusUIDs(ctx, b, *out, opts, splitList(*uids)...)
	default:
		return fmt.Errorf("unknown export format %q", *format)
	}
	if err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", *out)
	return nil
}

func tospecCommand(args []string) error {
	fs := flag.NewFlagSet("tospec", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	out := fs.String("out", "export.spec", "Specfile to append runs to")
	uids := fs.String("uids", "", "Comma-separated run-start uids; empty means every run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := suitcase.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeDB, err := suitcase.OpenBroker(ctx, cfg.Broker)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := suitcase.WriteSpec(ctx, b, *out, splitList(*uids)...); err != nil {
		return err
	}
	fmt.Printf("wrote runs to %s\n", *out)
	return nil
}

func listCommand(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	file := fs.String("file", "", "HDF5 file to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	runs, err := suitcase.ListRuns(*file)
	if err != nil {
		return err
	}
	for _, name := range runs {
		fmt.Println(name)
	}
	return nil
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := suitcase.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good ✅\n", *cfgPath)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"suitcase_documents_ingested_total": 0,
		"suitcase_queue_length":             0,
		"suitcase_wal_size_bytes":           0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] documents=%f queue=%f wal_bytes=%f\n",
		time.Now().Format(time.RFC3339),
		targets["suitcase_documents_ingested_total"],
		targets["suitcase_queue_length"],
		targets["suitcase_wal_size_bytes"],
	)
	return nil
}

func parseScanIDs(s string) ([]int, error) {
	var ids []int
	for _, part := range splitList(s) {
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid scan number %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printUsage() {
	fmt.Printf(`suitcase CLI

Usage:
  suitcase <command> [flags]

Commands:
  run        Ingest the configured specfile through the durable pipeline
  ingest     Parse a specfile and insert its scans into the broker
  export     Export broker runs into an HDF5 or NeXus file
  tospec     Render broker runs back into specfile format
  list       List the run groups inside an HDF5 file
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  suitcase run -config ./data/config.yaml
  suitcase ingest -config ./data/config.yaml -file ./lab.spec -scans 1,2,5
  suitcase export -config ./data/config.yaml -out runs.h5
  suitcase export -config ./data/config.yaml -format nexus -out runs.nxs
  suitcase tospec -config ./data/config.yaml -out runs.spec
  suitcase list -file runs.h5
  suitcase stats -url http://localhost:9100/metrics -interval 1s
`)
}
