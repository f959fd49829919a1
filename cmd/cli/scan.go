package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/doublegate/prort-ip/internal/codec"
	"github.com/doublegate/prort-ip/internal/config"
	"github.com/doublegate/prort-ip/internal/db"
	"github.com/doublegate/prort-ip/internal/eventbus"
	"github.com/doublegate/prort-ip/internal/logging"
	"github.com/doublegate/prort-ip/internal/metrics"
	"github.com/doublegate/prort-ip/internal/progress"
	"github.com/doublegate/prort-ip/internal/ratelimit"
	"github.com/doublegate/prort-ip/internal/scanning"
	"github.com/doublegate/prort-ip/internal/scheduler"
	"github.com/doublegate/prort-ip/internal/sink"
	"github.com/doublegate/prort-ip/internal/targets"
	"github.com/doublegate/prort-ip/internal/transport"
)

var (
	scanPorts     string
	scanTypeFlags []string
	scanTiming    int
	scanExclude   string
	scanStateDir  string
	scanPersist   bool
	scanDBHost    string
	scanDBPort    int
	scanDBName    string
	scanDBUser    string
	scanDBPass    string
	scanDBSSL     string
	scanConfig    string
)

var scanCmd = &cobra.Command{
	Use:   "scan [targets...]",
	Short: "Scan targets for open ports and services",
	Long: `scan expands the given targets (IPs, CIDRs, hostnames, or dash
ranges), probes the requested ports with one or more scan types, and
streams classified results to stdout as they complete.`,
	Example: `  prortip scan -sS -p 22,80,443 192.168.1.0/24
  prortip scan -sT -p- -T4 localhost
  prortip scan -sU -p 53,123,161 10.0.0.1-10.0.0.50`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanPorts, "ports", "p", "1-1000", "ports to scan: comma list, ranges, or '-' for all 65535")
	scanCmd.Flags().StringArrayVar(&scanTypeFlags, "scan-type", []string{"sT"},
		"scan types: sT (connect), sS (syn), sA (ack), sF (fin), sN (null), sX (xmas), sU (udp)")
	scanCmd.Flags().IntVar(&scanTiming, "timing", 3, "timing template 0 (paranoid) .. 5 (insane)")
	scanCmd.Flags().StringVar(&scanExclude, "exclude", "", "comma-separated targets to exclude")
	scanCmd.Flags().StringVar(&scanStateDir, "state-dir", defaultStateDir(), "checkpoint directory for resume")
	scanCmd.Flags().BoolVar(&scanPersist, "persist", false, "record results to Postgres in addition to stdout")
	scanCmd.Flags().StringVar(&scanDBHost, "db-host", "localhost", "Postgres host (with --persist)")
	scanCmd.Flags().IntVar(&scanDBPort, "db-port", 5432, "Postgres port (with --persist)")
	scanCmd.Flags().StringVar(&scanDBName, "db-name", "prtip", "Postgres database name (with --persist)")
	scanCmd.Flags().StringVar(&scanDBUser, "db-user", "prtip", "Postgres user (with --persist)")
	scanCmd.Flags().StringVar(&scanDBPass, "db-password", "", "Postgres password (with --persist)")
	scanCmd.Flags().StringVar(&scanDBSSL, "db-sslmode", "disable", "Postgres sslmode (with --persist)")
	scanCmd.Flags().StringVar(&scanConfig, "config", "", "load evasion/timing defaults from a config.yaml")
}

// applyConfigDefaults loads path and builds a ScanConfig from the file's
// ScanningConfig via BuildScanConfig. The timing and ports flags are replaced
// by the file's values when they still hold their defaults (3 and "1-1000");
// a flag set explicitly to its default value is replaced as well.
func applyConfigDefaults(path string, args []string) (scanning.EvasionConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return scanning.EvasionConfig{}, fmt.Errorf("load config %q: %w", path, err)
	}
	sc, err := cfg.BuildScanConfig(args)
	if err != nil {
		return scanning.EvasionConfig{}, fmt.Errorf("build scan config from %q: %w", path, err)
	}
	if scanTiming == 3 {
		scanTiming = int(sc.Timing)
	}
	if scanPorts == "1-1000" {
		scanPorts = sc.Ports
	}
	return sc.Evasion, nil
}

func defaultStateDir() string {
	if d := os.Getenv("PRTIP_STATE_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prortip/state"
	}
	return home + "/.prortip/state"
}

func parseScanTypes(flags []string) ([]scanning.ScanType, error) {
	table := map[string]scanning.ScanType{
		"st": scanning.ScanTypeConnect,
		"ss": scanning.ScanTypeSYN,
		"sa": scanning.ScanTypeACK,
		"sf": scanning.ScanTypeFIN,
		"sn": scanning.ScanTypeNULL,
		"sx": scanning.ScanTypeXmas,
		"su": scanning.ScanTypeUDP,
		"si": scanning.ScanTypeIdle,
	}
	out := make([]scanning.ScanType, 0, len(flags))
	for _, f := range flags {
		st, ok := table[strings.ToLower(f)]
		if !ok {
			return nil, fmt.Errorf("unknown scan type %q", f)
		}
		out = append(out, st)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one scan type is required")
	}
	return out, nil
}

// protocolFor reports which raw-socket protocol a Dispatcher run needs
// opened: TCP-family scan types and UDP both need their own raw socket,
// but Connect scans use the OS stack and need none at all.
func protocolFor(scanTypes []scanning.ScanType) (needsRaw bool, proto int) {
	for _, st := range scanTypes {
		switch st {
		case scanning.ScanTypeUDP:
			return true, codec.ProtoUDP
		case scanning.ScanTypeConnect:
			// no raw socket required
		default:
			return true, codec.ProtoTCP
		}
	}
	return false, codec.ProtoTCP
}

func runScan(cmd *cobra.Command, args []string) error {
	var evasion scanning.EvasionConfig
	if scanConfig != "" {
		var err error
		evasion, err = applyConfigDefaults(scanConfig, args)
		if err != nil {
			return err
		}
	}

	scanTypes, err := parseScanTypes(scanTypeFlags)
	if err != nil {
		return err
	}

	ports, err := scanning.ExpandPorts(scanPorts)
	if err != nil {
		return fmt.Errorf("invalid port spec %q: %w", scanPorts, err)
	}

	exclude := map[string]bool{}
	for _, e := range strings.Split(scanExclude, ",") {
		if e = strings.TrimSpace(e); e != "" {
			exclude[e] = true
		}
	}

	specs := make([]targets.Spec, 0, len(args))
	for _, a := range args {
		specs = append(specs, targets.Spec{Raw: a})
	}
	iter := targets.NewIterator(specs, exclude, nil)

	bus := eventbus.New(0)
	limiter := ratelimit.New(ratelimit.Template(scanTiming), 0, 1)
	settings := ratelimit.LookupTemplate(ratelimit.Template(scanTiming))

	needsRaw, proto := protocolFor(scanTypes)
	var tr transport.Transport
	if needsRaw {
		tr, err = transport.Open(transport.Config{Family: transport.FamilyIPv4, Proto: proto})
		if err != nil {
			logging.Warn("raw socket unavailable, falling back where possible", "error", err)
			tr = noopTransport{}
		}
	} else {
		tr = noopTransport{}
	}
	defer tr.Close()

	scanID := uuid.New()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var resultSink sink.Sink = sink.NewMemory()
	if scanPersist {
		dbConn, dbErr := db.Connect(ctx, &db.Config{
			Host:            scanDBHost,
			Port:            scanDBPort,
			Database:        scanDBName,
			Username:        scanDBUser,
			Password:        scanDBPass,
			SSLMode:         scanDBSSL,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		})
		if dbErr != nil {
			return fmt.Errorf("connect to database: %w", dbErr)
		}
		defer dbConn.Close()

		cfg := &scanning.ScanConfig{Targets: args, Ports: scanPorts, ScanTypes: scanTypes}
		if saveErr := db.NewTargetRepository(dbConn).Save(ctx, strings.Join(args, ","), cfg); saveErr != nil {
			logging.Warn("failed to persist target set", "error", saveErr)
		}
		resultSink = db.NewScanResultRepository(dbConn)
	}
	buffered := sink.NewBuffered(resultSink, 4096, sink.Block, bus)
	defer buffered.Close()

	agg := progress.New(bus, scanID, 0, scanStateDir)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	dispatcher := scheduler.New(scheduler.Config{
		ScanID:         scanID,
		MaxParallelism: settings.Parallelism,
		ProbeTimeout:   settings.ProbeTimeout,
		Evasion:        evasion,
	}, tr, limiter, bus)

	aggCtx, aggCancel := context.WithCancel(ctx)
	defer aggCancel()
	go agg.Run(aggCtx)
	go collectEngineMetrics(aggCtx, scanID.String(), dispatcher, limiter)

	resultsDone := make(chan struct{})
	sub := bus.Subscribe(eventbus.Filter{ScanID: scanID, Kinds: map[eventbus.Kind]bool{eventbus.KindPortStateChanged: true}}, 0, eventbus.DropOldest)
	go func() {
		defer close(resultsDone)
		for e := range sub.Events() {
			result, ok := e.Payload.(scanning.ScanResult)
			if !ok {
				continue
			}
			fmt.Printf("%-15s %5d/%-4s %-14s %s\n", result.Target.String(), result.Port, result.Protocol, result.State, result.Reason)
			if err := buffered.Record(ctx, result); err != nil && verbose {
				fmt.Fprintf(os.Stderr, "sink error: %v\n", err)
			}
		}
	}()

	err = dispatcher.Run(ctx, iter, ports, scanTypes)
	sub.Close()
	<-resultsDone
	aggCancel()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// collectEngineMetrics polls the dispatcher and rate limiter for the
// duration of a scan run and publishes the samples to the global
// Prometheus registry, so a scrape during a long scan sees live
// packet/token/in-flight counters instead of only post-scan totals.
func collectEngineMetrics(ctx context.Context, scanID string, d *scheduler.Dispatcher, l *ratelimit.Limiter) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	m := metrics.GetGlobalMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CollectEngineStats(scanID, d, l)
		}
	}
}

// noopTransport is used for Connect scans, which never send raw packets.
type noopTransport struct{}

func (noopTransport) SendBatch(context.Context, []transport.Packet) (int, error) { return 0, nil }
func (noopTransport) RecvBatch(ctx context.Context, _ [][]byte, timeout time.Duration) ([]transport.Received, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}
func (noopTransport) Close() error { return nil }
