package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/promptsworkmagic/ollama-compass/internal/database"
	"github.com/promptsworkmagic/ollama-compass/internal/metrics"
	"github.com/promptsworkmagic/ollama-compass/internal/realtime"
	"github.com/promptsworkmagic/ollama-compass/internal/scanner"
)

var scanJSON bool

var scanCmd = &cobra.Command{
	Use:   "scan [subnet]",
	Short: "Scan a subnet (CIDR or single IPv4) once and update the inventory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the scan summary as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	subnet := cfg.Scanner.Subnet
	if len(args) == 1 {
		subnet = args[0]
	}

	store, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	sc := scanner.NewScanner(store, scannerOptions(cfg, realtime.Nop{}, metrics.NewMetrics(prometheus.NewRegistry())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status, err := sc.Scan(ctx, subnet)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(out, "scan %s %s: scanned=%d found=%d dead=%d\n",
		status.Subnet, status.Status, status.ScannedCount, status.FoundCount, status.DeadCount)
	hosts, _, err := store.ListHosts(database.HostFilter{Status: "alive", Limit: 5000})
	if err != nil {
		return err
	}
	return printHosts(out, store, hosts)
}
