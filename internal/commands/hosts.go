package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptsworkmagic/ollama-compass/internal/database"
)

var (
	hostsStatus string
	hostsJSON   bool
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List recorded hosts",
	RunE:  runHosts,
}

func init() {
	hostsCmd.Flags().StringVar(&hostsStatus, "status", "all", "filter by liveness (alive, dead, all)")
	hostsCmd.Flags().BoolVar(&hostsJSON, "json", false, "print hosts with their models as JSON")
}

type hostView struct {
	database.Host
	Models []database.Model `json:"models"`
}

func runHosts(cmd *cobra.Command, args []string) error {
	switch hostsStatus {
	case "alive", "dead", "all":
	default:
		return fmt.Errorf("invalid --status %q (alive, dead, all)", hostsStatus)
	}

	store, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	hosts, _, err := store.ListHosts(database.HostFilter{Status: hostsStatus, Limit: 5000})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !hostsJSON {
		return printHosts(out, store, hosts)
	}

	views := make([]hostView, 0, len(hosts))
	for _, h := range hosts {
		list, err := store.GetModelsForHost(h.ID)
		if err != nil {
			return err
		}
		views = append(views, hostView{Host: h, Models: list})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func printHosts(out io.Writer, store *database.Store, hosts []database.Host) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tIP\tSTATUS\tPERFORMANCE\tMODELS\tLAST SEEN")
	for _, h := range hosts {
		n, err := store.CountModelsForHost(h.ID)
		if err != nil {
			return err
		}
		status := "dead"
		if h.IsAlive {
			status = "alive"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			h.ID, h.IPAddress, status, h.Performance, n, h.LastSeen.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
