package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/softmmu/monitoring"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run seeded random guest accesses through the accessors.",
		Args:  cobra.NoArgs,
		RunE:  runBench,
	}

	cmd.Flags().Int("accesses", 1_000_000, "Number of guest accesses")
	cmd.Flags().Int("pages", 64, "Number of guest RAM pages")
	cmd.Flags().Int64("seed", 1, "Seed of the access pattern")
	cmd.Flags().String("record", "",
		"Record translation events into <record>.sqlite3")
	cmd.Flags().Bool("monitor", false, "Serve the monitoring API")
	cmd.Flags().Int("port", 0, "Port of the monitoring API")
	cmd.Flags().Bool("open", false,
		"Open the monitoring API in a browser (implies --monitor)")
	cmd.Flags().Bool("no-invalidate", false,
		"Do not invalidate pages from a second thread")

	return cmd
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	opts := workloadOptions{}
	opts.Accesses, _ = flags.GetInt("accesses")
	opts.Pages, _ = flags.GetInt("pages")
	opts.Seed, _ = flags.GetInt64("seed")
	opts.Record, _ = flags.GetString("record")

	noInvalidate, _ := flags.GetBool("no-invalidate")
	opts.Invalidate = !noInvalidate

	monitor, _ := flags.GetBool("monitor")
	open, _ := flags.GetBool("open")

	if monitor || open {
		port, _ := flags.GetInt("port")
		opts.Monitor = monitoring.NewMonitor().WithPortNumber(port)

		url := opts.Monitor.StartServer()
		if open {
			if err := browser.OpenURL(url + "/api/contexts"); err != nil {
				slog.Warn("cannot open browser", "url", url, "error", err)
			}
		}
	}

	res, err := runWorkload(cfg, opts)
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), res)

	return nil
}

func printResult(w io.Writer, res workloadResult) {
	total := res.Loads + res.Stores

	fmt.Fprintf(w, "accesses:     %s (%s loads, %s stores)\n",
		humanize.Comma(int64(total)),
		humanize.Comma(int64(res.Loads)),
		humanize.Comma(int64(res.Stores)))
	fmt.Fprintf(w, "page faults:  %s\n", humanize.Comma(int64(res.Faults)))
	fmt.Fprintf(w, "code writes:  %s\n", humanize.Comma(int64(res.CodeWrites)))
	fmt.Fprintf(w, "checksum:     0x%016x\n", res.Checksum)
	fmt.Fprintf(w, "elapsed:      %s\n", res.Elapsed)

	if res.Elapsed > 0 {
		rate := float64(total) / res.Elapsed.Seconds()
		fmt.Fprintf(w, "rate:         %s accesses/s\n",
			humanize.Commaf(float64(int64(rate))))
	}

	names := make([]string, 0, len(res.Events))
	for name := range res.Events {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(w, "%-13s %s\n", name+":",
			humanize.Comma(int64(res.Events[name])))
	}
}
