package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"panshare/catalog"
	"panshare/internal"
	"panshare/utils"
)

var (
	catalogID    int64
	title        string
	displayName  string
	cloudName    string
	resourceType string
	remark       string
	quarkDir     string
	baiduDir     string
	noQuark      bool
	noBaidu      bool

	objectID string

	refreshAll  bool
	concurrency int
	metricsOut  string
	cloudFilter string
)

var shareCmd = &cobra.Command{
	Use:   "share <SHARE_URL>",
	Short: "Copy a shared object into your account and reshare it",
	Long: `Copy the object behind a Quark or Baidu share link into the operator's
account and create a new share for it.

With --id the catalog row is pointed at the new share. With any of --name,
--type, --remark or --cloud a new catalog row is added. Otherwise the new link
and object id are printed.

Examples:
  panshare share https://pan.quark.cn/s/abc123
  panshare share --id 42 "https://pan.baidu.com/s/1xyz pwd=a1b2"
  panshare share --name "Report" --type doc --baidu-dir /shared https://pan.baidu.com/s/1xyz?pwd=a1b2
  panshare share --quark-dir 0f3c9a2b7e https://pan.quark.cn/s/abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		req := &internal.CreateShareRequest{
			ShareURL: args[0],
			Title:    title,
			SaveTo: internal.DestinationPreferences{
				Quark:    !noQuark,
				Baidu:    !noBaidu,
				QuarkDir: quarkDir,
				BaiduDir: baiduDir,
			},
		}
		if cmd.Flags().Changed("id") {
			id := catalogID
			req.CatalogID = &id
		}
		if displayName != "" || cloudName != "" || resourceType != "" || remark != "" {
			req.Display = &internal.DisplayFields{
				Name:         displayName,
				CloudName:    cloudName,
				ResourceType: resourceType,
				Remark:       remark,
			}
		}

		out, err := a.orch.CreateShare(ctx, req)
		if err != nil {
			return describeError(err)
		}

		switch {
		case out == nil:
			if !quiet {
				fmt.Printf("✅ Catalog row %d is up to date\n", catalogID)
			}
			return nil
		case out.Kind == internal.OutcomePassThrough:
			if !quiet {
				fmt.Printf("➡️  No re-hosting needed for %s\n", args[0])
			}
			return nil
		default:
			return printJSON(out)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <SHARE_URL>",
	Short: "Delete a hosted object and its catalog row",
	Long: `Delete the object a share link was created for and remove the catalog row
holding that link. Without --object-id the object id recorded in the catalog
is used.

Examples:
  panshare delete https://pan.quark.cn/s/xyz --object-id 999
  panshare delete "https://pan.baidu.com/s/1new?pwd=k3j9"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.orch.DeleteShare(ctx, &internal.DeleteShareRequest{ShareURL: args[0], ObjectID: objectID})
		if err != nil {
			return describeError(err)
		}
		if !ok {
			return fmt.Errorf("%s is not a supported share link", args[0])
		}
		if !quiet {
			fmt.Printf("🗑️  Deleted %s\n", args[0])
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-host catalog rows and point them at fresh shares",
	Long: `Re-host catalog rows on their own provider and replace their share links.
By default only rows never replaced or flagged for review are refreshed.

Examples:
  panshare refresh
  panshare refresh --all --cloud 夸克网盘 --concurrency 8
  panshare refresh --metrics-out /var/lib/node_exporter/panshare.prom`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		records, _, err := a.store.List(ctx, catalog.ListOptions{Stale: !refreshAll, CloudName: cloudFilter})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			if !quiet {
				fmt.Println("Nothing to refresh")
			}
			return nil
		}

		n := concurrency
		if !cmd.Flags().Changed("concurrency") {
			n = config.Concurrency
		}
		if n < 1 || n > 32 {
			return internal.NewValidationErrorWithValue("concurrency", "must be between 1 and 32", n)
		}

		a.logger.Info("refreshing %d catalog rows with concurrency %d", len(records), n)
		report, runErr := a.orch.Refresh(ctx, records, n, quiet)

		for _, f := range report.Failures {
			a.logger.Error("row %d (%s) failed: %v", f.Record.ID, f.Record.ShareLink, f.Err)
		}

		if metricsOut != "" {
			if err := a.observer.WriteTextfile(metricsOut); err != nil {
				a.logger.Warn("failed to write metrics to %s: %v", metricsOut, err)
			}
		}

		if runErr != nil {
			return runErr
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d of %d rows failed to refresh", report.Failed, report.Total)
		}
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <TEXT>",
	Short: "Show which provider a share link belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classifier := utils.NewLinkClassifier()
		provider := classifier.Classify(args[0])
		share := classifier.ParseShare(args[0])

		return printJSON(map[string]interface{}{
			"provider":     provider.Name(),
			"display_name": provider.DisplayName(),
			"code":         share.Code,
			"passcode":     share.Passcode,
		})
	},
}

// describeError prints the suggestion of a PanError before returning it
func describeError(err error) error {
	pe := internal.AsPanError(err, internal.ErrTransport)
	if pe != nil && pe.Suggestion != "" && !quiet {
		fmt.Fprintf(os.Stderr, "💡 %s\n", pe.Suggestion)
	}
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func init() {
	shareCmd.Flags().Int64Var(&catalogID, "id", 0, "Catalog row to point at the new share")
	shareCmd.Flags().StringVar(&title, "title", "", "Title used when a new catalog row has no name")
	shareCmd.Flags().StringVar(&displayName, "name", "", "Name of a new catalog row")
	shareCmd.Flags().StringVar(&cloudName, "cloud", "", "Cloud name of a new catalog row (defaults to the provider)")
	shareCmd.Flags().StringVar(&resourceType, "type", "", "Resource type of a new catalog row")
	shareCmd.Flags().StringVar(&remark, "remark", "", "Remark of a new catalog row")
	shareCmd.Flags().StringVar(&quarkDir, "quark-dir", "", "Quark destination folder id (env: PANSHARE_QUARK_SAVE_DIR)")
	shareCmd.Flags().StringVar(&baiduDir, "baidu-dir", "", "Baidu destination path (env: DEFAULT_SAVE_DIR)")
	shareCmd.Flags().BoolVar(&noQuark, "no-quark", false, "Pass Quark links through without re-hosting")
	shareCmd.Flags().BoolVar(&noBaidu, "no-baidu", false, "Pass Baidu links through without re-hosting")

	deleteCmd.Flags().StringVar(&objectID, "object-id", "", "Remote object id (Quark fid or Baidu path)")

	refreshCmd.Flags().BoolVar(&refreshAll, "all", false, "Refresh every catalog row, not only stale ones")
	refreshCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Number of rows refreshed at once (1-32) (env: PANSHARE_CONCURRENCY)")
	refreshCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile when done")
	refreshCmd.Flags().StringVar(&cloudFilter, "cloud", "", "Only refresh rows of this cloud name")
}
