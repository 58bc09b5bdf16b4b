package cli

import (
	gojson "encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgestore/edgestore/internal/edgesrv/usercontext"
	"github.com/edgestore/edgestore/internal/edgesrv/view"
	"github.com/edgestore/edgestore/pkg/types"
)

var (
	// View command flags
	materializeUser    string
	materializeDataset string

	getViewUser    string
	getViewDataset string
	getViewVersion string
	getViewSince   int64
	getViewKeyPath string

	setContextUser    string
	setContextDataset string
	setContextTs      int64
)

// materializeCmd represents the materialize command
var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Materialize a user's view of the latest dataset version",
	Long: `Materialize a user's view. The latest published version of the dataset
is pinned, the user's context document is applied through the dataset's
transform, and the derived items are appended to the user's view log.

Example:
  edgestore materialize -u alice -d products`,
	RunE: materializeUserView,
}

func materializeUserView(cmd *cobra.Command, args []string) error {
	ctx, done, err := connect(materializeUser)
	if err != nil {
		return err
	}
	defer done()

	count, merr := view.MaterializeView(ctx, types.UserID(materializeUser), types.DatasetID(materializeDataset))
	if merr != nil {
		return merr
	}

	if jsonOutput {
		printJSON(map[string]any{
			"user":    materializeUser,
			"dataset": materializeDataset,
			"items":   count,
		})
	} else {
		fmt.Printf("Materialized %d items for %s/%s\n", count, materializeUser, materializeDataset)
	}
	return nil
}

// getViewCmd represents the get-view command
var getViewCmd = &cobra.Command{
	Use:   "get-view",
	Short: "Read a user's materialized view",
	Long: `Read a user's materialized view log. The most recently materialized
version is used when --version is omitted; --since restricts the read to
entries appended at or after the given timestamp. With --latest-per-key the
log is collapsed to the newest entry per distinct value at the key path.

Example:
  edgestore get-view -u alice -d products
  edgestore get-view -u alice -d products --since 1700000000
  edgestore get-view -u alice -d products --latest-per-key '$.sku'`,
	RunE: getUserView,
}

func getUserView(cmd *cobra.Command, args []string) error {
	ctx, done, err := connect(getViewUser)
	if err != nil {
		return err
	}
	defer done()

	version := getViewVersion
	if version == "" {
		var verr error
		version, _, verr = view.LatestVersion(ctx, types.UserID(getViewUser), types.DatasetID(getViewDataset))
		if verr != nil {
			return verr
		}
	}

	var items []gojson.RawMessage
	if getViewKeyPath != "" {
		views, verr := view.LatestPerKey(ctx, types.UserID(getViewUser), types.DatasetID(getViewDataset), version, getViewKeyPath)
		if verr != nil {
			return verr
		}
		for _, uv := range views {
			items = append(items, gojson.RawMessage(uv.Item.Bytes))
		}
	} else {
		rows, verr := view.GetView(ctx, types.UserID(getViewUser), types.DatasetID(getViewDataset), version, getViewSince)
		if verr != nil {
			return verr
		}
		for {
			uv, ok, nerr := rows.Next(ctx)
			if nerr != nil {
				return nerr
			}
			if !ok {
				break
			}
			items = append(items, gojson.RawMessage(uv.Item.Bytes))
		}
	}

	if jsonOutput {
		printJSON(map[string]any{
			"user":    getViewUser,
			"dataset": getViewDataset,
			"version": version,
			"items":   items,
		})
		return nil
	}
	fmt.Printf("Version: %s (%d items)\n", version, len(items))
	for _, item := range items {
		fmt.Println(string(item))
	}
	return nil
}

// setContextCmd represents the set-context command
var setContextCmd = &cobra.Command{
	Use:   "set-context -f FILENAME",
	Short: "Set a user's context document for a dataset",
	Long: `Set a user's context document for a dataset. The file must contain a
single JSON object; it replaces any previous context unconditionally. Reserved
keys (filters, sort, selection) steer the default transform, the rest are
merged into every derived item.

Example:
  edgestore set-context -u alice -d products -f context.json`,
	RunE: setUserContext,
}

func setUserContext(cmd *cobra.Command, args []string) error {
	filename, err := cmd.Flags().GetString("filename")
	if err != nil {
		return err
	}
	if filename == "" {
		return fmt.Errorf("filename is required")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", filename, err)
	}

	ts := setContextTs
	if ts == 0 {
		ts = time.Now().Unix()
	}

	ctx, done, err := connect(setContextUser)
	if err != nil {
		return err
	}
	defer done()

	if serr := usercontext.SetContext(ctx, types.UserID(setContextUser), types.DatasetID(setContextDataset), gojson.RawMessage(data), ts); serr != nil {
		return serr
	}

	if jsonOutput {
		printJSON(map[string]any{
			"user":    setContextUser,
			"dataset": setContextDataset,
			"ts":      ts,
		})
	} else {
		fmt.Printf("Context set for %s/%s\n", setContextUser, setContextDataset)
	}
	return nil
}

func init() {
	materializeCmd.Flags().StringVarP(&materializeUser, "user", "u", "", "User to materialize the view for")
	materializeCmd.MarkFlagRequired("user")
	materializeCmd.Flags().StringVarP(&materializeDataset, "dataset", "d", "", "Dataset to materialize")
	materializeCmd.MarkFlagRequired("dataset")

	getViewCmd.Flags().StringVarP(&getViewUser, "user", "u", "", "User whose view to read")
	getViewCmd.MarkFlagRequired("user")
	getViewCmd.Flags().StringVarP(&getViewDataset, "dataset", "d", "", "Dataset the view was materialized from")
	getViewCmd.MarkFlagRequired("dataset")
	getViewCmd.Flags().StringVar(&getViewVersion, "version", "", "Dataset version (defaults to the last materialized version)")
	getViewCmd.Flags().Int64Var(&getViewSince, "since", 0, "Only entries appended at or after this timestamp")
	getViewCmd.Flags().StringVar(&getViewKeyPath, "latest-per-key", "", "Collapse the log to the newest entry per value at this JSON path")

	setContextCmd.Flags().StringP("filename", "f", "", "File containing the context JSON object")
	setContextCmd.MarkFlagRequired("filename")
	setContextCmd.Flags().StringVarP(&setContextUser, "user", "u", "", "User to set the context for")
	setContextCmd.MarkFlagRequired("user")
	setContextCmd.Flags().StringVarP(&setContextDataset, "dataset", "d", "", "Dataset the context applies to")
	setContextCmd.MarkFlagRequired("dataset")
	setContextCmd.Flags().Int64Var(&setContextTs, "ts", 0, "Logical timestamp (defaults to current time)")

	rootCmd.AddCommand(materializeCmd)
	rootCmd.AddCommand(getViewCmd)
	rootCmd.AddCommand(setContextCmd)
}
