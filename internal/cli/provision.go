package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/mirror"
	"github.com/edgestore/edgestore/pkg/types"
)

var statusDataset string

// provisionCmd represents the provision command
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the storage schema and shared tables",
	Long: `Create the storage schema, shared tables and indexes. The command is
idempotent: running it against an already provisioned store is a no-op.

Example:
  edgestore provision --config edgestore.conf`,
	RunE: runProvision,
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx, done, err := connect("")
	if err != nil {
		return err
	}
	defer done()

	if err := db.DB(ctx).Provision(ctx); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]any{"provisioned": true})
	} else {
		fmt.Println("Storage provisioned")
	}
	return nil
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report store readiness and dataset state",
	Long: `Report whether the store is provisioned. With --dataset, also report
the latest published version of the dataset and its row count.

Example:
  edgestore status
  edgestore status --dataset products`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, done, err := connect("")
	if err != nil {
		return err
	}
	defer done()

	provisioned, dberr := db.DB(ctx).IsProvisioned(ctx)
	if dberr != nil {
		return dberr
	}

	result := map[string]any{"provisioned": provisioned}
	if provisioned && statusDataset != "" {
		latest, lerr := mirror.GetLatestVersion(ctx, types.DatasetID(statusDataset))
		if lerr != nil {
			return lerr
		}
		count, cerr := mirror.CountRows(ctx, types.DatasetID(statusDataset), latest.Version)
		if cerr != nil {
			return cerr
		}
		result["dataset"] = statusDataset
		result["latest_version"] = latest.Version
		result["published_at"] = latest.Ts
		result["rows"] = count
	}

	if jsonOutput {
		printJSON(result)
		return nil
	}
	if provisioned {
		fmt.Println("Store is provisioned")
	} else {
		fmt.Println("Store is not provisioned")
	}
	if v, ok := result["latest_version"]; ok {
		fmt.Printf("Dataset:        %s\n", statusDataset)
		fmt.Printf("Latest version: %s\n", v)
		fmt.Printf("Rows:           %d\n", result["rows"])
	}
	return nil
}

func init() {
	statusCmd.Flags().StringVarP(&statusDataset, "dataset", "d", "", "Dataset to report the latest version for")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(statusCmd)
}
