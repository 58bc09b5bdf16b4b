package cli

import (
	gojson "encoding/json"
	"fmt"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/edgestore/edgestore/internal/edgesrv/userdb"
	"github.com/edgestore/edgestore/pkg/types"
)

var (
	// Table command flags
	tableUser string

	createTablePkPath string
	createTableTsPath string

	createIndexColumn string
	createIndexPath   string
	createIndexType   string

	upsertTable string
)

// createTableCmd represents the create-table command
var createTableCmd = &cobra.Command{
	Use:   "create-table NAME",
	Short: "Register a document table for a user",
	Long: `Register a document table for a user. Documents are keyed by the JSON
path given with --pk; their logical timestamp is read from --ts-path when a
document carries one.

Example:
  edgestore create-table orders -u alice --pk '$.order_id'
  edgestore create-table orders -u alice --pk '$.order_id' --ts-path '$.updated_at'`,
	Args: cobra.ExactArgs(1),
	RunE: createUserTable,
}

func createUserTable(cmd *cobra.Command, args []string) error {
	ctx, done, err := connect(tableUser)
	if err != nil {
		return err
	}
	defer done()

	table, terr := userdb.CreateTable(ctx, types.UserID(tableUser), args[0], "", createTablePkPath, createTableTsPath)
	if terr != nil {
		return terr
	}

	if jsonOutput {
		printJSON(map[string]any{
			"table":   table.TableName,
			"pk_path": table.PkPath,
			"ts_path": table.TsPath,
		})
	} else {
		fmt.Printf("Created table %s (pk %s)\n", table.TableName, table.PkPath)
	}
	return nil
}

// createIndexCmd represents the create-index command
var createIndexCmd = &cobra.Command{
	Use:   "create-index TABLE",
	Short: "Declare a typed index column on a user table",
	Long: `Declare a typed index column over a JSON path of a user table. Existing
documents are backfilled; a document whose value does not match the declared
type stops the backfill and is reported.

Example:
  edgestore create-index orders -u alice -c status --path '$.status' --type string`,
	Args: cobra.ExactArgs(1),
	RunE: createTableIndex,
}

func createTableIndex(cmd *cobra.Command, args []string) error {
	colType := types.ColumnTypeFromString(createIndexType)
	if !colType.IsValid() {
		return fmt.Errorf("unknown column type %q", createIndexType)
	}

	ctx, done, err := connect(tableUser)
	if err != nil {
		return err
	}
	defer done()

	if ierr := userdb.CreateIndex(ctx, types.UserID(tableUser), args[0], createIndexColumn, createIndexPath, colType); ierr != nil {
		return ierr
	}

	if jsonOutput {
		printJSON(map[string]any{
			"table":  args[0],
			"column": createIndexColumn,
			"path":   createIndexPath,
			"type":   string(colType),
		})
	} else {
		fmt.Printf("Created index %s on %s\n", createIndexColumn, args[0])
	}
	return nil
}

// upsertCmd represents the upsert command
var upsertCmd = &cobra.Command{
	Use:   "upsert -f FILENAME",
	Short: "Upsert documents into a user table",
	Long: `Upsert documents into a user table. The file may contain a single JSON
object or an array of objects. Documents older than the stored copy (by the
table's timestamp path) are skipped.

Example:
  edgestore upsert -u alice -t orders -f order.json`,
	RunE: upsertDocuments,
}

func upsertDocuments(cmd *cobra.Command, args []string) error {
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

	var items []gojson.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		items = []gojson.RawMessage{gojson.RawMessage(data)}
	}

	ctx, done, cerr := connect(tableUser)
	if cerr != nil {
		return cerr
	}
	defer done()

	result, uerr := userdb.UpsertBatch(ctx, types.UserID(tableUser), upsertTable, items)
	if uerr != nil {
		return uerr
	}

	if jsonOutput {
		printJSON(map[string]any{
			"table":   upsertTable,
			"applied": result.Applied,
			"stale":   result.Stale,
		})
	} else {
		fmt.Printf("Upserted %d documents (%d stale)\n", result.Applied, result.Stale)
	}
	return nil
}

// dropTableCmd represents the drop-table command
var dropTableCmd = &cobra.Command{
	Use:   "drop-table TABLE",
	Short: "Drop a user table, its documents and its indexes",
	Args:  cobra.ExactArgs(1),
	RunE:  dropUserTable,
}

func dropUserTable(cmd *cobra.Command, args []string) error {
	ctx, done, err := connect(tableUser)
	if err != nil {
		return err
	}
	defer done()

	if derr := userdb.DropTable(ctx, types.UserID(tableUser), args[0]); derr != nil {
		return derr
	}

	if jsonOutput {
		printJSON(map[string]any{"table": args[0], "dropped": true})
	} else {
		fmt.Printf("Dropped table %s\n", args[0])
	}
	return nil
}

// tablesCmd represents the tables command
var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List a user's tables",
	RunE:  listUserTables,
}

func listUserTables(cmd *cobra.Command, args []string) error {
	ctx, done, err := connect(tableUser)
	if err != nil {
		return err
	}
	defer done()

	tables, terr := userdb.ListTables(ctx, types.UserID(tableUser))
	if terr != nil {
		return terr
	}

	if jsonOutput {
		out := make([]map[string]any, 0, len(tables))
		for _, t := range tables {
			out = append(out, map[string]any{
				"table":   t.TableName,
				"pk_path": t.PkPath,
				"ts_path": t.TsPath,
			})
		}
		printJSON(out)
		return nil
	}
	for _, t := range tables {
		fmt.Printf("%s\tpk=%s\tts=%s\n", t.TableName, t.PkPath, t.TsPath)
	}
	return nil
}

func init() {
	createTableCmd.Flags().StringVarP(&tableUser, "user", "u", "", "Owning user")
	createTableCmd.MarkFlagRequired("user")
	createTableCmd.Flags().StringVar(&createTablePkPath, "pk", "", "JSON path of the primary key")
	createTableCmd.MarkFlagRequired("pk")
	createTableCmd.Flags().StringVar(&createTableTsPath, "ts-path", "", "JSON path of the document timestamp (defaults to $.updated_at)")

	createIndexCmd.Flags().StringVarP(&tableUser, "user", "u", "", "Owning user")
	createIndexCmd.MarkFlagRequired("user")
	createIndexCmd.Flags().StringVarP(&createIndexColumn, "column", "c", "", "Index column name")
	createIndexCmd.MarkFlagRequired("column")
	createIndexCmd.Flags().StringVar(&createIndexPath, "path", "", "JSON path the column is extracted from")
	createIndexCmd.MarkFlagRequired("path")
	createIndexCmd.Flags().StringVar(&createIndexType, "type", "", "Column type: string, number, integer, datetime, boolean")
	createIndexCmd.MarkFlagRequired("type")

	upsertCmd.Flags().StringP("filename", "f", "", "File containing a JSON object or array of objects")
	upsertCmd.MarkFlagRequired("filename")
	upsertCmd.Flags().StringVarP(&tableUser, "user", "u", "", "Owning user")
	upsertCmd.MarkFlagRequired("user")
	upsertCmd.Flags().StringVarP(&upsertTable, "table", "t", "", "Table to upsert into")
	upsertCmd.MarkFlagRequired("table")

	dropTableCmd.Flags().StringVarP(&tableUser, "user", "u", "", "Owning user")
	dropTableCmd.MarkFlagRequired("user")

	tablesCmd.Flags().StringVarP(&tableUser, "user", "u", "", "Owning user")
	tablesCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(createTableCmd)
	rootCmd.AddCommand(createIndexCmd)
	rootCmd.AddCommand(upsertCmd)
	rootCmd.AddCommand(dropTableCmd)
	rootCmd.AddCommand(tablesCmd)
}
