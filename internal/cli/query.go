package cli

import (
	gojson "encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgestore/edgestore/internal/edgesrv/userdb"
	"github.com/edgestore/edgestore/pkg/types"
)

var (
	// Query command flags
	queryUser   string
	queryTable  string
	queryColumn string
	queryOp     string
	queryValue  string
	queryLimit  int
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query documents in a user table by column",
	Long: `Query documents in a user table. Indexed columns are served from their
auxiliary tables; unindexed columns fall back to a full scan of the document
table. The value is parsed as JSON, so numbers and booleans compare by type;
anything that does not parse is treated as a string.

Example:
  edgestore query -u alice -t orders -c status --value '"open"'
  edgestore query -u alice -t orders -c total --op gt --value 100 --limit 10`,
	RunE: queryUserTable,
}

func queryUserTable(cmd *cobra.Command, args []string) error {
	if queryValue == "" {
		return fmt.Errorf("value is required")
	}
	var value any
	if err := gojson.Unmarshal([]byte(queryValue), &value); err != nil {
		value = queryValue
	}

	ctx, done, err := connect(queryUser)
	if err != nil {
		return err
	}
	defer done()

	result, qerr := userdb.Query(ctx, types.UserID(queryUser), queryTable, queryColumn, userdb.Predicate{
		Op:    queryOp,
		Value: value,
		Limit: queryLimit,
	})
	if qerr != nil {
		return qerr
	}

	if jsonOutput {
		docs := make([]map[string]any, 0, len(result.Docs))
		for _, doc := range result.Docs {
			docs = append(docs, map[string]any{
				"pk":   doc.Pk,
				"ts":   doc.Ts,
				"item": gojson.RawMessage(doc.Item.Bytes),
			})
		}
		printJSON(map[string]any{
			"docs":    docs,
			"indexed": result.Indexed,
			"scanned": result.Scanned,
		})
		return nil
	}
	for _, doc := range result.Docs {
		fmt.Println(string(doc.Item.Bytes))
	}
	path := "index"
	if !result.Indexed {
		path = "full scan"
	}
	fmt.Printf("%d documents (%s, %d scanned)\n", len(result.Docs), path, result.Scanned)
	return nil
}

func init() {
	queryCmd.Flags().StringVarP(&queryUser, "user", "u", "", "User whose table to query")
	queryCmd.MarkFlagRequired("user")
	queryCmd.Flags().StringVarP(&queryTable, "table", "t", "", "Table to query")
	queryCmd.MarkFlagRequired("table")
	queryCmd.Flags().StringVarP(&queryColumn, "column", "c", "", "Column to filter on")
	queryCmd.MarkFlagRequired("column")
	queryCmd.Flags().StringVar(&queryOp, "op", "eq", "Comparison operator: eq, gt, ge, lt, le")
	queryCmd.Flags().StringVar(&queryValue, "value", "", "Value to compare against (parsed as JSON)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Maximum number of documents to return")

	rootCmd.AddCommand(queryCmd)
}
