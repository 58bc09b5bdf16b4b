// Package cli implements the edgestore operator tool. It drives the store
// library directly over the configured storage connection; there is no
// network surface in between.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgestore/edgestore/internal/common/logtrace"
	"github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/internal/edgesrv/notify"
	"github.com/edgestore/edgestore/pkg/types"
)

var (
	// Global flags
	configFile string
	jsonOutput bool

	// Publisher installed by preRun when Redis fan-out is configured
	redisPublisher *notify.RedisPublisher
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "edgestore",
	Short: "edgestore is an operator tool for the edge document store",
	Long: `edgestore is an operator tool for the edge document store.
It provisions storage, publishes dataset versions, materializes per-user
views, and inspects tenant tables.`,
	PersistentPreRunE:  preRunHandlePersistents,
	PersistentPostRunE: postRunHandlePersistents,
}

func init() {
	logtrace.InitLogger()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file to override defaults")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(newVersionCmd())
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	if err := config.LoadConfig(configFile); err != nil {
		return err
	}
	log.Debug().Str("server", config.Config().ServerName).Str("config_file", configFile).Msg("configuration loaded")
	if config.Config().Redis.Enabled {
		p, err := notify.NewRedisPublisher(cmd.Context(), notify.RedisOptions{
			Addr:          config.Config().Redis.Addr,
			Password:      config.Config().Redis.Password,
			DB:            config.Config().Redis.DB,
			ChannelPrefix: config.Config().Redis.ChannelPrefix,
			DialTimeout:   config.Config().RedisDialTimeout(),
			LatestTTL:     config.Config().LatestTTL(),
		})
		if err != nil {
			return err
		}
		redisPublisher = p
		notify.SetPublisher(p)
	}
	return nil
}

func postRunHandlePersistents(cmd *cobra.Command, args []string) error {
	if redisPublisher != nil {
		notify.SetPublisher(nil)
		_ = redisPublisher.Close()
		redisPublisher = nil
	}
	return nil
}

// connect binds a scoped storage connection to a fresh context. Every
// invocation gets a request id so log lines from one command correlate.
// The returned cleanup must run when the command finishes.
func connect(user string) (context.Context, func(), error) {
	reqID := edgecommon.NewRequestId()
	logger := log.Logger.With().Str("request_id", reqID).Logger()
	ctx := logger.WithContext(context.Background())
	ctx = edgecommon.SetRequestIdInContext(ctx, reqID)
	if user != "" {
		ctx = edgecommon.SetUserIdInContext(ctx, types.UserID(user))
	}
	ctx = db.ConnCtx(ctx)
	conn := db.DB(ctx)
	if conn == nil {
		return nil, nil, fmt.Errorf("unable to connect to storage")
	}
	return ctx, func() { conn.Close(ctx) }, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of edgestore",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{"version": "v0.1.0"})
			} else {
				cmd.Println("edgestore v0.1.0")
			}
		},
	}
}

// printJSON prints the given value as indented JSON to stdout
func printJSON(data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}
