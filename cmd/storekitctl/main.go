// storekitctl inspects and repairs a dual-write store from the command line.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/integrity"
	"github.com/weavehq/go-store-kit/logging"
	"github.com/weavehq/go-store-kit/storage/local"
	"github.com/weavehq/go-store-kit/storage/sqlite"
	"github.com/weavehq/go-store-kit/storekit"
)

var (
	configPath string
	localDir   string
	remoteDSN  string
)

func main() {
	root := &cobra.Command{
		Use:           "storekitctl",
		Short:         "Inspect and repair a dual-write store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "engine config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&localDir, "local", "./data", "local store directory")
	root.PersistentFlags().StringVar(&remoteDSN, "remote", "", "remote SQLite data source (enables dual-write)")

	root.AddCommand(newAuditCmd(), newStatusCmd(), newFlushCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadEngineConfig() (storekit.Config, error) {
	if configPath == "" {
		return storekit.DefaultConfig(), nil
	}
	return storekit.LoadConfig(configPath)
}

func openAdapters() (storekit.Adapter, storekit.Adapter, error) {
	localStore, err := local.New(local.Config{Root: localDir})
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}

	if remoteDSN == "" {
		return localStore, nil, nil
	}

	remoteStore, err := sqlite.NewWithDataSource(remoteDSN)
	if err != nil {
		localStore.Close()
		return nil, nil, fmt.Errorf("open remote store: %w", err)
	}
	return localStore, remoteStore, nil
}

func openManager() (*storekit.Manager, error) {
	cfg, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}

	localStore, remoteStore, err := openAdapters()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.FromEnv(), os.Stderr)

	opts := []storekit.Option{
		storekit.WithConfig(cfg),
		storekit.WithLogger(logger),
	}
	if remoteStore != nil {
		opts = append(opts, storekit.WithRemote(remoteStore))
	}
	return storekit.New(localStore, opts...)
}

func newAuditCmd() *cobra.Command {
	var deep bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare local and remote data, exit 1 on mismatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if remoteDSN == "" {
				return fmt.Errorf("audit requires --remote")
			}

			localStore, remoteStore, err := openAdapters()
			if err != nil {
				return err
			}
			defer localStore.Close()
			defer remoteStore.Close()

			auditor := integrity.New(localStore, remoteStore, nil, integrity.WithDeep(deep))
			report, err := auditor.Check(cmd.Context())
			if err != nil && !storeErrors.IsConflict(err) {
				return err
			}

			fmt.Print(integrity.Format(report))
			if err != nil {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "compare field by field instead of by digest")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print replication status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager()
			if err != nil {
				return err
			}
			defer manager.Close()

			data, err := json.MarshalIndent(manager.SyncStatus(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Drain the pending remote-write queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if remoteDSN == "" {
				return fmt.Errorf("flush requires --remote")
			}

			manager, err := openManager()
			if err != nil {
				return err
			}
			defer manager.Close()

			if err := manager.Flush(cmd.Context()); err != nil {
				return err
			}

			status := manager.SyncStatus()
			fmt.Printf("queue drained, %d entries remaining\n", status.Stats.QueueSize)
			return nil
		},
	}
}
