package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/container"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the store container",
	Long: `Manage the Docker container that runs a redis or postgres store.

Only used when store.backend is redis or postgres. Data is persisted to
~/.scriptorium/<backend>/ and survives container removal.

Examples:
  scriptorium store start   # Start the store container
  scriptorium store stop    # Stop the container (data preserved)
  scriptorium store status  # Check container status
  scriptorium store logs    # View container logs`,
}

// withContainer runs fn against the manager for the configured backend.
func withContainer(fn func(*container.Manager) error) error {
	cfgMgr, _, h, err := setup()
	if err != nil {
		return err
	}
	mgr, _, err := newContainerManager(cfgMgr.Get().Store, h)
	if err != nil {
		return err
	}
	defer mgr.Close()
	return fn(mgr)
}

var storeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the store container",
	Long: `Start the store container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(mgr *container.Manager) error {
			fmt.Printf("Starting %s...\n", mgr.Name())
			if err := mgr.Start(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start store: %w", err)
			}
			fmt.Printf("Store is running on localhost:%s\n", mgr.HostPort())
			return nil
		})
	},
}

var storeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the store container",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(mgr *container.Manager) error {
			fmt.Printf("Stopping %s...\n", mgr.Name())
			if err := mgr.Stop(cmd.Context()); err != nil {
				return fmt.Errorf("failed to stop store: %w", err)
			}
			fmt.Println("Store stopped")
			return nil
		})
	},
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(mgr *container.Manager) error {
			status, err := mgr.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			switch status {
			case container.StatusRunning:
				fmt.Printf("Status: %s\n", status)
				fmt.Printf("Port:   %s\n", mgr.HostPort())
				if err := mgr.ValidateExisting(cmd.Context()); err != nil {
					fmt.Printf("Config: mismatch (%v)\n", err)
				}
				if err := mgr.WaitReady(cmd.Context(), 2*time.Second); err != nil {
					fmt.Printf("Health: unhealthy (%v)\n", err)
				} else {
					fmt.Println("Health: healthy")
				}
			case container.StatusStopped:
				fmt.Printf("Status: %s (use 'scriptorium store start' to start)\n", status)
			case container.StatusNotFound:
				fmt.Printf("Status: %s (use 'scriptorium store start' to create)\n", status)
			default:
				fmt.Printf("Status: %s\n", status)
			}
			return nil
		})
	},
}

var logsTail string

var storeLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show store container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(mgr *container.Manager) error {
			logs, err := mgr.Logs(cmd.Context(), logsTail)
			if err != nil {
				return fmt.Errorf("failed to get logs: %w", err)
			}
			fmt.Print(logs)
			return nil
		})
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the store container",
	Long:  `Stop and remove the store container. The data directory is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(mgr *container.Manager) error {
			fmt.Printf("Removing %s...\n", mgr.Name())
			if err := mgr.Remove(cmd.Context()); err != nil {
				return fmt.Errorf("failed to remove container: %w", err)
			}
			fmt.Println("Store container removed (data preserved)")
			return nil
		})
	},
}

var storeWaitTimeout time.Duration

var storeWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the store to accept connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(mgr *container.Manager) error {
			fmt.Printf("Waiting for %s (timeout: %s)...\n", mgr.Name(), storeWaitTimeout)
			if err := mgr.WaitReady(cmd.Context(), storeWaitTimeout); err != nil {
				return fmt.Errorf("store not ready: %w", err)
			}
			fmt.Println("Store is ready")
			return nil
		})
	},
}

func init() {
	storeCmd.AddCommand(storeStartCmd)
	storeCmd.AddCommand(storeStopCmd)
	storeCmd.AddCommand(storeStatusCmd)
	storeCmd.AddCommand(storeLogsCmd)
	storeCmd.AddCommand(storeRemoveCmd)
	storeCmd.AddCommand(storeWaitCmd)

	storeLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	storeWaitCmd.Flags().DurationVar(&storeWaitTimeout, "timeout", 30*time.Second, "Timeout waiting for the store")

	rootCmd.AddCommand(storeCmd)
}
