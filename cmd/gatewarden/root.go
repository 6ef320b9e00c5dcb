package main

import (
	"time"

	"github.com/spf13/cobra"
)

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatewarden",
		Short:         "Supervising reverse proxy for a loopback gateway process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var serveFlags ServeFlags
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the wrapper: supervisor, admin API, proxy and WebSocket bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveFlags)
		},
	}
	serveCmd.Flags().StringVarP(&serveFlags.ConfigPath, "config", "c", "gatewarden.toml", "path to TOML config")
	root.AddCommand(serveCmd)

	var apiFlags APIFlags
	addAPIFlags := func(cmd *cobra.Command) *cobra.Command {
		cmd.Flags().StringVar(&apiFlags.APIUrl, "api", "http://127.0.0.1:9090/api", "daemon admin API base URL")
		cmd.Flags().StringVar(&apiFlags.Token, "token", "", "admin bearer token")
		cmd.Flags().DurationVar(&apiFlags.APITimeout, "timeout", 10*time.Second, "request timeout")
		cmd.Flags().BoolVar(&apiFlags.Insecure, "insecure", false, "skip TLS verification")
		return cmd
	}

	root.AddCommand(addAPIFlags(&cobra.Command{
		Use:   "status",
		Short: "Print the supervisor health snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(apiFlags)
		},
	}))
	root.AddCommand(addAPIFlags(&cobra.Command{
		Use:   "start",
		Short: "Ensure the gateway process is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(apiFlags)
		},
	}))
	root.AddCommand(addAPIFlags(&cobra.Command{
		Use:   "restart",
		Short: "Clear failure state and restart the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestart(apiFlags)
		},
	}))
	root.AddCommand(addAPIFlags(&cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop the gateway without restarting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(apiFlags)
		},
	}))
	root.AddCommand(addAPIFlags(&cobra.Command{
		Use:   "reset-circuit",
		Short: "Clear circuit-breaker and crash-tracking state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResetCircuit(apiFlags)
		},
	}))

	var execFlags ExecFlags
	execCmd := &cobra.Command{
		Use:   "exec -- command [args...]",
		Short: "Run a one-off diagnostic command with captured output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(execFlags, args)
		},
	}
	execCmd.Flags().StringVar(&execFlags.WorkDir, "workdir", "", "working directory")
	execCmd.Flags().StringArrayVar(&execFlags.Env, "env", nil, "extra K=V environment entries")
	execCmd.Flags().DurationVar(&execFlags.Timeout, "timeout", 0, "kill the command after this duration")
	root.AddCommand(execCmd)

	return root
}
