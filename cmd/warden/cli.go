package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/gateway"
	"github.com/openclaw/warden/pkg/health"
	"github.com/openclaw/warden/pkg/logger"
	"github.com/openclaw/warden/pkg/memory"
	"github.com/openclaw/warden/pkg/monitor"
	"github.com/openclaw/warden/pkg/notify"
	"github.com/openclaw/warden/pkg/quota"
	"github.com/openclaw/warden/pkg/runner"
	"github.com/openclaw/warden/pkg/sessions"
	"github.com/openclaw/warden/pkg/state"
)

var (
	flagConfig string
	flagDebug  bool
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "warden",
		Short: "Operational watchdog for a personal AI agent gateway",
		Long: strings.TrimSpace(`warden keeps a personal agent gateway healthy.

It watches session context budgets and rolls sessions over before they
overflow, probes the gateway and its relay channels with a bounded
restart policy, alarms on low API quota, and consolidates long-term
memory on a maintenance schedule.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				logger.SetLevel(logger.DEBUG)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default ~/.warden/config.json)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	root.AddCommand(newMonitorCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newHealthCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newSessionCommand())
	root.AddCommand(newMemoryCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".warden", "config.json")
	}
	return config.LoadConfig(path)
}

// buildStack wires the full monitor from config. The cleanup func closes
// the memory store.
func buildStack(cfg *config.Config) (*monitor.Monitor, func(), error) {
	if err := logger.SetLogFile(filepath.Join(cfg.LogsDir(), "warden.log")); err != nil {
		logger.WarnCF("cli", "log file unavailable, stderr only", map[string]interface{}{"error": err.Error()})
	}

	execRunner := &runner.ExecRunner{}
	gw := gateway.NewClient(cfg, execRunner)

	mem, err := memory.NewManager(cfg)
	if err != nil {
		return nil, nil, err
	}

	sessMgr := sessions.NewManager(cfg)

	notifiers := []notify.Notifier{notify.NewGatewayNotifier(gw)}
	if discord, err := notify.NewDiscordNotifier(cfg.Notify.Discord); err == nil {
		notifiers = append(notifiers, discord)
	}

	m := monitor.New(
		cfg,
		state.NewStore(cfg.StatePath()),
		sessions.NewSampler(cfg),
		health.NewProber(cfg, gw),
		monitor.NewMemorySummarizer(cfg, mem),
		monitor.NewManagedRollover(sessMgr),
		monitor.NewStandardMaintainer(cfg, mem, gw),
		quota.NewTracker(cfg),
		notify.NewChain(notifiers...),
	)
	m.SetFixRunner(execRunner)

	cleanup := func() {
		_ = mem.Close()
		logger.Close()
	}
	return m, cleanup, nil
}

func newMonitorCommand() *cobra.Command {
	var (
		once           bool
		interval       int
		threshold      float64
		gatewayTimeout int
		jsonOut        bool
	)

	cmd := &cobra.Command{
		Use:     "monitor",
		Short:   "Run the watchdog loop (or a single check with --once)",
		Example: "  warden monitor\n  warden monitor --once --json\n  warden monitor --interval 60 --threshold 75",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Monitor.Interval = interval
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Monitor.ContextThreshold = threshold
			}
			if cmd.Flags().Changed("gateway-timeout") {
				cfg.Monitor.GatewayTimeout = gatewayTimeout
			}

			m, cleanup, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				result, err := m.RunCycle(ctx)
				if err != nil {
					return err
				}
				return printCycleResult(result, jsonOut)
			}

			if err := m.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single check and exit")
	cmd.Flags().IntVar(&interval, "interval", 180, "Seconds between checks")
	cmd.Flags().Float64Var(&threshold, "threshold", 80, "Context usage percent that triggers rollover")
	cmd.Flags().IntVar(&gatewayTimeout, "gateway-timeout", 180, "Seconds of gateway downtime before restart")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output (with --once)")
	return cmd
}

func printCycleResult(result *monitor.CycleResult, jsonOut bool) error {
	if jsonOut {
		out := map[string]interface{}{
			"gateway":         result.Gateway.Health.Status.String(),
			"gateway_action":  result.Gateway.Action.String(),
			"channel":         result.Channel.Health.Status.String(),
			"quota_reached":   result.Quota.ThresholdReached,
			"quota_remaining": result.Quota.Remaining,
			"rolled_over":     result.RolledOver,
			"maintenance_ran": result.MaintenanceRan,
		}
		if result.Report != nil {
			out["sessions"] = result.Report.Sessions
			out["overall_usage"] = result.Report.OverallUsage
		}
		if result.NewSessionID != "" {
			out["new_session"] = result.NewSessionID
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	fmt.Printf("Gateway:   %s (%s)\n", result.Gateway.Health.Status, result.Gateway.Action)
	fmt.Printf("Channel:   %s\n", result.Channel.Health.Status)
	if result.Report != nil {
		fmt.Printf("Sessions:  %d tracked, highest usage %.1f%%\n",
			len(result.Report.Sessions), result.Report.OverallUsage)
	}
	fmt.Printf("Quota:     %d units remaining\n", result.Quota.Remaining)
	if result.RolledOver {
		fmt.Printf("Rollover:  switched to session %s\n", result.NewSessionID)
	}
	if result.MaintenanceRan {
		fmt.Println("Maintenance pass ran")
	}
	return nil
}

func newStatusCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show persisted watchdog state",
		Example: "  warden status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st := state.NewStore(cfg.StatePath()).Load()

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(st)
			}

			fmt.Printf("Checks run:         %d\n", st.CheckCount)
			fmt.Printf("Sessions rolled:    %d\n", len(st.ProcessedSessions))
			fmt.Printf("Restart attempts:   %d\n", st.RestartAttempts)
			fmt.Printf("Escalated:          %v\n", st.Escalated)
			fmt.Printf("Quota alarm:        %v\n", st.QuotaAlarmed)
			if st.LastRestartAt != 0 {
				fmt.Printf("Last restart:       %s\n", time.UnixMilli(st.LastRestartAt).Format(time.RFC3339))
			}
			if st.LastMaintenanceAt != 0 {
				fmt.Printf("Last maintenance:   %s\n", time.UnixMilli(st.LastMaintenanceAt).Format(time.RFC3339))
			}
			if st.DowntimeStart != 0 {
				fmt.Printf("Gateway down since: %s\n", time.UnixMilli(st.DowntimeStart).Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

func newHealthCommand() *cobra.Command {
	var (
		quick   bool
		jsonOut bool
		report  bool
	)

	cmd := &cobra.Command{
		Use:     "health",
		Short:   "Run system health checks",
		Example: "  warden health\n  warden health --quick\n  warden health --report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reporter := health.NewReporter(cfg)

			var rep *health.Report
			if quick {
				rep = reporter.Quick(cmd.Context())
			} else {
				rep = reporter.Full(cmd.Context())
			}

			if report {
				path := filepath.Join(cfg.StateDirPath(), "health_report.json")
				if err := reporter.WriteFile(rep, path); err != nil {
					return err
				}
				fmt.Printf("Report written to %s\n", path)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(rep)
			}

			fmt.Printf("Overall: %s\n\n", strings.ToUpper(rep.Overall.String()))
			for _, c := range rep.Checks {
				fmt.Printf("  %-16s %s\n", c.Name, c.Status)
				for k, v := range c.Details {
					fmt.Printf("      %s: %v\n", k, v)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&quick, "quick", false, "Only check the gateway process")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	cmd.Flags().BoolVar(&report, "report", false, "Write the report file")
	return cmd
}

func newGatewayCommand() *cobra.Command {
	gwRoot := &cobra.Command{
		Use:   "gateway",
		Short: "Probe or restart the gateway",
	}

	gwRoot.AddCommand(&cobra.Command{
		Use:     "status",
		Short:   "Probe gateway health once",
		Example: "  warden gateway status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gw := gateway.NewClient(cfg, &runner.ExecRunner{})
			h := gw.Health(cmd.Context())
			fmt.Printf("Gateway: %s", h.Status)
			if h.ResponseTime > 0 {
				fmt.Printf(" (%dms)", h.ResponseTime.Milliseconds())
			}
			fmt.Println()
			if h.Message != "" {
				fmt.Printf("  %s\n", h.Message)
			}
			return nil
		},
	})

	gwRoot.AddCommand(&cobra.Command{
		Use:     "restart",
		Short:   "Restart the gateway now",
		Example: "  warden gateway restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gw := gateway.NewClient(cfg, &runner.ExecRunner{})
			if err := gw.Restart(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Gateway restart issued")
			return nil
		},
	})

	return gwRoot
}

func newSessionCommand() *cobra.Command {
	sessRoot := &cobra.Command{
		Use:   "session",
		Short: "Manage rollover sessions",
	}

	var jsonOut bool
	sessRoot.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON output")

	sessRoot.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List sessions, newest first",
		Example: "  warden session list",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return err
			}
			list, err := mgr.List()
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(list)
			}
			fmt.Printf("Sessions (%d):\n", len(list))
			for _, s := range list {
				fmt.Printf("  %s | topic %s | %s | %s\n",
					s.ID, s.Topic, time.UnixMilli(s.CreatedAt).Format("2006-01-02"), s.Status)
			}
			return nil
		},
	})

	var topic, parent string
	createCmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a session (optionally inheriting a parent's key points)",
		Example: "  warden session create --topic 464 --parent ab12cd34",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return err
			}
			sess, err := mgr.Create(topic, parent)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(sess)
			}
			fmt.Printf("Created session %s (topic %s, %d inherited key points)\n",
				sess.ID, sess.Topic, len(sess.InheritedContext))
			return nil
		},
	}
	createCmd.Flags().StringVar(&topic, "topic", "", "Topic id for the session")
	createCmd.Flags().StringVar(&parent, "parent", "", "Parent session to inherit from")
	sessRoot.AddCommand(createCmd)

	sessRoot.AddCommand(&cobra.Command{
		Use:     "switch <session-id>",
		Short:   "Switch the current session",
		Args:    cobra.ExactArgs(1),
		Example: "  warden session switch ab12cd34",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return err
			}
			sess, err := mgr.Switch(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Switched to session %s (topic %s)\n", sess.ID, sess.Topic)
			return nil
		},
	})

	sessRoot.AddCommand(&cobra.Command{
		Use:     "info <session-id>",
		Short:   "Show session details",
		Args:    cobra.ExactArgs(1),
		Example: "  warden session info ab12cd34",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return err
			}
			sess, err := mgr.Get(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(sess)
			}
			fmt.Printf("Session %s\n", sess.ID)
			fmt.Printf("  Topic:      %s\n", sess.Topic)
			fmt.Printf("  Status:     %s\n", sess.Status)
			fmt.Printf("  Created:    %s\n", time.UnixMilli(sess.CreatedAt).Format(time.RFC3339))
			if sess.Parent != "" {
				fmt.Printf("  Parent:     %s\n", sess.Parent)
			}
			fmt.Printf("  Key points: %d\n", len(sess.KeyPoints))
			return nil
		},
	})

	sessRoot.AddCommand(&cobra.Command{
		Use:     "current",
		Short:   "Show the current session pointer",
		Example: "  warden session current",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return err
			}
			cur, err := mgr.GetCurrent()
			if err != nil {
				return err
			}
			if cur == nil {
				fmt.Println("No current session")
				return nil
			}
			fmt.Printf("Current session: %s (set %s)\n",
				cur.SessionID, time.UnixMilli(cur.SetAt).Format(time.RFC3339))
			return nil
		},
	})

	return sessRoot
}

func sessionManager() (*sessions.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sessions.NewManager(cfg), nil
}

func newMemoryCommand() *cobra.Command {
	memRoot := &cobra.Command{
		Use:   "memory",
		Short: "Manage long-term memory",
	}

	memRoot.AddCommand(&cobra.Command{
		Use:     "consolidate",
		Short:   "Fold note files into the memory store",
		Example: "  warden memory consolidate",
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := memoryManager()
			if err != nil {
				return err
			}
			defer mem.Close()

			result, err := mem.Consolidate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Consolidated %d files, %d memories saved\n",
				result.FilesScanned, result.MemoriesSaved)
			return nil
		},
	})

	var memType, content, tags string
	saveCmd := &cobra.Command{
		Use:     "save",
		Short:   "Save one memory",
		Example: `  warden memory save --type decision --content "probe every 3 minutes"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if content == "" {
				return fmt.Errorf("--content is required")
			}
			mem, err := memoryManager()
			if err != nil {
				return err
			}
			defer mem.Close()

			var tagList []string
			if tags != "" {
				tagList = strings.Split(tags, ",")
			}
			kind := memType
			if kind == "" {
				kind = "general"
			}
			id, err := mem.Store().Save(cmd.Context(), kind, content, "", tagList)
			if err != nil {
				return err
			}
			fmt.Printf("Saved memory %s\n", id)
			return nil
		},
	}
	saveCmd.Flags().StringVar(&memType, "type", "", "Memory kind (decision/task/preference/general)")
	saveCmd.Flags().StringVar(&content, "content", "", "Memory content")
	saveCmd.Flags().StringVar(&tags, "tags", "", "Comma-separated tags")
	memRoot.AddCommand(saveCmd)

	var listType string
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List memories, newest first",
		Example: "  warden memory list --type decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := memoryManager()
			if err != nil {
				return err
			}
			defer mem.Close()

			items, err := mem.Store().List(cmd.Context(), listType, 50)
			if err != nil {
				return err
			}
			fmt.Printf("Memories (%d):\n", len(items))
			for _, m := range items {
				fmt.Printf("  [%s] %s\n", m.Kind, preview(m.Content, 70))
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by kind")
	memRoot.AddCommand(listCmd)

	memRoot.AddCommand(&cobra.Command{
		Use:     "search <query>",
		Short:   "Search memory content",
		Args:    cobra.ExactArgs(1),
		Example: "  warden memory search gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := memoryManager()
			if err != nil {
				return err
			}
			defer mem.Close()

			items, err := mem.Store().Search(cmd.Context(), args[0], 20)
			if err != nil {
				return err
			}
			fmt.Printf("Results (%d):\n", len(items))
			for _, m := range items {
				fmt.Printf("  [%s] %s\n", m.Kind, preview(m.Content, 80))
			}
			return nil
		},
	})

	return memRoot
}

func memoryManager() (*memory.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return memory.NewManager(cfg)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  warden version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
