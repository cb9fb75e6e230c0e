package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/harshakreox/ghostqa/internal/domain"
	"github.com/harshakreox/ghostqa/pkg/adapters/catalog/sqlstore"
	"go.uber.org/zap"
)

func registerCommands(root *cobra.Command) {
	root.AddCommand(startCmd())
	root.AddCommand(stopCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(triggerCmd("regression", "Queue a regression run for every project", func(ctx context.Context) (int, error) {
		return newClient().TriggerRegression(ctx)
	}))
	root.AddCommand(triggerCmd("discovery", "Scan the Feature/Project Store for changes now", func(ctx context.Context) (int, error) {
		return newClient().TriggerDiscovery(ctx)
	}))
	root.AddCommand(configCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(catalogCmd())
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().Start(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "orchestrator %s\n", res.State)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	var hard bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the orchestrator, draining pending work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().Stop(cmd.Context(), hard)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "orchestrator %s\n", res.State)
			if res.DrainTimedOut {
				fmt.Fprintln(cmd.OutOrStdout(), "drain timed out; in-flight executions were abandoned")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "abandon in-flight executions")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), st)
			}
			renderStatus(cmd.OutOrStdout(), &st)
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{Use: "queue", Short: "Queue work or list pending requests"}
	q.AddCommand(queueListCmd())
	q.AddCommand(queueFeatureCmd())
	q.AddCommand(queueProjectCmd())
	return q
}

func queueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending requests in dequeue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Queue(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), items)
			}
			renderQueue(cmd.OutOrStdout(), items)
			return nil
		},
	}
}

func queueFeatureCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "feature <project-id> <feature-id>",
		Short: "Queue a feature run (default priority high)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePriorityFlag(priority)
			if err != nil {
				return err
			}
			res, err := newClient().QueueFeature(cmd.Context(), args[0], args[1], p)
			if err != nil {
				return err
			}
			return printQueueResult(cmd, res.RequestID, res.Outcome, res.Priority, res)
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "critical, high, normal, low or background")
	return cmd
}

func queueProjectCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "project <project-id>",
		Short: "Queue a whole-project run (default priority normal)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePriorityFlag(priority)
			if err != nil {
				return err
			}
			res, err := newClient().QueueProject(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			return printQueueResult(cmd, res.RequestID, res.Outcome, res.Priority, res)
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "critical, high, normal, low or background")
	return cmd
}

func printQueueResult(cmd *cobra.Command, id, outcome string, p domain.Priority, raw any) error {
	if viper.GetBool("json") {
		return printJSON(cmd.OutOrStdout(), raw)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (priority %s)\n", outcome, id, p)
	return nil
}

func parsePriorityFlag(s string) (*domain.Priority, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	p, err := domain.ParsePriority(s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func triggerCmd(use, short string, run func(context.Context) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := run(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]int{"queued": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d request(s)\n", n)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Read or update the live config"}
	cfg.AddCommand(configGetCmd())
	cfg.AddCommand(configApplyCmd())
	return cfg
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the live config as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := newClient().Config(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			return printYAML(cmd.OutOrStdout(), cfg)
		},
	}
}

func configApplyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a partial config from a YAML file",
		Long: `Apply a partial config. Only the keys present in the file change, e.g.

  enabled: true
  max_concurrent_executions: 4
  retry_base_delay: 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			patch, err := parsePatch(data)
			if err != nil {
				return err
			}
			cfg, err := newClient().UpdateConfig(cmd.Context(), patch)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			return printYAML(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with the fields to change")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func parsePatch(data []byte) (domain.ConfigPatch, error) {
	var patch domain.ConfigPatch
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&patch); err != nil {
		return domain.ConfigPatch{}, fmt.Errorf("parse config patch: %w", err)
	}
	if patch.Empty() {
		return domain.ConfigPatch{}, fmt.Errorf("config patch sets no fields")
	}
	return patch, nil
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [request-id]",
		Short: "List recent execution records, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if len(args) == 1 {
				rec, err := c.Record(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				renderRecords(cmd.OutOrStdout(), []domain.ExecutionRecord{rec})
				return nil
			}
			recs, err := c.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			renderRecords(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	return cmd
}

func eventsCmd() *cobra.Command {
	var types, requestID string
	var replay int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the live event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := eventsURL(viper.GetString("server"), types, requestID, replay)
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u, nil)
			if err != nil {
				return fmt.Errorf("connect event stream: %w", err)
			}
			defer conn.Close()

			for {
				var ev domain.Event
				if err := conn.ReadJSON(&ev); err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(cmd.OutOrStdout(), ev); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatEvent(ev))
			}
		},
	}
	cmd.Flags().StringVar(&types, "type", "", "comma separated event type prefixes")
	cmd.Flags().StringVar(&requestID, "request-id", "", "only events for this request")
	cmd.Flags().IntVar(&replay, "replay", 0, "first send matching events among the last N")
	return cmd
}

func eventsURL(server, types, requestID string, replay int) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/") + "/api/v1/orchestrator/events/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	if types != "" {
		q.Set("type", types)
	}
	if requestID != "" {
		q.Set("request_id", requestID)
	}
	if replay > 0 {
		q.Set("replay", strconv.Itoa(replay))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func catalogCmd() *cobra.Command {
	var driver, dsn string
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Seed the Feature/Project Store directly",
	}
	cat.PersistentFlags().StringVar(&driver, "driver", sqlstore.DriverSQLite, "sqlite or postgres")
	cat.PersistentFlags().StringVar(&dsn, "dsn", "file:ghostqa.db", "store DSN")

	withStore := func(ctx context.Context, fn func(*sqlstore.Store) error) error {
		store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: driver, DSN: dsn, PingTimeout: 5 * time.Second}, zap.NewNop())
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		return fn(store)
	}

	var name string
	addProject := &cobra.Command{
		Use:   "add-project <project-id>",
		Short: "Create or touch a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(s *sqlstore.Store) error {
				if err := s.UpsertProject(cmd.Context(), args[0], name, time.Now().UTC()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "project %s saved\n", args[0])
				return nil
			})
		},
	}
	addProject.Flags().StringVar(&name, "name", "", "display name")

	addFeature := &cobra.Command{
		Use:   "add-feature <project-id> <feature-id>",
		Short: "Create or touch a feature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(s *sqlstore.Store) error {
				if err := s.UpsertFeature(cmd.Context(), args[0], args[1], name, time.Now().UTC()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "feature %s/%s saved\n", args[0], args[1])
				return nil
			})
		},
	}
	addFeature.Flags().StringVar(&name, "name", "", "display name")

	cat.AddCommand(addProject, addFeature)
	return cat
}
