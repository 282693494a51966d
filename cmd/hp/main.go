package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hookahplus/internal/app"
	"hookahplus/internal/broker"
	"hookahplus/internal/config"
	"hookahplus/internal/domain"
	"hookahplus/internal/engine"
	"hookahplus/internal/engine/auth"
	"hookahplus/internal/repo"
	"hookahplus/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hp",
	Short: "Hookah+ fire session CLI",
	Long: `Hookah+ tracks every hookah from the prep room to the table.
- Session: one hookah order. It moves prep -> delivery -> service -> completed, with recovery and cancelled as side exits.
- Buttons: staff actions (prep_started, delivered, refill_requested, hold, ...). Each button belongs to a role: prep, front, customer or hookah_room.
- Overrides: hold, redo_remix, swap_charcoal, cancel, return_to_prep and resume can be pressed by any role.
- Event log: every accepted press is recorded with the session before and after; view with 'hp session events'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HOOKAHPLUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/hookahplus.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "log engine activity to stderr")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(keyCmd())
}

func sessionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "session",
		Short: "Manage fire sessions",
		Long:  "A fire session is one hookah order. Create it when the order is taken, then press buttons as it moves through prep, delivery and service.",
	}
	s.AddCommand(sessionCreateCmd())
	s.AddCommand(sessionPressCmd())
	s.AddCommand(sessionShowCmd())
	s.AddCommand(sessionListCmd())
	s.AddCommand(sessionQueueCmd())
	s.AddCommand(sessionEventsCmd())
	return s
}

func sessionCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a session in prep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				s, err := l.Engine.CreateSession(ctx, opts)
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SessionID, "id", "", "session id (generated if omitted)")
	cmd.Flags().StringVar(&opts.TableID, "table", "", "table id")
	cmd.Flags().StringVar(&opts.FlavorMix, "flavor", "", "flavor mix")
	cmd.Flags().StringVar(&opts.PrepStaffID, "prep-staff", "", "prep staff id")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("flavor")
	_ = cmd.MarkFlagRequired("prep-staff")
	return cmd
}

func sessionPressCmd() *cobra.Command {
	var role, staffID string
	var meta map[string]string
	cmd := &cobra.Command{
		Use:   "press <session-id> <button>",
		Short: "Press a workflow button",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.PressRequest{
				SessionID: args[0],
				Button:    domain.Button(args[1]),
				Role:      domain.Role(role),
				StaffID:   staffID,
			}
			if len(meta) > 0 {
				req.Metadata = make(map[string]any, len(meta))
				for k, v := range meta {
					req.Metadata[k] = v
				}
			}
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				res, err := l.Engine.PressButton(ctx, req)
				if err != nil {
					return err
				}
				if !res.Accepted {
					if viper.GetBool("json") {
						_ = printJSON(map[string]any{"accepted": false, "reason": res.Reason, "detail": res.Detail})
					}
					return fmt.Errorf("%s: %s", res.Reason, res.Detail)
				}
				if viper.GetBool("json") {
					return printJSON(res.Event)
				}
				fmt.Printf("#%d %s -> %s\n", res.Event.Seq, res.Event.ButtonPressed, statusLabel(res.Event.StatusTag))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "staff role (prep, front, customer, hookah_room)")
	cmd.Flags().StringVar(&staffID, "staff", "", "staff id")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata key=value (e.g. refillType=water, duration=45)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				s, err := l.Engine.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

func sessionListCmd() *cobra.Command {
	var status, staffID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				var items []domain.Session
				var err error
				switch {
				case status != "":
					items, err = l.Engine.SessionsByStatus(ctx, domain.Status(status))
				case staffID != "":
					items, err = l.Engine.SessionsByStaff(ctx, staffID)
				default:
					items, err = l.Engine.ListSessions(ctx)
				}
				if err != nil {
					return err
				}
				return printSessions(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&staffID, "staff", "", "staff filter")
	return cmd
}

func sessionQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "queue <ready|refill|coal>",
		Short:     "Show a dashboard work queue",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"ready", "refill", "coal"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				items, err := server.Queue(ctx, l.Engine, args[0])
				if err != nil {
					return err
				}
				return printSessions(items)
			})
		},
	}
}

func sessionEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events [session-id]",
		Short: "Show the event log, for one session or the whole lounge",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				items, err := l.Engine.EventHistory(ctx, sessionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Time", "Session", "Button", "Role", "Staff", "Status"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.Seq, evt.Timestamp.Local().Format(time.Kitchen), evt.SessionID, evt.ButtonPressed, evt.StaffRole, evt.StaffID, statusLabel(evt.StatusTag)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show lounge metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				m, err := l.Engine.Metrics(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRow(table.Row{"Total sessions", m.TotalSessions})
				for _, st := range domain.Statuses {
					tw.AppendRow(table.Row{"  " + statusLabel(st), m.SessionsByStatus[st]})
				}
				tw.AppendSeparator()
				tw.AppendRow(table.Row{"Avg prep", time.Duration(m.AveragePrepTime * float64(time.Millisecond)).Round(time.Second)})
				tw.AppendRow(table.Row{"Avg delivery", time.Duration(m.AverageDeliveryTime * float64(time.Millisecond)).Round(time.Second)})
				tw.AppendRow(table.Row{"Recovery rate", fmt.Sprintf("%.1f%%", m.RecoveryRate*100)})
				tw.AppendRow(table.Row{"Refill rate", fmt.Sprintf("%.2f", m.RefillRate)})
				tw.AppendRow(table.Row{"Coal burnout rate", fmt.Sprintf("%.2f", m.CoalBurnoutRate)})
				for _, issue := range m.FrequentIssues {
					tw.AppendRow(table.Row{"Issue " + string(issue.Issue), issue.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every session and event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes all sessions and events; rerun with --yes")
			}
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				if err := l.Engine.Reset(ctx); err != nil {
					return err
				}
				fmt.Println("workflow reset")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm reset")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect lounge config",
		Long:  "Config is the lounge rulebook in hookahplus.yml: lounge id, which roles may press which buttons, default timer, storage driver, webhooks and broker.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			fmt.Println()
			printButtonsByRole(auth.NewPolicy(cfg.Workflow.Permissions))
			return nil
		},
	}
}

// printButtonsByRole renders what each role may press. Overrides open to
// every role are starred.
func printButtonsByRole(p auth.Policy) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Role", "Buttons"})
	for _, r := range domain.Roles {
		var names []string
		for _, b := range p.ButtonsFor(r) {
			name := string(b)
			if p.AnyRole(b) {
				name += "*"
			}
			names = append(names, name)
		}
		tw.AppendRow(table.Row{r, strings.Join(names, ", ")})
	}
	tw.Render()
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var loungeID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default hookahplus.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(loungeID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&loungeID, "lounge-id", "default", "lounge id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func tokenCmd() *cobra.Command {
	var staffID, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a staff JWT signed with HOOKAHPLUS_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("HOOKAHPLUS_JWT_SECRET is required to sign tokens")
			}
			token, err := server.SignStaffToken(secret, staffID, domain.Role(role), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "staff id")
	cmd.Flags().StringVar(&role, "role", "", "staff role")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("staff")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "key",
		Short: "Manage staff device keys",
		Long:  "Device keys let a floor tablet or prep-room screen authenticate as one staff member without a token. Send the key in X-Api-Key; only its hash is stored.",
	}
	k.AddCommand(keyAddCmd())
	k.AddCommand(keyListCmd())
	k.AddCommand(keyRemoveCmd())
	return k
}

func keyAddCmd() *cobra.Command {
	var staffID, role, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Issue a device key",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := "hp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			key := domain.StaffKey{
				ID:        uuid.NewString(),
				StaffID:   staffID,
				Role:      domain.Role(role),
				Name:      name,
				KeyHash:   repo.HashStaffKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				if err := l.Store.InsertStaffKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("key %s for %s (%s)\n", key.ID, key.StaffID, key.Role)
				fmt.Printf("secret: %s\n", secret)
				fmt.Println(color.YellowString("the secret is shown once; store it on the device now"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "staff id")
	cmd.Flags().StringVar(&role, "role", "", "staff role")
	cmd.Flags().StringVar(&name, "name", "", "device name")
	_ = cmd.MarkFlagRequired("staff")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func keyListCmd() *cobra.Command {
	var staffID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List device keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				keys, err := l.Store.ListStaffKeys(ctx, staffID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Staff", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.StaffID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "staff filter")
	return cmd
}

func keyRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key-id>",
		Short: "Revoke a device key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLounge(cmd.Context(), func(ctx context.Context, l *app.Lounge) error {
				if err := l.Store.DeleteStaffKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the /v0 API and the live event stream, and forwards accepted presses to configured webhooks and the AMQP broker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := log.New(os.Stderr, "hookahplus ", log.LstdFlags)
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			l, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer l.Close()

			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: logger}
			if authCfg.JWTSecret == "" {
				logger.Printf("HOOKAHPLUS_JWT_SECRET not set; bearer auth disabled")
			}
			handler, err := server.New(server.Config{Engine: l.Engine, Keys: l.Store, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}

			go server.NewWebhookDispatcher(l.Engine, logger).Run(ctx)
			if cfg.Broker.URL != "" {
				pub, err := broker.Dial(cfg.Broker.URL, cfg.Broker.Exchange, cfg.Lounge.ID, logger)
				if err != nil {
					return err
				}
				defer pub.Close()
				feed, unsubscribe := l.Engine.Subscribe(256)
				defer unsubscribe()
				go pub.Run(ctx, feed)
				logger.Printf("publishing events to exchange %s", cfg.Broker.Exchange)
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Hookah+ API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withLounge(ctx context.Context, fn func(context.Context, *app.Lounge) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := app.ResolveConfig(workspace, viper.GetString("config"))
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "hp ", 0)
	if !viper.GetBool("verbose") {
		logger.SetOutput(io.Discard)
	}
	l, err := app.Open(ctx, workspace, cfg, logger)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(ctx, l)
}

var statusColors = map[domain.Status]*color.Color{
	domain.StatusPrep:      color.New(color.FgYellow),
	domain.StatusDelivery:  color.New(color.FgCyan),
	domain.StatusService:   color.New(color.FgGreen),
	domain.StatusRecovery:  color.New(color.FgMagenta, color.Bold),
	domain.StatusCompleted: color.New(color.FgBlue),
	domain.StatusCancelled: color.New(color.FgRed),
}

func statusLabel(s domain.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func printSession(s domain.Session) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"Session", s.SessionID})
	tw.AppendRow(table.Row{"Table", s.TableID})
	tw.AppendRow(table.Row{"Flavor", s.FlavorMix})
	tw.AppendRow(table.Row{"Status", statusLabel(s.CurrentStatus)})
	tw.AppendRow(table.Row{"Prep", fmt.Sprintf("started=%t locked=%t armed=%t ready=%t", s.PrepStage.IsStarted, s.PrepStage.IsFlavorLocked, s.PrepStage.IsTimerArmed, s.PrepStage.IsReadyForDelivery)})
	tw.AppendRow(table.Row{"Delivery", fmt.Sprintf("picked_up=%t delivered=%t confirmed=%t", s.DeliveryStage.IsPickedUp, s.DeliveryStage.IsDelivered, s.DeliveryStage.IsCustomerConfirmed)})
	tw.AppendRow(table.Row{"Service", fmt.Sprintf("active=%t refills=%d burnouts=%d swaps=%d", s.ServiceStage.IsActive, s.ServiceStage.RefillCount, s.ServiceStage.CoalBurnoutCount, s.ServiceStage.CharcoalSwaps)})
	if s.SessionTimer != nil {
		tw.AppendRow(table.Row{"Timer", fmt.Sprintf("%d min, cycle %d", s.SessionTimer.Duration, s.SessionTimer.CurrentCycle)})
	}
	if r := s.RecoveryStage; r != nil {
		resolved := "open"
		if r.ResolvedAt != nil {
			resolved = "resolved " + r.ResolvedAt.Local().Format(time.Kitchen)
		}
		tw.AppendRow(table.Row{"Recovery", fmt.Sprintf("%s: %s (%s)", r.Reason, r.ActionTaken, resolved)})
	}
	tw.AppendRow(table.Row{"Staff", fmt.Sprintf("prep=%s front=%s hookah_room=%s", s.StaffAssigned.Prep, s.StaffAssigned.Front, s.StaffAssigned.HookahRoom)})
	tw.Render()
	return nil
}

func printSessions(items []domain.Session) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Table", "Flavor", "Status", "Refills", "Burnouts", "Updated"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.SessionID, s.TableID, s.FlavorMix, statusLabel(s.CurrentStatus), s.ServiceStage.RefillCount, s.ServiceStage.CoalBurnoutCount, s.UpdatedAt.Local().Format(time.Kitchen)})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
