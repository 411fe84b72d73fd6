package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lycento/lycento-sdk-go/internal/version"
	"github.com/lycento/lycento-sdk-go/lycento"
	"github.com/lycento/lycento-sdk-go/lycento/device"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	configPath string
	flags      settings
	settings   settings
	logger     *zap.Logger
	tracer     *sdktrace.TracerProvider

	// identity overrides the machine's device identity when set.
	identity lycento.IdentityProvider
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lycento",
		Short: "Lycento license client",
		Long: `A command-line client for the Lycento licensing service.

Validates, activates and deactivates license keys for this machine.
Results are printed as JSON on stdout; diagnostics go to stderr.`,
		Version:            version.Full(),
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.flags.BaseURL, "base-url", "", "Licensing service base URL (env LYCENTO_BASE_URL)")
	pf.StringVar(&a.flags.APIKey, "api-key", "", "API key sent as a bearer token (env LYCENTO_API_KEY)")
	pf.Int64Var(&a.flags.TimeoutMS, "timeout-ms", 0, "Per-request timeout in milliseconds (env LYCENTO_TIMEOUT_MS)")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (env LYCENTO_LOG_LEVEL)")
	pf.BoolVar(&a.flags.Trace, "trace", false, "Print request spans to stderr (env LYCENTO_TRACE)")
	pf.StringVar(&a.flags.Journal.Driver, "journal", "", "Activation journal: memory, postgres, mongo (env LYCENTO_JOURNAL_DRIVER)")
	pf.StringVar(&a.flags.Journal.URL, "journal-url", "", "Activation journal connection URL (env LYCENTO_JOURNAL_URL)")

	root.AddCommand(
		a.deviceCmd(),
		a.validateCmd(),
		a.activateCmd(),
		a.deactivateCmd(),
		a.infoCmd(),
		a.statusCmd(),
		a.reconcileCmd(),
		versionCmd(),
	)
	return root
}

// setup resolves settings as file < environment < flags and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		s.BaseURL = a.flags.BaseURL
	}
	if flags.Changed("api-key") {
		s.APIKey = a.flags.APIKey
	}
	if flags.Changed("timeout-ms") {
		s.TimeoutMS = a.flags.TimeoutMS
	}
	if flags.Changed("log-level") {
		s.LogLevel = a.flags.LogLevel
	}
	if flags.Changed("trace") {
		s.Trace = a.flags.Trace
	}
	if flags.Changed("journal") {
		s.Journal.Driver = a.flags.Journal.Driver
	}
	if flags.Changed("journal-url") {
		s.Journal.URL = a.flags.Journal.URL
	}
	a.settings = s

	if a.logger, err = newLogger(s.LogLevel); err != nil {
		return err
	}
	if s.Trace {
		if a.tracer, err = newTracerProvider(cmd.ErrOrStderr()); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if a.logger != nil {
		a.logger.Sync()
	}
	return nil
}

func (a *app) deviceProvider() lycento.IdentityProvider {
	if a.identity != nil {
		return a.identity
	}
	return device.NewProvider(device.WithLogger(a.logger))
}

func (a *app) client() (*lycento.Client, error) {
	opts := []lycento.ClientOption{
		lycento.WithIdentity(a.deviceProvider()),
		lycento.WithLogger(a.logger),
		lycento.WithUserAgent("lycento-cli/" + version.Version),
	}
	if a.tracer != nil {
		opts = append(opts, lycento.WithTracerProvider(a.tracer))
	}
	return lycento.NewClient(a.settings.clientConfig(), opts...)
}

// withManager runs fn with a Manager backed by the configured journal.
func (a *app) withManager(ctx context.Context, fn func(*lycento.Manager) error) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	journal, closeJournal, err := openJournal(ctx, a.settings.Journal)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeJournal(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to close activation journal", zap.Error(err))
		}
	}()
	return fn(lycento.NewManager(client, lycento.WithJournal(journal)))
}

func (a *app) deviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show this machine's device identity",
		Long: `Print the device id used for activations together with host metadata.

The id is derived from hardware and OS signals and is stable across
restarts. Set LYCENTO_DEVICE_ID to override it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := a.deviceProvider()
			info, err := p.Info()
			if err != nil {
				return err
			}
			out := deviceOutput{Device: info}
			if d, ok := p.(interface{ Diagnostics() device.Diagnostics }); ok {
				diag := d.Diagnostics()
				out.Diagnostics = &diag
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "validate KEY",
		Short: "Check whether a license key is valid for this machine",
		Example: `  # Validate against the configured service
  lycento validate ABC-123 --base-url https://api.lycento.com/v1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			var res *lycento.ValidateResult
			if deviceID != "" {
				res, err = client.ValidateLicenseForDevice(cmd.Context(), args[0], deviceID)
			} else {
				res, err = client.ValidateLicense(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "Validate for this device id instead of the current machine")
	return cmd
}

func (a *app) activateCmd() *cobra.Command {
	var (
		name     string
		deviceID string
		meta     []string
	)
	cmd := &cobra.Command{
		Use:   "activate KEY",
		Short: "Activate a license key on this machine",
		Example: `  # Activate with a display name and metadata
  lycento activate ABC-123 --name build-01 --meta team=infra --meta rack=r4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			opts := lycento.ActivateOptions{DeviceName: name, DeviceID: deviceID, Metadata: metadata}
			return a.withManager(cmd.Context(), func(m *lycento.Manager) error {
				res, err := m.Activate(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("activation refused: %s", res.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Device name shown in the license dashboard")
	cmd.Flags().StringVar(&deviceID, "device", "", "Activate this device id instead of the current machine")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Activation metadata as key=value (repeatable)")
	return cmd
}

func (a *app) deactivateCmd() *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "deactivate KEY",
		Short: "Release a license activation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *lycento.Manager) error {
				id := deviceID
				if id == "" {
					var err error
					if id, err = m.Client().DeviceID(); err != nil {
						return err
					}
				}
				res, err := m.Deactivate(cmd.Context(), args[0], id)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("deactivation refused: %s", res.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "Device id to deactivate (default: this machine)")
	return cmd
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info KEY",
		Short: "Show a license and its activations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			d, err := client.LicenseDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), infoOutput{
				LicenseDetails: d,
				Seats:          lycento.NewSeatUsage(&d.License).String(),
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status KEY",
		Short: "Validate a license and fetch its details in one call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			deviceID, err := client.DeviceID()
			if err != nil {
				return err
			}

			var (
				validation *lycento.ValidateResult
				details    *lycento.LicenseDetails
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				var err error
				validation, err = client.ValidateLicenseForDevice(ctx, args[0], deviceID)
				return err
			})
			g.Go(func() error {
				var err error
				details, err = client.LicenseDetails(ctx, args[0])
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			out := statusOutput{
				DeviceID:   deviceID,
				Validation: validation,
				License:    details.License,
				Seats:      lycento.NewSeatUsage(&details.License).String(),
			}
			for _, rec := range details.ActiveDevices() {
				if rec.DeviceID == deviceID {
					out.Activated = true
					out.ActivationID = rec.ID
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Settle activations whose outcome was never observed",
		Long: `Look up every pending or uncertain activation in the journal and
resolve it from the service's activation records.

Only useful with a persistent journal (--journal postgres or mongo).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(m *lycento.Manager) error {
				resolved, err := m.Reconcile(cmd.Context())
				if perr := printJSON(cmd.OutOrStdout(), reconcileOutput{Resolved: resolved}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Overrides the root hook; version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lycento %s\n", version.Full())
		},
	}
}

// parseMetadata turns key=value pairs into activation metadata.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
