package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/giantswarm/kubecontexts/internal/clients"
	"github.com/giantswarm/kubecontexts/internal/contexts"
	"github.com/giantswarm/kubecontexts/internal/health"
	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/logging"
	"github.com/giantswarm/kubecontexts/internal/permissions"
	"github.com/giantswarm/kubecontexts/internal/resources"
)

// errUnreachable is returned with --fail-on-unreachable.
var errUnreachable = errors.New("unreachable contexts")

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe every kubeconfig context once and print a summary",
		Long: `Probe the reachability of every context in the kubeconfig, check which of
the watched resource kinds you are allowed to watch and print the result as a
table. Unreachable contexts are not checked for permissions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadStatusConfig(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadStatusKubeconfig(config.Kubeconfig, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cache := clients.NewCache(clients.WithCacheLogger(slog.Default()))
			defer func() { _ = cache.Close() }()

			probes := statusProbes{
				newProber:   contexts.CacheProber(cache),
				newReviewer: contexts.CacheReviewer(cache),
			}
			requests := resources.DefaultFactories(cache).PermissionRequests()
			return runStatus(cmd.Context(), cmd.OutOrStdout(), cfg, requests, probes, config, slog.Default())
		},
	}

	cmd.Flags().String("kubeconfig", "", "Path to the kubeconfig file, - reads it from stdin (default: $KUBECONFIG or ~/.kube/config)")
	cmd.Flags().String("context", "", "Only probe this context")
	cmd.Flags().Duration("timeout", health.DefaultProbeTimeout, "Timeout of each reachability probe")
	cmd.Flags().Bool("fail-on-unreachable", false, "Exit non-zero when any context is unreachable")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	cmd.Flags().Int("concurrency", 4, "Contexts probed in parallel")

	return cmd
}

// loadStatusKubeconfig reads the kubeconfig from in when path is "-".
func loadStatusKubeconfig(path string, in io.Reader) (*kubeconfig.Config, error) {
	if path != "-" {
		return kubeconfig.Load(path, slog.Default())
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read kubeconfig from stdin: %w", err)
	}
	return kubeconfig.LoadFromBytes(data, slog.Default())
}

type statusProbes struct {
	newProber   contexts.ProberConstructor
	newReviewer contexts.ReviewerConstructor
}

// contextStatus is one row of the status table.
type contextStatus struct {
	Name      string
	Server    string
	Namespace string
	Phase     health.Phase
	Err       error
	Permitted int
	Checked   int
}

func runStatus(ctx context.Context, out io.Writer, cfg kubeconfig.RawConfig, requests []permissions.ResourceRequests, probes statusProbes, config StatusConfig, logger *slog.Logger) error {
	descs := cfg.Contexts()
	if config.Context != "" {
		var selected []*kubeconfig.ContextDescriptor
		for _, desc := range descs {
			if desc.Name == config.Context {
				selected = append(selected, desc)
			}
		}
		if len(selected) == 0 {
			return fmt.Errorf("context %q not found in kubeconfig", config.Context)
		}
		descs = selected
	}
	if len(descs) == 0 {
		_, _ = fmt.Fprintln(out, "No contexts found")
		return nil
	}

	statuses := make([]contextStatus, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(config.Concurrency, 1))
	for i, desc := range descs {
		g.Go(func() error {
			statuses[i] = probeContext(gctx, desc, requests, probes, config, logger)
			return nil
		})
	}
	_ = g.Wait()

	if err := renderStatus(out, statuses, config.NoColor); err != nil {
		return err
	}

	if config.FailOnUnreachable {
		unreachable := 0
		for _, st := range statuses {
			if st.Phase != health.PhaseReachable {
				unreachable++
			}
		}
		if unreachable > 0 {
			return fmt.Errorf("%w: %d of %d", errUnreachable, unreachable, len(statuses))
		}
	}
	return nil
}

func probeContext(ctx context.Context, desc *kubeconfig.ContextDescriptor, requests []permissions.ResourceRequests, probes statusProbes, config StatusConfig, logger *slog.Logger) contextStatus {
	st := contextStatus{
		Name:      desc.Name,
		Server:    logging.SanitizeHost(desc.Server),
		Namespace: desc.EffectiveNamespace(),
		Phase:     health.PhaseUnreachable,
	}
	logger = logging.WithContext(logger, desc.Name)

	prober, err := probes.newProber(ctx, desc)
	if err != nil {
		st.Err = err
		return st
	}
	checker := health.NewChecker(desc.Name, prober,
		health.WithLogger(logger),
		health.WithDefaultTimeout(config.Timeout),
	)
	defer checker.Dispose()

	if err := checker.Start(ctx, health.StartOptions{}); err != nil {
		st.Err = err
		return st
	}
	if st.Phase = checker.Phase(); st.Phase != health.PhaseReachable {
		st.Err = checker.LastError()
		return st
	}

	reviewer, err := probes.newReviewer(ctx, desc)
	if err != nil {
		st.Err = err
		return st
	}
	perms := permissions.NewChecker(desc.Name, desc.EffectiveNamespace(), reviewer, permissions.WithLogger(logger))
	defer perms.Dispose()

	if err := perms.Check(ctx, requests); err != nil {
		st.Err = err
	}
	for _, p := range perms.Snapshot() {
		st.Checked++
		if p.Permitted {
			st.Permitted++
		}
	}
	return st
}

func renderStatus(out io.Writer, statuses []contextStatus, noColor bool) error {
	reachable := color.New(color.FgGreen, color.Bold)
	unreachable := color.New(color.FgRed, color.Bold)
	pending := color.New(color.FgYellow)
	if noColor {
		reachable.DisableColor()
		unreachable.DisableColor()
		pending.DisableColor()
	}
	title := cases.Title(language.English)

	rows := [][]string{{"CONTEXT", "SERVER", "NAMESPACE", "STATUS", "PERMITTED", "DETAIL"}}
	for _, st := range statuses {
		phase := title.String(st.Phase.String())
		var status, permitted string
		switch st.Phase {
		case health.PhaseReachable:
			status = reachable.Sprint(phase)
			permitted = fmt.Sprintf("%d/%d", st.Permitted, st.Checked)
		case health.PhaseUnreachable:
			status = unreachable.Sprint(phase)
			permitted = "-"
		default:
			status = pending.Sprint(phase)
			permitted = "-"
		}
		detail := ""
		if st.Err != nil {
			detail = health.UserFacingError(st.Err)
		}
		rows = append(rows, []string{st.Name, st.Server, st.Namespace, status, permitted, detail})
	}

	table := pterm.DefaultTable.WithHasHeader(true).WithData(rows)
	if !noColor {
		table = table.WithHeaderStyle(pterm.NewStyle(pterm.FgCyan, pterm.Bold))
	} else {
		table = table.WithHeaderStyle(pterm.NewStyle()).WithSeparatorStyle(pterm.NewStyle())
	}
	rendered, err := table.Srender()
	if err != nil {
		return fmt.Errorf("failed to render status table: %w", err)
	}
	_, err = fmt.Fprintln(out, rendered)
	return err
}
