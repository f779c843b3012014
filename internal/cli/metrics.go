package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

const metricPrefix = "revtrail_"

// MetricsOptions holds flags for the metrics command.
type MetricsOptions struct {
	*RootOptions
	Listen string
}

// MetricSample is one exported series in JSON output.
type MetricSample struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"` // histograms only
}

// NewMetricsCommand creates the metrics command.
func NewMetricsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MetricsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "metrics [scenario-file-or-dir]...",
		Short: "Print or serve the recorder's Prometheus metrics",
		Long: `Run the given scenarios, if any, then print the revtrail_* metrics in
the Prometheus text exposition format. With --listen the metrics are served
on /metrics until interrupted instead.

Exit codes:
  0 - Metrics printed or server stopped cleanly
  2 - Command error (scenario load, listen failure)

Examples:
  revtrail metrics ./scenarios
  revtrail metrics ./scenarios --format json
  revtrail metrics --listen :9090 ./scenarios`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "serve /metrics on this address")

	return cmd
}

func runMetrics(cmd *cobra.Command, opts *MetricsOptions, paths []string) error {
	out := newFormatter(cmd, opts.RootOptions)

	sopts := &ScenarioOptions{RootOptions: opts.RootOptions}
	for _, p := range paths {
		files, err := findScenarioFiles(p, "")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		for _, f := range files {
			res := runScenarioFile(f, sopts, cmd.ErrOrStderr())
			out.VerboseLog("ran %s (pass=%t)", res.Name, res.Pass)
		}
	}

	if opts.Listen != "" {
		return serveMetrics(cmd, opts.Listen)
	}

	families, err := gatherRevtrail(prometheus.DefaultGatherer)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to gather metrics", err)
	}

	if out.JSON() {
		return out.Success(metricSamples(families), "")
	}
	var text bytes.Buffer
	enc := expfmt.NewEncoder(&text, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return WrapExitError(ExitCommandError, "failed to encode metrics", err)
		}
	}
	if text.Len() == 0 {
		text.WriteString("# no revtrail metrics registered\n")
	}
	return out.Success(nil, text.String())
}

// gatherRevtrail returns the revtrail_* families from g.
func gatherRevtrail(g prometheus.Gatherer) ([]*dto.MetricFamily, error) {
	all, err := g.Gather()
	if err != nil {
		return nil, err
	}
	var out []*dto.MetricFamily
	for _, mf := range all {
		if strings.HasPrefix(mf.GetName(), metricPrefix) {
			out = append(out, mf)
		}
	}
	return out, nil
}

func metricSamples(families []*dto.MetricFamily) []MetricSample {
	samples := []MetricSample{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			s := MetricSample{
				Name: mf.GetName(),
				Type: strings.ToLower(mf.GetType().String()),
			}
			if len(m.GetLabel()) > 0 {
				s.Labels = make(map[string]string, len(m.GetLabel()))
				for _, lp := range m.GetLabel() {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.Value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				s.Value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				s.Value = m.GetHistogram().GetSampleSum()
				s.Count = m.GetHistogram().GetSampleCount()
			default:
				continue
			}
			samples = append(samples, s)
		}
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples
}

// serveMetrics exposes the default registry until SIGINT/SIGTERM.
func serveMetrics(cmd *cobra.Command, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	fmt.Fprintf(cmd.ErrOrStderr(), "serving metrics on %s/metrics\n", addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "metrics server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "metrics server shutdown failed", err)
	}
	return nil
}
