package obscheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/d4l-network/d4l-gateway/internal/tools/common"
	"github.com/d4l-network/d4l-gateway/internal/tools/loadgen"
	"github.com/d4l-network/d4l-gateway/internal/tools/ui"
)

const (
	mimirProxy = "/api/datasources/proxy/uid/mimir"
	tempoProxy = "/api/datasources/proxy/uid/tempo"
	lokiProxy  = "/api/datasources/proxy/uid/loki"
)

var errNoExemplar = errors.New("no recent trace_id exemplar found")

type options struct {
	grafanaURL      string
	grafanaUser     string
	grafanaPassword string
	serviceName     string
	window          time.Duration
	ci              bool
	baseURL         string
	adminKey        string
	metric          string
	exportLag       time.Duration
}

// NewCommand builds the obscheck subtree: it drives gateway traffic and then
// follows one exemplar from the request histogram through Tempo and Loki.
func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "obscheck", Short: "Verify gateway metrics, traces and logs correlation"}
	f := cmd.PersistentFlags()
	f.StringVar(&opts.grafanaURL, "grafana-url", "http://localhost:3000", "Grafana base URL")
	f.StringVar(&opts.grafanaUser, "grafana-user", "admin", "Grafana username")
	f.StringVar(&opts.grafanaPassword, "grafana-password", "admin", "Grafana password")
	f.StringVar(&opts.serviceName, "service-name", "d4l-gateway", "OTel service name")
	f.DurationVar(&opts.window, "window", 20*time.Minute, "query lookback window")
	f.BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	f.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "gateway base URL for traffic")
	f.StringVar(&opts.adminKey, "admin-key", "", "admin API key; enables admin routes in generated traffic")
	f.StringVar(&opts.metric, "metric", "http_server_request_duration_seconds_bucket", "histogram carrying trace exemplars")
	f.DurationVar(&opts.exportLag, "export-lag", 8*time.Second, "wait for metric export and scrape before querying")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate traffic and validate exemplar->trace->log path",
		RunE: func(cmd *cobra.Command, args []string) error {
			const title = "obscheck run"
			details, err := execute(opts, title, func(ctx context.Context) ([]string, error) {
				return check(ctx, *opts)
			})
			if !opts.ci {
				return err
			}
			common.PrintCIResult(err == nil, title, details, err)
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func execute(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func check(ctx context.Context, opts options) ([]string, error) {
	res, err := loadgen.Run(ctx, loadgen.Config{
		BaseURL:     opts.baseURL,
		Profile:     "mixed",
		Duration:    6 * time.Second,
		RPS:         20,
		Concurrency: 6,
		Seed:        42,
		AdminKey:    opts.adminKey,
	})
	if err != nil {
		return nil, err
	}
	details := []string{fmt.Sprintf("traffic generated total=%d failures=%d", res.TotalRequests, res.Failures)}
	if res.TotalRequests == 0 {
		return details, fmt.Errorf("gateway at %s served no requests", opts.baseURL)
	}

	notBefore := time.Now().Add(-2 * time.Minute)
	if !sleepCtx(ctx, opts.exportLag) {
		return details, ctx.Err()
	}

	g := newGrafanaClient(opts)
	traceID, err := g.latestExemplarTraceID(ctx, opts.metric, opts.window, notBefore)
	if err != nil {
		return details, err
	}
	details = append(details, "exemplar trace_id="+traceID)

	if err := g.waitForTrace(ctx, traceID, 5, 2*time.Second); err != nil {
		return details, err
	}
	details = append(details, "tempo trace lookup: ok")

	if err := g.findTraceLogs(ctx, opts.serviceName, traceID); err != nil {
		return details, err
	}
	details = append(details, "loki trace correlation: ok")
	return details, nil
}

type grafanaClient struct {
	base     string
	user     string
	password string
	http     *http.Client
}

func newGrafanaClient(opts options) *grafanaClient {
	return &grafanaClient{
		base:     opts.grafanaURL,
		user:     opts.grafanaUser,
		password: opts.grafanaPassword,
		http:     &http.Client{Timeout: 20 * time.Second},
	}
}

func (g *grafanaClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	base, err := url.Parse(g.base)
	if err != nil {
		return fmt.Errorf("grafana url: %w", err)
	}
	u := base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.user, g.password)
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("grafana %s: %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode grafana %s: %w", path, err)
	}
	return nil
}

type exemplarResponse struct {
	Data []struct {
		Exemplars []struct {
			Labels    map[string]string `json:"labels"`
			Timestamp float64           `json:"timestamp"`
		} `json:"exemplars"`
	} `json:"data"`
}

// latestExemplarTraceID returns the newest well-formed trace id attached to
// the histogram no earlier than notBefore.
func (g *grafanaClient) latestExemplarTraceID(ctx context.Context, metric string, window time.Duration, notBefore time.Time) (string, error) {
	now := time.Now()
	q := url.Values{}
	q.Set("query", metric)
	q.Set("start", strconv.FormatInt(now.Add(-window).Unix(), 10))
	q.Set("end", strconv.FormatInt(now.Unix(), 10))

	var payload exemplarResponse
	if err := g.getJSON(ctx, mimirProxy+"/api/v1/query_exemplars", q, &payload); err != nil {
		return "", err
	}
	var best string
	var bestTS float64
	for _, series := range payload.Data {
		for _, e := range series.Exemplars {
			if e.Timestamp <= 0 || int64(e.Timestamp) < notBefore.Unix() {
				continue
			}
			if tid := e.Labels["trace_id"]; len(tid) == 32 && e.Timestamp > bestTS {
				best, bestTS = tid, e.Timestamp
			}
		}
	}
	if best == "" {
		return "", errNoExemplar
	}
	return best, nil
}

// waitForTrace polls Tempo because spans arrive after the exemplar.
func (g *grafanaClient) waitForTrace(ctx context.Context, traceID string, attempts int, pause time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		var payload struct {
			Batches []json.RawMessage `json:"batches"`
		}
		err := g.getJSON(ctx, tempoProxy+"/api/traces/"+traceID, nil, &payload)
		switch {
		case err != nil:
			lastErr = err
		case len(payload.Batches) > 0:
			return nil
		default:
			lastErr = fmt.Errorf("tempo trace %s has no batches yet", traceID)
		}
		if !sleepCtx(ctx, pause) {
			return ctx.Err()
		}
	}
	return lastErr
}

func (g *grafanaClient) findTraceLogs(ctx context.Context, serviceName, traceID string) error {
	end := time.Now()
	start := end.Add(-30 * time.Minute)
	selectors := []string{
		fmt.Sprintf(`{service_name=%q} | json | trace_id=%q`, serviceName, traceID),
		fmt.Sprintf(`{service_name=~".+"} | json | trace_id=%q`, traceID),
	}
	for _, sel := range selectors {
		q := url.Values{}
		q.Set("query", sel)
		q.Set("start", strconv.FormatInt(start.UnixNano(), 10))
		q.Set("end", strconv.FormatInt(end.UnixNano(), 10))
		q.Set("limit", "1")
		q.Set("direction", "backward")

		var payload struct {
			Data struct {
				Result []json.RawMessage `json:"result"`
			} `json:"data"`
		}
		if err := g.getJSON(ctx, lokiProxy+"/loki/api/v1/query_range", q, &payload); err != nil {
			return err
		}
		if len(payload.Data.Result) > 0 {
			return nil
		}
	}
	return fmt.Errorf("no correlated loki logs found for trace_id %s", traceID)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
