package quota

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/metrics"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/session"
)

// Error strings reported in AccountQuota.Error.
const (
	ErrTextDecode      = "decode failure"
	ErrTextMissingAuth = "missing auth"
	ErrTextNoProject   = "no project id"
	ErrTextNoQuota     = "no quota data"
)

// ResetLayout is the civil format reset times are rendered in.
const ResetLayout = "15:04 02/01/2006"

var (
	// ErrNoProject is returned when project discovery fails even after a token refresh.
	ErrNoProject = errors.New("no project id")
	// ErrMissingAuth is returned for sessions without a refresh credential.
	ErrMissingAuth = errors.New("missing auth")
)

// Config holds configuration for the quota client.
type Config struct {
	Location      *time.Location
	ClientID      string
	ClientSecret  string
	BaseURL       string
	TokenURL      string
	Timeout       time.Duration
	MaxConcurrent int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Location:      time.FixedZone("UTC+7", 7*3600),
		BaseURL:       defaultBaseURL,
		TokenURL:      googleOAuthURL,
		Timeout:       30 * time.Second,
		MaxConcurrent: 5,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client runs the token refresh, project discovery and quota fetch pipeline.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a quota client. Zero fields of config take their defaults.
func New(config Config, opts ...Option) *Client {
	def := DefaultConfig()
	if config.Location == nil {
		config.Location = def.Location
	}
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.TokenURL == "" {
		config.TokenURL = def.TokenURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAccountQuota runs the full pipeline for one credential blob. Failures are
// reported in the Error field, never as a Go error.
func (c *Client) GetAccountQuota(ctx context.Context, blob string) models.AccountQuota {
	sess, err := session.Decode(blob)
	if err != nil {
		logger.Warn("session decode failed", "error", err)
		return c.failed(models.AccountQuota{Email: "Unknown", Plan: "Unknown"}, ErrTextDecode)
	}

	result := models.AccountQuota{Email: sess.Email(), Plan: sess.Plan()}
	if !sess.HasAuth() {
		return c.failed(result, ErrTextMissingAuth)
	}

	accessToken, projectID, err := c.resolveProject(ctx, sess)
	if err != nil {
		logger.Warn("project discovery failed", "email", result.Email, "error", err)
		return c.failed(result, ErrTextNoProject)
	}

	resp, err := c.fetchAvailableModels(ctx, accessToken, projectID)
	if err != nil {
		logger.Warn("quota fetch failed", "email", result.Email, "error", err)
		return c.failed(result, ErrTextNoQuota)
	}

	result.Models = c.buildModels(resp)
	metrics.QuotaFetchTotal.WithLabelValues("success").Inc()
	return result
}

func (c *Client) failed(q models.AccountQuota, reason string) models.AccountQuota {
	q.Error = reason
	q.Models = nil
	metrics.QuotaFetchTotal.WithLabelValues("failure").Inc()
	return q
}

// resolveProject calls loadCodeAssist with the stored access token, refreshing it once when
// that call fails.
func (c *Client) resolveProject(ctx context.Context, sess *session.Session) (accessToken, projectID string, err error) {
	accessToken = sess.Auth.AccessToken
	projectID, err = c.loadProjectID(ctx, accessToken)
	if err == nil {
		return accessToken, projectID, nil
	}
	logger.Debug("loadCodeAssist failed, refreshing token", "email", sess.Email(), "error", err)

	tok, err := c.refreshAccessToken(ctx, sess.Auth.IDToken)
	if err != nil {
		return "", "", errors.Join(ErrNoProject, err)
	}

	projectID, err = c.loadProjectID(ctx, tok.AccessToken)
	if err != nil {
		return "", "", errors.Join(ErrNoProject, err)
	}
	return tok.AccessToken, projectID, nil
}

// buildModels filters the catalog to the tracked models in allow-list order.
// Entries without quota info are skipped.
func (c *Client) buildModels(resp *fetchModelsResponse) []models.ModelQuota {
	out := make([]models.ModelQuota, 0, len(TrackedModels))
	for _, tm := range TrackedModels {
		info, ok := resp.Models[tm.ID]
		if !ok || info.QuotaInfo == nil {
			continue
		}

		mq := models.ModelQuota{ModelID: tm.ID, ModelName: tm.Name}
		if info.QuotaInfo.RemainingFraction != nil {
			mq.Percentage = models.ClampPercentage(*info.QuotaInfo.RemainingFraction * 100)
		}
		mq.ResetText = FormatResetTime(info.QuotaInfo.ResetTime, c.config.Location)
		out = append(out, mq)
	}
	return out
}

// FormatResetTime renders an ISO 8601 timestamp as "15:04 02/01/2006" in loc.
// Empty input yields ""; input that does not parse is returned unchanged.
func FormatResetTime(raw string, loc *time.Location) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return t.In(loc).Format(ResetLayout)
}

// FetchAll runs GetAccountQuota for every blob with at most MaxConcurrent
// requests in flight. Results keep the input order.
func (c *Client) FetchAll(ctx context.Context, blobs []string) []models.AccountQuota {
	results := make([]models.AccountQuota, len(blobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrent)
	for i, blob := range blobs {
		g.Go(func() error {
			results[i] = c.GetAccountQuota(gctx, blob)
			return nil
		})
	}
	// Workers never return an error.
	_ = g.Wait()

	return results
}

// Preheat sends the minimal prompt that starts a fresh usage cycle for
// modelID. It reports true when the provider accepted the request.
func (c *Client) Preheat(ctx context.Context, blob, modelID string) (bool, error) {
	sess, err := session.Decode(blob)
	if err != nil {
		return false, err
	}
	if !sess.HasAuth() {
		return false, ErrMissingAuth
	}

	accessToken, projectID, err := c.resolveProject(ctx, sess)
	if err != nil {
		return false, err
	}

	if err := c.generateContent(ctx, accessToken, projectID, modelID); err != nil {
		return false, err
	}
	logger.Info("preheat accepted", "email", sess.Email(), "model", modelID)
	return true, nil
}
