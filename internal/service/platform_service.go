package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"github.com/maheshrc27/campaignflow/internal/transfer"
	"github.com/maheshrc27/campaignflow/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type PublishRequest struct {
	Content        string
	IdempotencyKey string
}

// Publisher sends posts to the platform. Publish returns the platform id of
// the post; when the platform already holds a post for the idempotency key it
// returns apperrors.ErrAlreadyExists together with that id if known.
type Publisher interface {
	Publish(ctx context.Context, account *models.Account, req PublishRequest) (string, error)
	// Lookup finds a post previously published under idempotencyKey.
	Lookup(ctx context.Context, account *models.Account, idempotencyKey string) (string, bool, error)
}

type MetricsClient interface {
	Metrics(ctx context.Context, account *models.Account, externalID string) (*transfer.PlatformMetrics, error)
}

// PlatformClient talks to the publishing gateway on behalf of an account.
// Account tokens are refreshed through OAuth2 and written back sealed.
type PlatformClient struct {
	cfg      config.PlatformConfig
	key      []byte
	accounts repository.AccountRepository
	oauth    *oauth2.Config
	base     *http.Client
	log      *zap.Logger
}

func NewPlatformClient(cfg config.PlatformConfig, secretKey string, accounts repository.AccountRepository, log *zap.Logger) *PlatformClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PlatformClient{
		cfg:      cfg,
		key:      []byte(secretKey),
		accounts: accounts,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		base: &http.Client{Timeout: timeout},
		log:  log,
	}
}

func (c *PlatformClient) Publish(ctx context.Context, account *models.Account, req PublishRequest) (string, error) {
	body, err := json.Marshal(transfer.PublishRequest{Text: req.Content})
	if err != nil {
		return "", apperrors.Permanent("publish", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/posts", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Permanent("publish", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.do(ctx, account, httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var out transfer.PublishResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", apperrors.Transient("publish", fmt.Errorf("decode response: %w", err))
		}
		if out.ID == "" {
			return "", apperrors.Transient("publish", errors.New("platform returned an empty id"))
		}
		return out.ID, nil
	case http.StatusConflict:
		var out transfer.PublishResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return out.ID, apperrors.ErrAlreadyExists
	default:
		return "", classifyResponse("publish", resp)
	}
}

func (c *PlatformClient) Lookup(ctx context.Context, account *models.Account, idempotencyKey string) (string, bool, error) {
	u := c.cfg.BaseURL + "/v1/posts?" + url.Values{"idempotency_key": {idempotencyKey}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, apperrors.Permanent("lookup", err)
	}

	resp, err := c.do(ctx, account, httpReq)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, classifyResponse("lookup", resp)
	}

	var list transfer.PlatformPostList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", false, apperrors.Transient("lookup", fmt.Errorf("decode response: %w", err))
	}
	for _, p := range list.Data {
		if p.ID != "" {
			return p.ID, true, nil
		}
	}
	return "", false, nil
}

func (c *PlatformClient) Metrics(ctx context.Context, account *models.Account, externalID string) (*transfer.PlatformMetrics, error) {
	u := c.cfg.BaseURL + "/v1/posts/" + url.PathEscape(externalID) + "/metrics"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.Permanent("metrics", err)
	}

	resp, err := c.do(ctx, account, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse("metrics", resp)
	}

	var m transfer.PlatformMetrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, apperrors.Transient("metrics", fmt.Errorf("decode response: %w", err))
	}
	return &m, nil
}

func (c *PlatformClient) do(ctx context.Context, account *models.Account, req *http.Request) (*http.Response, error) {
	client, err := c.httpClient(ctx, account)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
			return nil, apperrors.Permanent("refresh token", fmt.Errorf("%w: %v", apperrors.ErrCredentialRevoked, rerr))
		}
		return nil, apperrors.Transient(req.Method+" "+req.URL.Path, err)
	}
	return resp, nil
}

func (c *PlatformClient) httpClient(ctx context.Context, account *models.Account) (*http.Client, error) {
	if account == nil {
		return nil, apperrors.Permanent("platform client", apperrors.ErrCredentialRevoked)
	}

	accessToken, err := utils.Open(account.AccessToken, c.key)
	if err != nil {
		return nil, apperrors.Permanent("open access token", err)
	}
	refreshToken := ""
	if account.RefreshToken != "" {
		if refreshToken, err = utils.Open(account.RefreshToken, c.key); err != nil {
			return nil, apperrors.Permanent("open refresh token", err)
		}
	}

	tok := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       account.TokenExpiresAt,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	ts := &persistingTokenSource{
		base:    c.oauth.TokenSource(ctx, tok),
		current: accessToken,
		save: func(t *oauth2.Token) {
			c.saveToken(context.WithoutCancel(ctx), account.ID, t)
		},
	}

	client := oauth2.NewClient(ctx, ts)
	client.Timeout = c.base.Timeout
	return client, nil
}

func (c *PlatformClient) saveToken(ctx context.Context, accountID int64, t *oauth2.Token) {
	access, err := utils.Seal(t.AccessToken, c.key)
	if err != nil {
		c.log.Error("seal refreshed access token", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	refresh := ""
	if t.RefreshToken != "" {
		if refresh, err = utils.Seal(t.RefreshToken, c.key); err != nil {
			c.log.Error("seal refreshed refresh token", zap.Int64("account_id", accountID), zap.Error(err))
			return
		}
	}
	if err := c.accounts.SetToken(ctx, accountID, access, refresh, t.Expiry, time.Now()); err != nil {
		c.log.Error("store refreshed token", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	c.log.Info("account token refreshed", zap.Int64("account_id", accountID), zap.Time("expires_at", t.Expiry))
}

// persistingTokenSource reports every token that differs from the last one
// it handed out.
type persistingTokenSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	current string
	save    func(*oauth2.Token)
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.current {
		s.current = tok.AccessToken
		s.save(tok)
	}
	return tok, nil
}

func classifyResponse(op string, resp *http.Response) error {
	msg := readPlatformError(resp.Body)
	cause := fmt.Errorf("platform returned %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("%s: %w", op, apperrors.ErrRateLimited)
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return apperrors.RetryAfter(err, d)
		}
		return err
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.Permanent(op, fmt.Errorf("%w: %v", apperrors.ErrCredentialRevoked, cause))
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.Permanent(op, fmt.Errorf("%w: %v", apperrors.ErrNotFound, cause))
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return apperrors.Permanent(op, fmt.Errorf("%w: %s", apperrors.ErrInvalidContent, msg))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return apperrors.Transient(op, cause)
	default:
		return apperrors.Permanent(op, cause)
	}
}

func readPlatformError(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	var perr transfer.PlatformError
	if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
		return perr.Error.Message
	}
	return string(bytes.TrimSpace(raw))
}

func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at), true
	}
	return 0, false
}
