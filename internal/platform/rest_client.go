package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sefay/paysync/internal/apdu"
	"github.com/sefay/paysync/internal/config"
	"github.com/sefay/paysync/internal/events"
	"github.com/sefay/paysync/internal/models"
)

// RESTClient implements Client over the platform's HTTP API.
type RESTClient struct {
	client *resty.Client
	logger *events.Logger

	clientID     string
	clientSecret string

	mu    sync.RWMutex
	token *Token
}

// NewRESTClient creates a platform client from config.
func NewRESTClient(cfg *config.APIConfig, clientSecret string, logger *events.Logger) *RESTClient {
	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetHeader("User-Agent", cfg.UserAgent)

	return &RESTClient{
		client:       cli,
		logger:       logger.WithField("component", "platform_client"),
		clientID:     cfg.ClientID,
		clientSecret: clientSecret,
	}
}

// AcquireAccessToken obtains an OAuth client-credentials token.
func (c *RESTClient) AcquireAccessToken(ctx context.Context) (*Token, error) {
	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     c.clientID,
			"client_secret": c.clientSecret,
		}).
		SetResult(&body).
		Post("/oauth/token")
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}

	token := &Token{
		AccessToken: body.AccessToken,
		TokenType:   body.TokenType,
	}
	if body.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.logger.Debug("Acquired platform access token")
	return token, nil
}

// FetchPendingCommits returns commits pending for a device, in platform order.
func (c *RESTClient) FetchPendingCommits(ctx context.Context, userID, deviceID, afterCommitID string) ([]models.Commit, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	var body struct {
		Results []models.Commit `json:"results"`
	}

	req := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.currentToken()).
		SetPathParams(map[string]string{
			"userId":   userID,
			"deviceId": deviceID,
		}).
		SetResult(&body)

	if afterCommitID != "" {
		req.SetQueryParam("commitsAfter", afterCommitID)
	}

	resp, err := req.Get("/users/{userId}/devices/{deviceId}/commits")
	if err != nil {
		return nil, fmt.Errorf("fetch commits: %w", err)
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"device_id": deviceID,
		"commits":   len(body.Results),
	}).Debug("Fetched pending commits")

	return body.Results, nil
}

// packageConfirmation is the wire form of an execution result.
type packageConfirmation struct {
	PackageID        string                `json:"packageId"`
	State            apdu.ResponseState    `json:"state"`
	ExecutedTsEpoch  int64                 `json:"executedTsEpoch"`
	ExecutedDuration int                   `json:"executedDuration"`
	ErrorCode        string                `json:"errorCode,omitempty"`
	ErrorReason      string                `json:"errorReason,omitempty"`
	APDUResponses    []commandConfirmation `json:"apduResponses"`
}

type commandConfirmation struct {
	CommandID    string `json:"commandId"`
	ResponseCode string `json:"responseCode"`
	ResponseData string `json:"responseData,omitempty"`
}

// ConfirmPackage reports an APDU package execution result to the platform.
func (c *RESTClient) ConfirmPackage(ctx context.Context, commitID string, result *apdu.PackageResult) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	payload := packageConfirmation{
		PackageID:        result.PackageID(),
		State:            result.State(),
		ExecutedTsEpoch:  result.ExecutedAt().UnixMilli(),
		ExecutedDuration: result.Duration(),
		ErrorCode:        result.ErrorCode(),
		ErrorReason:      result.ErrorReason(),
	}
	for _, r := range result.Results() {
		payload.APDUResponses = append(payload.APDUResponses, commandConfirmation{
			CommandID:    r.CommandID(),
			ResponseCode: r.ResponseCode(),
			ResponseData: r.ResponseData(),
		})
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.currentToken()).
		SetPathParam("commitId", commitID).
		SetBody(payload).
		Post("/commits/{commitId}/apduResponse")
	if err != nil {
		return fmt.Errorf("confirm package: %w", err)
	}
	return apiError(resp)
}

func (c *RESTClient) ensureToken(ctx context.Context) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if !token.IsExpired() {
		return nil
	}

	_, err := c.AcquireAccessToken(ctx)
	return err
}

func (c *RESTClient) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return ""
	}
	return c.token.AccessToken
}

// apiError maps a non-2xx response to a typed error.
func apiError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	apiErr := &models.APIError{
		Code:       models.ErrCodeServer,
		Message:    strings.TrimSpace(resp.String()),
		StatusCode: resp.StatusCode(),
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		apiErr.Code = models.ErrCodeAuth
	}
	return apiErr
}
