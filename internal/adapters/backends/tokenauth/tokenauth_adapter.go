package tokenauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
	"github.com/zatekoja/diagnosticpricesearch/internal/domain/providers"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/clients/apiclient"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

// endOfPagesCode is what the API sends, together with an empty item list,
// when a page past the end is requested. It is not a client error.
const endOfPagesCode = 400

const defaultTokenLifetime = time.Hour

// Credentials is the fixed username/password pair for the token endpoint
type Credentials struct {
	Username string
	Password string
}

// Config holds endpoint paths for the token-auth API
type Config struct {
	TokenPath    string
	ServicesPath string
}

// Adapter talks to the bearer-token price-list API
type Adapter struct {
	client      *apiclient.Client
	credentials Credentials
	cfg         Config
	tokens      *TokenCache
	logger      zerolog.Logger
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	Token       string          `json:"token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

type servicesResponse struct {
	Items     []map[string]interface{} `json:"items"`
	HasMore   *bool                    `json:"hasMore"`
	Count     int                      `json:"count"` // total pages, not items
	ErrorCode int                      `json:"errorCode"`
	Status    interface{}              `json:"status"`
	Message   string                   `json:"message"`
}

// NewAdapter creates a token-auth backend adapter. tokens is injected so tests
// and callers control its lifetime; nil gets a fresh empty cache.
func NewAdapter(client *apiclient.Client, credentials Credentials, cfg Config, tokens *TokenCache) providers.ServiceBackend {
	if cfg.TokenPath == "" {
		cfg.TokenPath = "/auth/token"
	}
	if cfg.ServicesPath == "" {
		cfg.ServicesPath = "/services"
	}
	if tokens == nil {
		tokens = NewTokenCache()
	}
	return &Adapter{
		client:      client,
		credentials: credentials,
		cfg:         cfg,
		tokens:      tokens,
		logger:      observability.ComponentLogger("tokenauth"),
	}
}

// Kind identifies the backend
func (a *Adapter) Kind() entities.BackendKind {
	return entities.BackendTokenAuth
}

// FetchServicePage fetches one page, re-authenticating once on 401
func (a *Adapter) FetchServicePage(ctx context.Context, req entities.ServicePageRequest) (*entities.RawServicePage, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}

	resp, err := a.authorizedGet(ctx, req, page)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		a.logger.Info().Int("branch_id", req.BranchID).Msg("token rejected, re-authenticating")
		a.tokens.Invalidate()
		resp, err = a.authorizedGet(ctx, req, page)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			a.tokens.Invalidate()
			return nil, apperrors.NewAuthenticationError("token-auth API rejected a freshly issued token", nil)
		}
	}

	return a.decodePage(resp, page)
}

func (a *Adapter) authorizedGet(ctx context.Context, req entities.ServicePageRequest, page int) (*resty.Response, error) {
	token, err := a.tokens.Get(ctx, a.fetchToken)
	if err != nil {
		if apperrors.IsCancelled(err) {
			return nil, apperrors.NewCancelledError(err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewNetworkError("token-auth token wait timed out", err)
		}
		return nil, err
	}

	return a.client.Do(ctx, http.MethodGet, a.cfg.ServicesPath, func(r *resty.Request) {
		r.SetAuthToken(token)
		r.SetQueryParam("branch", req.Branch.Name)
		r.SetQueryParam("branchId", strconv.Itoa(req.BranchID))
		r.SetQueryParam("page", strconv.Itoa(page))
		if req.CategoryID > 0 {
			r.SetQueryParam("categoryId", strconv.Itoa(req.CategoryID))
		}
		if term := strings.TrimSpace(req.SearchTerm); term != "" {
			r.SetQueryParam("search", term)
		}
	})
}

func (a *Adapter) decodePage(resp *resty.Response, page int) (*entities.RawServicePage, error) {
	var body servicesResponse
	decodeErr := json.Unmarshal(resp.Bytes(), &body)

	if decodeErr == nil && body.ErrorCode == endOfPagesCode && len(body.Items) == 0 {
		return &entities.RawServicePage{
			Items:       []map[string]interface{}{},
			CurrentPage: page,
			HasMore:     false,
			LastPage:    lastPage(body.Count, page-1),
		}, nil
	}

	if !resp.IsSuccess() {
		return nil, apiclient.StatusError(a.client.Name(), resp)
	}
	if decodeErr != nil {
		return nil, apperrors.NewExternalError("token-auth price list response is not valid JSON", decodeErr)
	}
	if body.ErrorCode != 0 && body.ErrorCode != http.StatusOK {
		msg := body.Message
		if msg == "" {
			msg = fmt.Sprintf("token-auth API reported error code %d", body.ErrorCode)
		}
		return nil, apperrors.NewServerError(msg, body.ErrorCode)
	}

	items := body.Items
	if items == nil {
		items = []map[string]interface{}{}
	}
	hasMore := body.Count > page
	if body.HasMore != nil {
		hasMore = *body.HasMore
	}

	result := &entities.RawServicePage{
		Items:       items,
		CurrentPage: page,
		HasMore:     hasMore,
		LastPage:    lastPage(body.Count, page),
	}
	if !hasMore && page == 1 {
		result.TotalCount = len(items)
	}
	return result, nil
}

func (a *Adapter) fetchToken(ctx context.Context) (*entities.AuthToken, error) {
	resp, err := a.client.Do(ctx, http.MethodPost, a.cfg.TokenPath, func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(map[string]string{
			"username": a.credentials.Username,
			"password": a.credentials.Password,
		})
	})
	if err != nil {
		if apperrors.IsCancelled(err) {
			return nil, err
		}
		return nil, apperrors.NewAuthenticationError("token endpoint unreachable", err)
	}
	if !resp.IsSuccess() {
		return nil, apperrors.NewAuthenticationError(
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode()),
			apiclient.StatusError(a.client.Name(), resp),
		)
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, apperrors.NewAuthenticationError("token endpoint response is not valid JSON", err)
	}
	value := body.AccessToken
	if value == "" {
		value = body.Token
	}
	if value == "" {
		return nil, apperrors.NewAuthenticationError("token endpoint returned no token", nil)
	}

	lifetime := parseLifetime(body.ExpiresIn)
	a.logger.Debug().Dur("lifetime", lifetime).Msg("obtained bearer token")
	return newAuthToken(value, lifetime, time.Now()), nil
}

// parseLifetime reads expires_in seconds given as a number or a string
func parseLifetime(raw json.RawMessage) time.Duration {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return defaultTokenLifetime
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil || seconds <= 0 {
		return defaultTokenLifetime
	}
	return time.Duration(seconds * float64(time.Second))
}

func lastPage(count, fallback int) *int {
	if count > 0 {
		return &count
	}
	if fallback > 0 {
		return &fallback
	}
	return nil
}
