package legacy

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"resty.dev/v3"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
	"github.com/zatekoja/diagnosticpricesearch/internal/domain/providers"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/clients/apiclient"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

// Adapter talks to the legacy paginated price-list API. Every request carries
// the static access token as a query parameter; it never expires.
type Adapter struct {
	client       *apiclient.Client
	accessToken  string
	servicesPath string
}

type listResponse struct {
	Data struct {
		Data        []map[string]interface{} `json:"data"`
		CurrentPage flexInt                  `json:"current_page"`
		LastPage    flexInt                  `json:"last_page"`
		Total       flexInt                  `json:"total"`
	} `json:"data"`
}

// NewAdapter creates a legacy backend adapter
func NewAdapter(client *apiclient.Client, accessToken, servicesPath string) providers.ServiceBackend {
	if servicesPath == "" {
		servicesPath = "/service-charges"
	}
	return &Adapter{
		client:       client,
		accessToken:  accessToken,
		servicesPath: servicesPath,
	}
}

// Kind identifies the backend
func (a *Adapter) Kind() entities.BackendKind {
	return entities.BackendLegacy
}

// FetchServicePage fetches one page of a branch price list
func (a *Adapter) FetchServicePage(ctx context.Context, req entities.ServicePageRequest) (*entities.RawServicePage, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}

	resp, err := a.client.Do(ctx, http.MethodGet, a.servicesPath, func(r *resty.Request) {
		r.SetQueryParam("access_token", a.accessToken)
		r.SetQueryParam("branch_id", strconv.Itoa(req.BranchID))
		r.SetQueryParam("page", strconv.Itoa(page))
		if req.CategoryID > 0 {
			r.SetQueryParam("category_id", strconv.Itoa(req.CategoryID))
		}
		if term := strings.TrimSpace(req.SearchTerm); term != "" {
			r.SetQueryParam("name", term)
			r.SetQueryParam("fast_search", "yes")
		}
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, apiclient.StatusError(a.client.Name(), resp)
	}

	var body listResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, apperrors.NewExternalError("legacy price list response is not valid JSON", err)
	}

	current := int(body.Data.CurrentPage)
	if current < 1 {
		current = page
	}
	last := int(body.Data.LastPage)
	if last < current {
		last = current
	}
	items := body.Data.Data
	if items == nil {
		items = []map[string]interface{}{}
	}
	total := int(body.Data.Total)
	if total == 0 && last == 1 {
		total = len(items)
	}

	return &entities.RawServicePage{
		Items:       items,
		CurrentPage: current,
		HasMore:     current < last,
		LastPage:    &last,
		TotalCount:  total,
	}, nil
}

// flexInt accepts both 3 and "3"; the legacy API is not consistent about it.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}
