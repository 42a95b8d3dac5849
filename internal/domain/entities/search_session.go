package entities

// SearchState is the controller state for one session
type SearchState string

const (
	SearchStateIdle             SearchState = "idle"
	SearchStateLoadingFirstPage SearchState = "loading_first_page"
	SearchStateReady            SearchState = "ready"
	SearchStateSearching        SearchState = "searching"
)

// ErrorInfo is the user-facing description of the last failure in a session
type ErrorInfo struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

// SearchSession is a point-in-time snapshot of a search controller
type SearchSession struct {
	SessionID             string          `json:"session_id"`
	State                 SearchState     `json:"state"`
	Branch                *Branch         `json:"branch,omitempty"`
	AllServices           []ServiceRecord `json:"all_services"`
	VisibleServices       []ServiceRecord `json:"visible_services"`
	SearchTerm            string          `json:"search_term"`
	CurrentPage           int             `json:"current_page"`
	LastPage              *int            `json:"last_page"`
	TotalCount            int             `json:"total_count"`
	HasMore               bool            `json:"has_more"`
	AllPagesFetched       bool            `json:"all_pages_fetched"`
	BackgroundFetchActive bool            `json:"background_fetch_active"`
	LoadingFirstPage      bool            `json:"loading_first_page"`
	Searching             bool            `json:"searching"`
	LoadingMore           bool            `json:"loading_more"`
	SearchPage            int             `json:"search_page"`
	SearchHasMore         bool            `json:"search_has_more"`
	Error                 *ErrorInfo      `json:"error,omitempty"`
}
