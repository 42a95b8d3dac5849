package entities

// ServiceRecord is one priced service after normalization.
// OriginalFields keeps the upstream item untouched (service id, sub-department,
// facility id and whatever else the backend sent).
type ServiceRecord struct {
	Name           string                 `json:"name"`
	Price          float64                `json:"price"`
	OriginalFields map[string]interface{} `json:"original_fields,omitempty"`
}

// PageResult is one normalized page of a branch price list
type PageResult struct {
	Items       []ServiceRecord `json:"items"`
	CurrentPage int             `json:"current_page"`
	HasMore     bool            `json:"has_more"`
	LastPage    *int            `json:"last_page"` // nil when the backend only reports a boolean
	TotalCount  int             `json:"total_count"`
}

// RawServicePage is what a backend adapter hands to the resolver: untouched items
// plus pagination metadata already translated to canonical meaning.
type RawServicePage struct {
	Items       []map[string]interface{}
	CurrentPage int
	HasMore     bool
	LastPage    *int
	TotalCount  int
}

// ServicePageRequest describes one page fetch against a backend
type ServicePageRequest struct {
	BranchID   int
	Branch     Branch
	Page       int
	CategoryID int
	SearchTerm string
}

// AggregatedResult is the combined outcome of a multi-page fetch.
// When Complete is false, Err explains why and Items holds everything fetched before it.
type AggregatedResult struct {
	Items        []ServiceRecord `json:"items"`
	PagesFetched int             `json:"pages_fetched"`
	LastPage     *int            `json:"last_page"`
	TotalCount   int             `json:"total_count"`
	HasMore      bool            `json:"has_more"`
	Complete     bool            `json:"complete"`
	FailedPage   int             `json:"failed_page,omitempty"`
	Err          error           `json:"-"`
}
