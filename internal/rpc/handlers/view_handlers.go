package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/6529-Collections/royaltynode/internal/refresh"
	"github.com/6529-Collections/royaltynode/internal/royalty"
)

// ViewSource serves one cached derived view per address.
type ViewSource[R any] interface {
	Get(ctx context.Context, address string) (refresh.View[R], error)
	Refresh(ctx context.Context, address string) (refresh.View[R], error)
	IsStale(v refresh.View[R]) bool
}

type ViewResponse[R any] struct {
	PaginatedResponse
	Address          string             `json:"address"`
	Data             []R                `json:"data"`
	Summary          royalty.Summary[R] `json:"summary"`
	LastFetchedAt    int64              `json:"last_fetched_at"`
	LastScannedBlock uint64             `json:"last_scanned_block"`
	State            refresh.State      `json:"state"`
	Stale            bool               `json:"stale"`
	Error            string             `json:"error,omitempty"`
	SourceErrors     map[string]string  `json:"source_errors,omitempty"`
}

// ViewGetHandler pages through the view for address. ?refresh=true forces a
// rebuild. A failed rebuild still answers with the previous data when there is any.
func ViewGetHandler[R any](r *http.Request, source ViewSource[R], address string) (ViewResponse[R], error) {
	page, pageSize, _ := ExtractPagination(r)

	get := source.Get
	if r.URL.Query().Get("refresh") == "true" {
		get = source.Refresh
	}
	view, err := get(r.Context(), address)
	if err != nil {
		if errors.Is(err, royalty.ErrInvalidAddress) {
			return ViewResponse[R]{}, BadRequest(err)
		}
		if !view.Found {
			return ViewResponse[R]{}, &HTTPError{Status: http.StatusBadGateway, Err: err}
		}
	}

	resp := ViewResponse[R]{
		PaginatedResponse: PaginatedResponse{
			Page:     page,
			PageSize: pageSize,
		},
		Address:          address,
		Data:             Paginate(view.Entry.Records, page, pageSize),
		Summary:          view.Entry.Summary,
		LastFetchedAt:    view.Entry.LastFetchedAt,
		LastScannedBlock: view.Entry.LastScannedBlock,
		State:            view.State,
		Stale:            source.IsStale(view),
		Error:            view.Error,
		SourceErrors:     view.SourceErrors,
	}
	if resp.Summary.RecentRecords == nil {
		resp.Summary = royalty.Summary[R]{TopEntity: royalty.NoEntity, TotalEarnings: "0", AverageRoyalty: "0", RecentRecords: []R{}}
	}
	resp.ReturnPaginatedData(r, len(view.Entry.Records))
	return resp, nil
}

func TransactionsGetHandler(r *http.Request, source ViewSource[royalty.TransactionRecord]) (any, error) {
	// /api/v1/transactions/{address}
	parts := pathParts(r)
	if len(parts) != 4 || parts[3] == "" {
		return nil, NotFound(fmt.Errorf("expected /api/v1/transactions/{address}"))
	}
	return ViewGetHandler(r, source, parts[3])
}

func RoyaltiesGetHandler(r *http.Request, recipient, creator ViewSource[royalty.RoyaltyDistributionRecord]) (any, error) {
	// /api/v1/royalties/{address} or /api/v1/royalties/creator/{address}
	parts := pathParts(r)
	switch {
	case len(parts) == 4 && parts[3] != "":
		return ViewGetHandler(r, recipient, parts[3])
	case len(parts) == 5 && parts[3] == "creator" && parts[4] != "":
		return ViewGetHandler(r, creator, parts[4])
	}
	return nil, NotFound(fmt.Errorf("expected /api/v1/royalties/{address} or /api/v1/royalties/creator/{address}"))
}
