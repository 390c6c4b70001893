package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// CursorParams selects a page relative to a known item.
// At most one of StartingAfter and EndingBefore is set.
type CursorParams struct {
	Limit         int
	StartingAfter string
	EndingBefore  string
}

// ExtractCursorParams extracts cursor pagination parameters from request
func ExtractCursorParams(r *http.Request) (CursorParams, error) {
	q := r.URL.Query()
	params := CursorParams{
		Limit:         DefaultPageLimit,
		StartingAfter: q.Get("starting_after"),
		EndingBefore:  q.Get("ending_before"),
	}

	if limit := q.Get("limit"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			return params, fmt.Errorf("limit must be a positive integer")
		}
		if l > MaxPageLimit {
			l = MaxPageLimit
		}
		params.Limit = l
	}

	if params.StartingAfter != "" && params.EndingBefore != "" {
		return params, fmt.Errorf("starting_after and ending_before are mutually exclusive")
	}
	return params, nil
}

// Values encodes the parameters as query values
func (p CursorParams) Values() url.Values {
	v := url.Values{}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.StartingAfter != "" {
		v.Set("starting_after", p.StartingAfter)
	}
	if p.EndingBefore != "" {
		v.Set("ending_before", p.EndingBefore)
	}
	return v
}
