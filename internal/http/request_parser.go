package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"spendsync/internal/aggregate"
	"spendsync/internal/core"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// ListParams holds the parsed filter and ordering of an expense listing.
type ListParams struct {
	Filter aggregate.Filter
	SortBy aggregate.SortField
	Order  aggregate.SortOrder
}

// ParseListParams reads category, start, end, min, max, sort and order from
// query. Malformed values are reported together; sort and order fall back to
// their defaults instead.
func ParseListParams(query url.Values) (ListParams, error) {
	params := ListParams{
		SortBy: aggregate.ParseSortField(query.Get("sort")),
		Order:  aggregate.ParseSortOrder(query.Get("order")),
	}
	var problems []string

	if v := strings.TrimSpace(query.Get("category")); v != "" {
		c, err := core.ParseCategory(v)
		if err != nil {
			problems = append(problems, "Invalid category")
		} else {
			params.Filter.Category = &c
		}
	}
	dates := []struct {
		key string
		dst **core.Date
	}{{"start", &params.Filter.StartDate}, {"end", &params.Filter.EndDate}}
	for _, d := range dates {
		if v := strings.TrimSpace(query.Get(d.key)); v != "" {
			parsed, err := core.ParseDate(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("Invalid %s date", d.key))
				continue
			}
			*d.dst = &parsed
		}
	}
	amounts := []struct {
		key string
		dst **core.Money
	}{{"min", &params.Filter.MinAmount}, {"max", &params.Filter.MaxAmount}}
	for _, a := range amounts {
		if v := strings.TrimSpace(query.Get(a.key)); v != "" {
			parsed, err := core.ParseAmount(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("Invalid %s amount", a.key))
				continue
			}
			*a.dst = &parsed
		}
	}

	if len(problems) > 0 {
		return ListParams{}, &core.ValidationError{Rules: problems}
	}
	return params, nil
}

// decodeJSON reads a single JSON document from r into v. Errors raised by
// the domain types themselves are returned unwrapped.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return errMalformed{"request body is empty"}
		}
		return errMalformed{err.Error()}
	}
	if dec.More() {
		return errMalformed{"request body must hold a single JSON object"}
	}
	return nil
}

// errMalformed is a body that could not be decoded at all.
type errMalformed struct{ msg string }

func (e errMalformed) Error() string { return e.msg }

// normalizeCategory lowercases a category so "Food" and "food" are the same.
func normalizeCategory(c core.Category) core.Category {
	return core.Category(strings.ToLower(strings.TrimSpace(string(c))))
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}
