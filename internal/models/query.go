package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery is wrapped by every query validation failure.
var ErrInvalidQuery = errors.New("invalid query")

// MaxQueryLength bounds the query text accepted by the engine, in bytes.
const MaxQueryLength = 4096

// QueryRequest is the body of a query call.
type QueryRequest struct {
	Query string `json:"query"`
}

// Validate trims the query and rejects empty or oversized input.
func (q *QueryRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if len(q.Query) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d bytes", ErrInvalidQuery, MaxQueryLength)
	}
	return nil
}
