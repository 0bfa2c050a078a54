package helpers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultMessageLimit = 30
	MaxMessageLimit     = 100
	MinMessageLimit     = 1
)

// ClampMessageLimit bounds a requested page size to [MinMessageLimit, MaxMessageLimit].
// Zero and negative values are clamped to 1, they never mean "use the default".
func ClampMessageLimit(limit int) int {
	if limit < MinMessageLimit {
		return MinMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}

// CursorParams are the keyset pagination parameters of a history request
type CursorParams struct {
	Cursor *int64
	Limit  int
}

// ParseCursorParams reads "cursor" and "limit" from the query string.
// A missing limit means DefaultMessageLimit. Malformed values are reported
// with the name of the offending parameter.
func ParseCursorParams(c *gin.Context) (CursorParams, string, error) {
	params := CursorParams{Limit: DefaultMessageLimit}

	if raw, ok := c.GetQuery("cursor"); ok && raw != "" {
		cursor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || cursor <= 0 {
			if err == nil {
				err = strconv.ErrRange
			}
			return params, "cursor", err
		}
		params.Cursor = &cursor
	}

	if raw, ok := c.GetQuery("limit"); ok && raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return params, "limit", err
		}
		params.Limit = limit
	}

	params.Limit = ClampMessageLimit(params.Limit)
	return params, "", nil
}

// NextCursor returns the id of the oldest message of a page, nil for an empty page
func NextCursor(oldestFirstIDs []int64) *int64 {
	if len(oldestFirstIDs) == 0 {
		return nil
	}
	c := oldestFirstIDs[0]
	return &c
}
