package helpers

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampMessageLimit(t *testing.T) {
	tests := map[int]int{
		-5:  1,
		0:   1,
		1:   1,
		30:  30,
		100: 100,
		101: 100,
		5000: 100,
	}
	for in, want := range tests {
		assert.Equal(t, want, ClampMessageLimit(in), "limit %d", in)
	}
}

func contextWithQuery(query string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/messages?"+query, nil)
	return c
}

func TestParseCursorParams(t *testing.T) {
	params, _, err := ParseCursorParams(contextWithQuery(""))
	require.NoError(t, err)
	assert.Nil(t, params.Cursor)
	assert.Equal(t, DefaultMessageLimit, params.Limit)

	params, _, err = ParseCursorParams(contextWithQuery("cursor=55&limit=500"))
	require.NoError(t, err)
	require.NotNil(t, params.Cursor)
	assert.Equal(t, int64(55), *params.Cursor)
	assert.Equal(t, MaxMessageLimit, params.Limit)

	params, _, err = ParseCursorParams(contextWithQuery("limit=0"))
	require.NoError(t, err)
	assert.Equal(t, MinMessageLimit, params.Limit)

	for query, field := range map[string]string{
		"cursor=abc": "cursor",
		"cursor=0":   "cursor",
		"limit=1.5":  "limit",
	} {
		_, got, err := ParseCursorParams(contextWithQuery(query))
		assert.Error(t, err, query)
		assert.Equal(t, field, got, query)
	}
}

func TestNextCursor(t *testing.T) {
	assert.Nil(t, NextCursor(nil))
	c := NextCursor([]int64{4, 5, 6})
	require.NotNil(t, c)
	assert.Equal(t, int64(4), *c)
}
