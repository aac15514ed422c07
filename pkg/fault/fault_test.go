package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindNotFound, "not_found"},
		{KindForbidden, "forbidden"},
		{KindConflict, "conflict"},
		{KindBadRequest, "bad_request"},
		{KindUnavailable, "unavailable"},
		{KindInternal, "internal"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestKindHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, KindForbidden.HTTPStatus())
	assert.Equal(t, http.StatusConflict, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, KindBadRequest.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, KindUnavailable.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindInternal, cause, "listing %q failed", "u1/docs")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Contains(t, err.Error(), "u1/docs")
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := NotFoundf("object %q not found", "u1/a.txt")
	outer := fmt.Errorf("find: %w", inner)

	assert.Equal(t, KindNotFound, KindOf(outer))
	assert.True(t, IsKind(outer, KindNotFound))
	assert.False(t, IsKind(outer, KindConflict))
}

func TestIsKindNil(t *testing.T) {
	assert.False(t, IsKind(nil, KindNotFound))
}
