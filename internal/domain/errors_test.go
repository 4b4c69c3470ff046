package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndMessage(t *testing.T) {
	err := E(KindInvalidMask, "decode mask: %v", "bad header")
	assert.Equal(t, KindInvalidMask, KindOf(err))
	assert.True(t, IsKind(err, KindInvalidMask))
	assert.Equal(t, "decode mask: bad header", Message(err))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.Equal(t, KindInvalidMask, KindOf(wrapped))
	assert.Equal(t, "decode mask: bad header", Message(wrapped))

	plain := errors.New("plain")
	assert.Equal(t, Kind(""), KindOf(plain))
	assert.Equal(t, "plain", Message(plain))
	assert.Equal(t, "", Message(nil))
}

func TestProviderHTTPKeepsStatusAndBody(t *testing.T) {
	err := ProviderHTTP(422, `{"detail":"rejected"}`)
	assert.Equal(t, KindProvider, err.Kind)
	assert.Equal(t, 422, err.HTTPStatus)
	assert.Contains(t, err.Body, "rejected")
	assert.Contains(t, err.Error(), "status 422")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindFetch, cause)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindFetch, KindOf(err))
	assert.Nil(t, Wrap(KindFetch, nil))
}
