package tls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSource_Disabled(t *testing.T) {
	source, err := NewSource(context.Background(), TLSConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, source)
}

func TestAuthorizer(t *testing.T) {
	anyPeer, err := Authorizer("")
	require.NoError(t, err)
	assert.NotNil(t, anyPeer)

	byID, err := Authorizer("spiffe://example.org/stock-ledger")
	require.NoError(t, err)
	assert.NotNil(t, byID)

	_, err = Authorizer("https://example.org/not-spiffe")
	assert.Error(t, err)
}
