package appcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	ctx := WithBearerToken(context.Background(), "TestToken")

	token, ok := BearerToken(ctx)
	assert.True(t, ok)
	assert.Equal(t, "TestToken", token)

	_, ok = BearerToken(context.Background())
	assert.False(t, ok)

	_, ok = BearerToken(WithBearerToken(context.Background(), ""))
	assert.False(t, ok, "empty token must not count as present")
}

func TestPassID(t *testing.T) {
	assert.Equal(t, "", PassID(context.Background()))
	assert.Equal(t, "pass-1", PassID(WithPassID(context.Background(), "pass-1")))
}
