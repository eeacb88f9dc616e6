package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialOverrideRoundTrip(t *testing.T) {
	ctx := WithCredentialOverride(context.Background(), CredentialOverride{APIKey: "sk-secret"})

	got, ok := CredentialOverrideFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "sk-secret", got.APIKey)
}

func TestCredentialOverrideEmptyKeyIsNoop(t *testing.T) {
	ctx := WithCredentialOverride(context.Background(), CredentialOverride{})

	_, ok := CredentialOverrideFromContext(ctx)
	assert.False(t, ok)
}

// 凭据绝不能泄漏到日志或 JSON 输出
func TestCredentialOverrideMasking(t *testing.T) {
	c := CredentialOverride{APIKey: "sk-secret"}

	assert.NotContains(t, c.String(), "sk-secret")

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
	assert.Contains(t, string(data), "***")
}
