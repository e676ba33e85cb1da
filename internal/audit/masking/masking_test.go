package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskJSON(t *testing.T) {
	masked := MaskJSON(map[string]any{
		"bootstrap_token": "bootstrap-credential-1234",
		"status":          "REGISTERED",
		"nested": map[string]any{
			"peer_token": "nested-credential-9876",
			"version":    "2.2.1",
		},
		"tokens": []any{"first-credential-aaaa", "second-credential-bbbb"},
		"":       "dropped",
	})

	assert.Equal(t, "****1234", masked["bootstrap_token"])
	assert.Equal(t, "REGISTERED", masked["status"])
	assert.Equal(t, map[string]any{"peer_token": "****9876", "version": "2.2.1"}, masked["nested"])
	assert.Equal(t, []any{"****aaaa", "****bbbb"}, masked["tokens"])
	assert.NotContains(t, masked, "")
}

func TestMaskJSONEmpty(t *testing.T) {
	assert.Nil(t, MaskJSON(nil))
	assert.Nil(t, MaskJSON(map[string]any{" ": "x"}))
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, IsSensitiveKey("Authorization"))
	assert.True(t, IsSensitiveKey("our_token"))
	assert.False(t, IsSensitiveKey("party_id"))
}
