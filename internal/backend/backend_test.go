package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	valid := []string{"anthropic_api_key", "DB_PASSWORD", "token.v2", "a"}
	for _, name := range valid {
		t.Run("valid_"+name, func(t *testing.T) {
			assert.NoError(t, ValidateName(name))
		})
	}

	invalid := map[string]string{
		"empty":       "",
		"slash":       "a/b",
		"backslash":   `a\b`,
		"traversal":   "..secret",
		"middle_dots": "a..b",
		"nul":         "a\x00b",
		"control":     "a\nb",
	}
	for label, name := range invalid {
		t.Run("invalid_"+label, func(t *testing.T) {
			assert.Error(t, ValidateName(name))
		})
	}
}

func TestValidateLocator(t *testing.T) {
	t.Run("plain and pathed locators pass", func(t *testing.T) {
		assert.NoError(t, ValidateLocator("db_password"))
		assert.NoError(t, ValidateLocator("teams/payments/db_password"))
	})

	t.Run("traversal segment fails", func(t *testing.T) {
		assert.Error(t, ValidateLocator("teams/../other/secret"))
		assert.Error(t, ValidateLocator(""))
	})
}

func TestZero(t *testing.T) {
	buf := []byte("hunter2")
	Zero(buf)
	for i, b := range buf {
		assert.Zero(t, b, "byte %d not wiped", i)
	}
}

func TestHealthHealthy(t *testing.T) {
	assert.True(t, Health{State: StateOk}.Healthy())
	assert.False(t, Health{State: StateDegraded, Reason: "slow"}.Healthy())
	assert.False(t, Health{State: StateUnreachable}.Healthy())
}
