package taxonomy

import (
	"testing"

	"github.com/upb/audit-governance/models"
	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	t.Run("known event type", func(t *testing.T) {
		entry := Lookup("workflow_failed")

		assert.Equal(t, CategoryWorkflow, entry.Category)
		assert.Equal(t, models.SeverityError, entry.DefaultSeverity)
	})

	t.Run("unknown event type falls back to general/info", func(t *testing.T) {
		entry := Lookup("something_nobody_registered")

		assert.Equal(t, CategoryGeneral, entry.Category)
		assert.Equal(t, models.SeverityInfo, entry.DefaultSeverity)
	})

	t.Run("recovery events carry critical defaults", func(t *testing.T) {
		assert.Equal(t, models.SeverityCritical, Lookup("chain_rebuilt").DefaultSeverity)
		assert.Equal(t, models.SeverityCritical, Lookup("integrity_failed").DefaultSeverity)
	})
}

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryAdmin, Category("config_changed"))
	assert.Equal(t, CategorySecurity, Category("tamper_detected"))
	assert.Equal(t, CategoryGeneral, Category("unknown_type"))
}

func TestNormalizeSeverity(t *testing.T) {
	t.Run("valid severity passes through", func(t *testing.T) {
		got := NormalizeSeverity("step_completed", models.SeverityCritical)
		assert.Equal(t, models.SeverityCritical, got)
	})

	t.Run("empty severity takes the type default", func(t *testing.T) {
		got := NormalizeSeverity("workflow_failed", "")
		assert.Equal(t, models.SeverityError, got)
	})

	t.Run("garbage severity takes the type default", func(t *testing.T) {
		got := NormalizeSeverity("login_failed", "shouting")
		assert.Equal(t, models.SeverityWarning, got)
	})
}
