package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Select_PrefersFirstActive(t *testing.T) {
	r := New()
	r.Register(&Registration{Domain: "gtas", Endpoint: "down-1", Status: StatusDown})
	r.Register(&Registration{Domain: "gtas", Endpoint: "active-1", Status: StatusActive})
	r.Register(&Registration{Domain: "gtas", Endpoint: "active-2", Status: StatusActive})

	reg, err := r.Select("gtas")
	require.NoError(t, err)
	assert.Equal(t, "active-1", reg.Endpoint)
}

func TestRegistry_Select_FallsBackToFirstWhenNoneActive(t *testing.T) {
	r := New()
	r.Register(&Registration{Domain: "gtas", Endpoint: "draining-1", Status: StatusDraining})
	r.Register(&Registration{Domain: "gtas", Endpoint: "down-1", Status: StatusDown})

	reg, err := r.Select("gtas")
	require.NoError(t, err)
	assert.Equal(t, "draining-1", reg.Endpoint)
}

func TestRegistry_Select_ErrorsWhenDomainUnregistered(t *testing.T) {
	r := New()
	_, err := r.Select("unknown")
	assert.ErrorIs(t, err, ErrNoRegistration)
}

func TestRegistry_Register_ReplacesSameEndpoint(t *testing.T) {
	r := New()
	r.Register(&Registration{Domain: "gtas", Endpoint: "e1", Status: StatusActive, RuleCount: 5})
	r.Register(&Registration{Domain: "gtas", Endpoint: "e1", Status: StatusActive, RuleCount: 10})

	list := r.List("gtas")
	require.Len(t, list, 1)
	assert.Equal(t, 10, list[0].RuleCount)
}

func TestRegistration_SupportsMode(t *testing.T) {
	reg := Registration{SupportedModes: []string{"static", "hybrid"}}
	assert.True(t, reg.SupportsMode("hybrid"))
	assert.False(t, reg.SupportsMode("agentic"))
}
