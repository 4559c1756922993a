package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/registry"
)

func TestLoadDefaultsPopulatesAllSixSlots(t *testing.T) {
	r := registry.New()
	r.LoadDefaults()

	slots := []registry.Slot{
		registry.HTTP1Clients, registry.HTTP1Servers,
		registry.HTTP2Clients, registry.HTTP2Servers,
		registry.HTTP3Clients, registry.HTTP3Servers,
	}
	for _, slot := range slots {
		factory, ok := r.Lookup(slot, registry.DefaultName)
		require.Truef(t, ok, "slot %s missing default factory", slot)
		require.NotNil(t, factory())
	}
}

func TestLookupMissingSlotOrName(t *testing.T) {
	r := registry.New()
	_, ok := r.Lookup(registry.HTTP1Clients, registry.DefaultName)
	assert.False(t, ok)

	r.LoadDefaults()
	_, ok = r.Lookup(registry.HTTP1Clients, "nonexistent")
	assert.False(t, ok)
}

func TestLoadPluginsRegistersUnderNewName(t *testing.T) {
	r := registry.New()
	r.LoadDefaults()

	called := false
	err := r.LoadPlugins([]registry.Descriptor{
		{
			Slot: registry.HTTP2Servers,
			Name: "alt",
			Factory: func() proto.Protocol {
				called = true
				return nil
			},
		},
	})
	require.NoError(t, err)

	factory, ok := r.Lookup(registry.HTTP2Servers, "alt")
	require.True(t, ok)
	factory()
	assert.True(t, called)

	// The default entry in the same slot must be untouched.
	_, ok = r.Lookup(registry.HTTP2Servers, registry.DefaultName)
	assert.True(t, ok)
}

func TestLoadPluginsRejectsInvalidDescriptor(t *testing.T) {
	r := registry.New()
	err := r.LoadPlugins([]registry.Descriptor{{Slot: registry.HTTP1Clients, Name: ""}})
	assert.Error(t, err)
}
