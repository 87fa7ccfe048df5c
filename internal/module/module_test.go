package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModule struct {
	name string
}

func (m *stubModule) Name() string                                   { return m.name }
func (m *stubModule) GetSyncDirection(string) SyncDirection          { return DirectionBidirectional }
func (m *stubModule) LoadLocalData(context.Context, string, int64) (Record, error) {
	return nil, nil
}
func (m *stubModule) MapToRemote(string, Record) (Fields, error)   { return nil, nil }
func (m *stubModule) MapFromRemote(string, Fields) (Record, error) { return nil, nil }
func (m *stubModule) SaveLocalData(context.Context, string, Record, int64) (int64, error) {
	return 0, nil
}
func (m *stubModule) DeleteLocalData(context.Context, string, int64) (bool, error) {
	return false, nil
}
func (m *stubModule) GetDedupDomain(string, Fields) Domain { return nil }
func (m *stubModule) GetRemoteModel(string) string         { return "" }
func (m *stubModule) GetParentEntityType(string) string    { return "" }
func (m *stubModule) GetParentLocalID(context.Context, string, int64) (int64, error) {
	return 0, nil
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubModule{name: "shop"}))
	require.NoError(t, registry.Register(&stubModule{name: "events"}))

	err := registry.Register(&stubModule{name: "shop"})
	require.Error(t, err, "double registration is a programming error")

	m, err := registry.Resolve("shop")
	require.NoError(t, err)
	assert.Equal(t, "shop", m.Name())

	_, err = registry.Resolve("crm")
	require.Error(t, err)

	assert.Equal(t, []string{"events", "shop"}, registry.Names())
}

func TestSyncDirectionString(t *testing.T) {
	assert.Equal(t, "push-only", DirectionPushOnly.String())
	assert.Equal(t, "pull-only", DirectionPullOnly.String())
	assert.Equal(t, "bidirectional", DirectionBidirectional.String())
	assert.Equal(t, "unknown", SyncDirection(99).String())
}
