package pluginmodule

import (
	"context"
	"errors"
	"testing"

	plugins "github.com/mantonx/vvf/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockKV struct {
	mock.Mock
}

func (m *mockKV) GetString(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockKV) PutString(ctx context.Context, key, value string) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *mockKV) GetBool(ctx context.Context, key string) (bool, bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *mockKV) PutBool(ctx context.Context, key string, value bool) error {
	return m.Called(ctx, key, value).Error(0)
}

func TestPriorityStoreKeyAndFormat(t *testing.T) {
	kv, priorities, _ := newMemoryStores()
	ctx := context.Background()

	require.NoError(t, priorities.Set(ctx, plugins.KindSubtitle, []string{"opensubs", " local "}))

	raw, ok, err := kv.GetString(ctx, "priority/subtitle")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "opensubs,local", raw)

	fresh := NewPriorityStore(kv, "priority")
	ids, err := fresh.Get(ctx, plugins.KindSubtitle)
	require.NoError(t, err)
	assert.Equal(t, []string{"opensubs", "local"}, ids)

	empty, err := fresh.Get(ctx, plugins.KindStream)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPriorityStoreReturnsCopies(t *testing.T) {
	_, priorities, _ := newMemoryStores()
	ctx := context.Background()
	require.NoError(t, priorities.Set(ctx, plugins.KindStream, []string{"a", "b"}))

	ids, _ := priorities.Get(ctx, plugins.KindStream)
	ids[0] = "mutated"

	again, _ := priorities.Get(ctx, plugins.KindStream)
	assert.Equal(t, []string{"a", "b"}, again)
}

func TestPriorityStoreCachesReads(t *testing.T) {
	kv := &mockKV{}
	kv.On("GetString", mock.Anything, "priority/stream").Return("b,a", true, nil).Once()
	priorities := NewPriorityStore(kv, "priority")

	for i := 0; i < 3; i++ {
		ids, err := priorities.Get(context.Background(), plugins.KindStream)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, ids)
	}
	kv.AssertExpectations(t)
}

func TestPriorityStoreWriteFailureKeepsCache(t *testing.T) {
	kv := &mockKV{}
	kv.On("PutString", mock.Anything, "priority/stream", "a").Return(nil).Once()
	kv.On("PutString", mock.Anything, "priority/stream", "b").Return(errors.New("disk full")).Once()
	priorities := NewPriorityStore(kv, "priority")
	ctx := context.Background()

	require.NoError(t, priorities.Set(ctx, plugins.KindStream, []string{"a"}))
	require.Error(t, priorities.Set(ctx, plugins.KindStream, []string{"b"}))

	ids, err := priorities.Get(ctx, plugins.KindStream)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
	kv.AssertExpectations(t)
}

func TestEnablementStoreDefaultsAndKeys(t *testing.T) {
	kv, _, enablement := newMemoryStores()
	ctx := context.Background()

	on, err := enablement.IsEnabled(ctx, plugins.KindStream, "a", true)
	require.NoError(t, err)
	assert.True(t, on)
	off, err := enablement.IsEnabled(ctx, plugins.KindStream, "a", false)
	require.NoError(t, err)
	assert.False(t, off)

	require.NoError(t, enablement.Set(ctx, plugins.KindStream, "a", false))
	stored, ok, err := kv.GetBool(ctx, "settings/stream/a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, stored)

	v, err := enablement.IsEnabled(ctx, plugins.KindStream, "a", true)
	require.NoError(t, err)
	assert.False(t, v)

	assert.Error(t, enablement.Set(ctx, plugins.KindStream, "a/b", true))
}

func TestEnablementStoreReadFailureUsesDefault(t *testing.T) {
	kv := &mockKV{}
	kv.On("GetBool", mock.Anything, "settings/database/tmdb").Return(false, false, errors.New("connection refused"))
	enablement := NewEnablementStore(kv, "settings")

	v, err := enablement.IsEnabled(context.Background(), plugins.KindDatabase, "tmdb", true)
	assert.Error(t, err)
	assert.True(t, v)
}

func TestSettingsStoreResolve(t *testing.T) {
	kv, _, _ := newMemoryStores()
	settings := NewSettingsStore(kv, "settings")
	ctx := context.Background()
	meta := &ExtensionMetadata{ID: "opensubs", Settings: map[string]string{"lang": "en", "api_key": ""}}

	require.NoError(t, settings.Set(ctx, plugins.KindSubtitle, "opensubs", "api_key", "secret"))
	require.NoError(t, settings.Set(ctx, plugins.KindSubtitle, "opensubs", "undeclared", "x"))

	resolved, err := settings.Resolve(ctx, plugins.KindSubtitle, meta)
	require.NoError(t, err)
	assert.Equal(t, plugins.Settings{"lang": "en", "api_key": "secret"}, resolved)
	assert.Equal(t, "settings/subtitle/opensubs/api_key", settings.Key(plugins.KindSubtitle, "opensubs", "api_key"))

	var none *SettingsStore
	defaults, err := none.Resolve(ctx, plugins.KindSubtitle, meta)
	require.NoError(t, err)
	assert.Equal(t, plugins.Settings{"lang": "en", "api_key": ""}, defaults)
}
