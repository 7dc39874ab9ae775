package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
)

type fakeStore struct {
	byID   map[string]*model.ChannelConfig
	byType map[string]*model.ChannelConfig
	err    error
	calls  []string
}

func (f *fakeStore) FindChannelByID(_ context.Context, id, _ string) (*model.ChannelConfig, error) {
	f.calls = append(f.calls, "id:"+id)
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

func (f *fakeStore) FindChannelByType(_ context.Context, channelType, _ string) (*model.ChannelConfig, error) {
	f.calls = append(f.calls, "type:"+channelType)
	if f.err != nil {
		return nil, f.err
	}
	return f.byType[channelType], nil
}

func strPtr(s string) *string { return &s }

const (
	enabledID  = "5f0c3a52-6f1e-4b8e-9d4a-1c2b3d4e5f60"
	disabledID = "0b6e7c1d-2f3a-4d5e-8f90-a1b2c3d4e5f6"
)

func newStore() *fakeStore {
	return &fakeStore{
		byID: map[string]*model.ChannelConfig{
			enabledID:  {ID: enabledID, Enabled: true, EndpointURL: strPtr("https://radio.example.com/push")},
			disabledID: {ID: disabledID, Enabled: false, EndpointURL: strPtr("https://radio.example.com/push")},
		},
		byType: map[string]*model.ChannelConfig{
			"radio":  {ID: "r1", Type: "radio", Enabled: true, EndpointURL: strPtr("https://radio.example.com/push")},
			"tablet": {ID: "t1", Type: "tablet", Enabled: true, EndpointURL: strPtr("  ")},
		},
	}
}

func TestResolve_ByIDAndType(t *testing.T) {
	t.Parallel()

	store := newStore()
	r := NewResolver(store)

	ch, err := r.Resolve(context.Background(), enabledID, "u1")
	require.NoError(t, err)
	assert.Equal(t, enabledID, ch.ID)

	ch, err = r.Resolve(context.Background(), "radio", "u1")
	require.NoError(t, err)
	assert.Equal(t, "r1", ch.ID)

	assert.Equal(t, []string{"id:" + enabledID, "type:radio"}, store.calls)
}

func TestResolve_Failures(t *testing.T) {
	t.Parallel()

	r := NewResolver(newStore())

	_, err := r.Resolve(context.Background(), disabledID, "u1")
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = r.Resolve(context.Background(), "speaker", "u1")
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = r.Resolve(context.Background(), "", "u1")
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = r.Resolve(context.Background(), "tablet", "u1")
	assert.True(t, errors.Is(err, ErrEndpointMissing))
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestResolve_StoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	r := NewResolver(&fakeStore{err: boom})

	_, err := r.Resolve(context.Background(), "radio", "u1")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, boom))
}

func TestDevices(t *testing.T) {
	t.Parallel()

	ch := &model.ChannelConfig{Settings: model.ChannelSettings{Devices: []model.Device{
		{ID: "d1", Name: "Lobby", Token: "tok-1"},
		{ID: "d2", Name: "No token"},
	}}}

	resolved, unresolved := Devices(ch, []string{"d1", "d2", "d3", "d1", " "})
	require.Len(t, resolved, 1)
	assert.Equal(t, "d1", resolved[0].ID)
	assert.Equal(t, []string{"d2", "d3"}, unresolved)
}

func TestIsChannelID(t *testing.T) {
	t.Parallel()

	assert.True(t, IsChannelID(enabledID))
	assert.True(t, IsChannelID(strings.ToUpper(enabledID)))
	assert.False(t, IsChannelID("radio"))
	assert.False(t, IsChannelID("urn:uuid:"+enabledID))
	assert.False(t, IsChannelID("{"+enabledID+"}"))
	assert.False(t, IsChannelID(strings.ReplaceAll(enabledID, "-", "")))
}
