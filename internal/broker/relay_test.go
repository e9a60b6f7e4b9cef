package broker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simlink/internal/models"
)

func newRelayFixture(t *testing.T, maxContent int) (*RelayService, Store, *Registry) {
	t.Helper()
	store := NewMemStore()
	reg := NewRegistry()
	return NewRelayService(store, reg, maxContent), store, reg
}

func pairDirect(t *testing.T, store Store, a, b string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SetPairingCode(ctx, b, "PAIRME", nil))
	_, err := store.Redeem(ctx, a, "PAIRME")
	require.NoError(t, err)
}

func TestForwardUnregisteredSession(t *testing.T) {
	relay, _, _ := newRelayFixture(t, 4096)
	err := relay.Forward(context.Background(), "ghost-session", "+5511999", "hello")
	assert.ErrorIs(t, err, ErrUnregisteredSession)
}

func TestForwardWithoutPeerDropsSilently(t *testing.T) {
	relay, store, reg := newRelayFixture(t, 4096)
	ctx := context.Background()
	require.NoError(t, store.RegisterOnline(ctx, "AG1", models.RoleAgent))
	reg.Register("s-ag", "AG1", &fakeSender{})

	require.NoError(t, relay.Forward(ctx, "s-ag", "+5511999", "hello"))

	// ничего не сохранено
	ms := store.(*memStore)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	assert.Empty(t, ms.messages)
}

func TestForwardPersistsAndDelivers(t *testing.T) {
	relay, store, reg := newRelayFixture(t, 4096)
	ctx := context.Background()
	require.NoError(t, store.RegisterOnline(ctx, "AG1", models.RoleAgent))
	require.NoError(t, store.RegisterOnline(ctx, "CL1", models.RoleClient))
	pairDirect(t, store, "AG1", "CL1")

	agSess := &fakeSender{}
	clSess := &fakeSender{}
	reg.Register("s-ag", "AG1", agSess)
	reg.Register("s-cl", "CL1", clSess)

	before := time.Now().UTC()
	require.NoError(t, relay.Forward(ctx, "s-ag", "+5511999", "hello"))

	// запись в Store
	ms := store.(*memStore)
	ms.mu.Lock()
	require.Len(t, ms.messages, 1)
	stored := ms.messages[0]
	ms.mu.Unlock()
	assert.Equal(t, "AG1", stored.DeviceID)
	assert.Equal(t, "+5511999", stored.SenderFrom)
	assert.Equal(t, "hello", stored.Content)
	assert.False(t, stored.Timestamp.Before(before))

	// ровно одно new_sms у peer-а, отправителю — ничего
	require.Len(t, clSess.received(), 1)
	assert.Empty(t, agSess.received())

	ev := clSess.received()[0]
	assert.Equal(t, EvtNewSMS, ev.Type)
	var payload NewSMSEvent
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "+5511999", payload.From)
	assert.Equal(t, "hello", payload.Content)
	assert.True(t, stored.Timestamp.Equal(payload.Timestamp))
}

func TestForwardPersistsWhenPeerOffline(t *testing.T) {
	relay, store, reg := newRelayFixture(t, 4096)
	ctx := context.Background()
	require.NoError(t, store.RegisterOnline(ctx, "AG1", models.RoleAgent))
	require.NoError(t, store.RegisterOnline(ctx, "CL1", models.RoleClient))
	pairDirect(t, store, "AG1", "CL1")
	reg.Register("s-ag", "AG1", &fakeSender{})
	// у CL1 нет живой сессии

	require.NoError(t, relay.Forward(ctx, "s-ag", "+5511999", "offline delivery"))

	// история сохранена несмотря на offline peer-а
	ms := store.(*memStore)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	require.Len(t, ms.messages, 1)
}

func TestForwardOversizeContentDropped(t *testing.T) {
	relay, store, reg := newRelayFixture(t, 16)
	ctx := context.Background()
	require.NoError(t, store.RegisterOnline(ctx, "AG1", models.RoleAgent))
	require.NoError(t, store.RegisterOnline(ctx, "CL1", models.RoleClient))
	pairDirect(t, store, "AG1", "CL1")
	clSess := &fakeSender{}
	reg.Register("s-ag", "AG1", &fakeSender{})
	reg.Register("s-cl", "CL1", clSess)

	require.NoError(t, relay.Forward(ctx, "s-ag", "+5511999", strings.Repeat("x", 17)))

	ms := store.(*memStore)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	assert.Empty(t, ms.messages)
	assert.Empty(t, clSess.received())
}
