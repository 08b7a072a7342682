package softphone_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voip_client/pkg/softphone"
	"github.com/arzzra/voip_client/pkg/state"
)

// TestRegistrationInitializeSuccess проверяет успешную инициализацию
// и последовательность состояний Connecting, Connected, Registered
func TestRegistrationInitializeSuccess(t *testing.T) {
	transport := newFakeTransport()
	store := state.NewStore()

	var mu sync.Mutex
	var seen []state.RegistrationState
	store.Subscribe(func(snap state.Snapshot) {
		mu.Lock()
		seen = append(seen, snap.Registration)
		mu.Unlock()
	})

	m := softphone.NewRegistrationManager(transport, store,
		softphone.WithRegistrationLogger(softphone.NopLogger{}))

	require.NoError(t, m.Initialize(context.Background()))
	defer m.Shutdown(context.Background())

	snap := store.Snapshot()
	assert.Equal(t, state.RegistrationRegistered, snap.Registration)
	assert.True(t, snap.IsConnected)
	assert.True(t, snap.IsRegistered)
	assert.Equal(t, "Ready", snap.CallStatus)
	assert.True(t, m.IsRegistered())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []state.RegistrationState{
		state.RegistrationConnecting,
		state.RegistrationConnected,
		state.RegistrationRegistered,
	}, seen, "Observers see every stage of initialization")
}

// TestRegistrationConnectFailure проверяет различимость сбоя
// транспорта: категория CONNECTION, статус "Connection failed"
func TestRegistrationConnectFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.startErr = errors.New("dial refused")
	store := state.NewStore()

	m := softphone.NewRegistrationManager(transport, store,
		softphone.WithRegistrationLogger(softphone.NopLogger{}))

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, softphone.ErrorCategoryConnection, softphone.GetErrorCategory(err))

	snap := store.Snapshot()
	assert.Equal(t, state.RegistrationFailed, snap.Registration)
	assert.False(t, snap.IsConnected)
	assert.Equal(t, "Connection failed", snap.CallStatus)
	assert.False(t, m.IsRegistered())
}

// TestRegistrationRejected проверяет отказ сервера в регистрации:
// категория REGISTRATION, транспорт при этом установлен
func TestRegistrationRejected(t *testing.T) {
	transport := newFakeTransport()
	transport.registerErr = errors.New("403 Forbidden")
	store := state.NewStore()

	m := softphone.NewRegistrationManager(transport, store,
		softphone.WithRegistrationLogger(softphone.NopLogger{}))

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, softphone.ErrorCategoryRegistration, softphone.GetErrorCategory(err))

	snap := store.Snapshot()
	assert.Equal(t, state.RegistrationFailed, snap.Registration)
	assert.True(t, snap.IsConnected, "Transport stays up when registration is rejected")
	assert.False(t, snap.IsRegistered)
	assert.Equal(t, "Registration failed", snap.CallStatus)
}

// TestRegistrationRefreshRecovers проверяет, что цикл обновления
// продолжает попытки после сбоя и восстанавливает Registered
func TestRegistrationRefreshRecovers(t *testing.T) {
	transport := newFakeTransport()
	store := state.NewStore()

	m := softphone.NewRegistrationManager(transport, store,
		softphone.WithRegistrationLogger(softphone.NopLogger{}),
		softphone.WithRefreshInterval(15*time.Millisecond))

	require.NoError(t, m.Initialize(context.Background()))
	defer m.Shutdown(context.Background())

	// Сервер начинает отвергать обновления
	transport.registration.setRefreshErr(errors.New("503 Service Unavailable"))

	require.Eventually(t, func() bool {
		return store.Snapshot().Registration == state.RegistrationFailed
	}, time.Second, 5*time.Millisecond, "Failed refresh should surface in state")

	before := transport.registration.refreshCount()

	// Сервер восстановился
	transport.registration.setRefreshErr(nil)

	require.Eventually(t, func() bool {
		return store.Snapshot().Registration == state.RegistrationRegistered
	}, time.Second, 5*time.Millisecond, "Refresh loop keeps retrying after failures")

	assert.Greater(t, transport.registration.refreshCount(), before,
		"Attempts continue on every tick")
	assert.True(t, store.Snapshot().IsRegistered)
}

// TestRegistrationShutdown проверяет снятие регистрации и
// идемпотентность остановки
func TestRegistrationShutdown(t *testing.T) {
	transport := newFakeTransport()
	store := state.NewStore()

	m := softphone.NewRegistrationManager(transport, store,
		softphone.WithRegistrationLogger(softphone.NopLogger{}),
		softphone.WithRefreshInterval(10*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	m.Shutdown(ctx)

	transport.registration.mu.Lock()
	unregistered := transport.registration.unregistered
	transport.registration.mu.Unlock()
	assert.Equal(t, 1, unregistered)

	snap := store.Snapshot()
	assert.Equal(t, state.RegistrationDisconnected, snap.Registration)
	assert.False(t, snap.IsConnected)
	assert.False(t, snap.IsRegistered)
	assert.False(t, m.IsRegistered())

	// Повторная остановка и остановка без инициализации безвредны
	m.Shutdown(ctx)

	after := store.Snapshot().Registration
	assert.Equal(t, state.RegistrationDisconnected, after)
}

// TestRegistrationDoubleInitialize проверяет предусловие повторной
// инициализации
func TestRegistrationDoubleInitialize(t *testing.T) {
	transport := newFakeTransport()
	store := state.NewStore()

	m := softphone.NewRegistrationManager(transport, store,
		softphone.WithRegistrationLogger(softphone.NopLogger{}))

	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	defer m.Shutdown(ctx)

	err := m.Initialize(ctx)
	require.Error(t, err)
	assert.Equal(t, softphone.ErrorCategoryState, softphone.GetErrorCategory(err))
}
