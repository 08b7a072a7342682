package softphone_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voip_client/pkg/history"
	"github.com/arzzra/voip_client/pkg/softphone"
	"github.com/arzzra/voip_client/pkg/state"
)

// testCallManager собирает менеджер вызовов с управляемыми фейками
func testCallManager(t *testing.T, opts ...softphone.CallManagerOption) (*softphone.CallManager, *fakeTransport, *fakeNotifier, *state.Store, *history.Recorder, *fakeClock) {
	t.Helper()

	transport := newFakeTransport()
	notifier := &fakeNotifier{}
	store := state.NewStore()
	recorder := history.NewRecorder()
	clock := newFakeClock()

	opts = append([]softphone.CallManagerOption{
		softphone.WithClock(clock.Now),
		softphone.WithCallLogger(softphone.NopLogger{}),
	}, opts...)

	m := softphone.NewCallManager(transport, notifier, store, recorder, opts...)
	transport.OnIncomingInvite(m.HandleIncomingInvite)
	return m, transport, notifier, store, recorder, clock
}

// TestOutgoingCallCompleted проверяет полный жизненный цикл исходящего
// вызова: установление, завершение и запись в журнал с длительностью
func TestOutgoingCallCompleted(t *testing.T) {
	m, transport, _, store, recorder, clock := testCallManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlaceCall(ctx, "alice"))

	snap := store.Snapshot()
	assert.True(t, snap.IsCalling, "Should be calling")
	assert.Equal(t, "Calling...", snap.CallStatus)
	assert.Equal(t, "alice", snap.CallerNumber)

	h := transport.lastInvited()
	require.NotNil(t, h, "Invite should reach transport")

	h.Fire(softphone.SessionEventEstablished)

	snap = store.Snapshot()
	assert.False(t, snap.IsCalling)
	assert.True(t, snap.IsInCall, "Should be in call after establishment")
	assert.Equal(t, "In call", snap.CallStatus)
	assert.Equal(t, clock.Now(), snap.CallStartTime)

	clock.Advance(42 * time.Second)
	m.EndCall(ctx)

	assert.Equal(t, 1, h.byeCount(), "Established call should end with bye")

	snap = store.Snapshot()
	assert.False(t, snap.IsInCall)
	assert.Equal(t, "Ready", snap.CallStatus)
	assert.Empty(t, snap.CallerNumber)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	rec := calls[0]
	assert.Equal(t, history.DirectionOutgoing, rec.Direction)
	assert.Equal(t, history.OutcomeCompleted, rec.Outcome)
	assert.Equal(t, "alice", rec.Number)
	require.True(t, rec.HasDuration(), "Completed call must carry duration")
	assert.Equal(t, 42, rec.DurationSeconds())
}

// TestOutgoingCallCanceledBeforeAnswer проверяет отмену исходящего
// вызова до установления: cancel на транспорте, исход rejected
func TestOutgoingCallCanceledBeforeAnswer(t *testing.T) {
	m, transport, _, store, recorder, _ := testCallManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlaceCall(ctx, "bob"))
	h := transport.lastInvited()

	m.EndCall(ctx)

	assert.Equal(t, 1, h.cancelCount(), "Unestablished outgoing call should be canceled")
	assert.Equal(t, 0, h.byeCount())

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, history.OutcomeRejected, calls[0].Outcome)
	assert.False(t, calls[0].HasDuration(), "Rejected call must not carry duration")
	assert.Equal(t, "Ready", store.Snapshot().CallStatus)
}

// TestOutgoingCallTerminatedByRemote проверяет завершение вызова
// удаленной стороной до ответа
func TestOutgoingCallTerminatedByRemote(t *testing.T) {
	m, transport, _, store, recorder, _ := testCallManager(t)

	require.NoError(t, m.PlaceCall(context.Background(), "carol"))
	h := transport.lastInvited()

	h.Fire(softphone.SessionEventTerminated)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, history.OutcomeRejected, calls[0].Outcome)
	assert.False(t, m.HasActiveSession())
	assert.Equal(t, "Ready", store.Snapshot().CallStatus)
}

// TestPlaceCallEmptyNumber проверяет, что пустой номер игнорируется
// без побочных эффектов
func TestPlaceCallEmptyNumber(t *testing.T) {
	m, transport, _, store, recorder, _ := testCallManager(t)

	require.NoError(t, m.PlaceCall(context.Background(), ""))

	assert.Nil(t, transport.lastInvited(), "No invite should be sent")
	assert.Equal(t, "Ready", store.Snapshot().CallStatus)
	assert.Zero(t, recorder.Len())
}

// TestPlaceCallInviteFailure проверяет сбой инициации: статус
// "Call failed", запись в журнал не создается
func TestPlaceCallInviteFailure(t *testing.T) {
	m, transport, _, store, recorder, _ := testCallManager(t)
	transport.inviteErr = errors.New("network unreachable")

	err := m.PlaceCall(context.Background(), "dave")
	require.Error(t, err)
	assert.Equal(t, softphone.ErrorCategoryCall, softphone.GetErrorCategory(err))

	snap := store.Snapshot()
	assert.False(t, snap.IsCalling)
	assert.Equal(t, "Call failed", snap.CallStatus)
	assert.Zero(t, recorder.Len(), "Failed placement must not produce a record")
	assert.False(t, m.HasActiveSession())
}

// TestPlaceCallWhileBusy проверяет предусловие единственного вызова
func TestPlaceCallWhileBusy(t *testing.T) {
	m, _, _, _, _, _ := testCallManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlaceCall(ctx, "alice"))

	err := m.PlaceCall(ctx, "bob")
	require.Error(t, err)
	assert.Equal(t, softphone.ErrorCategoryState, softphone.GetErrorCategory(err))
}

// TestIncomingCallAccepted проверяет прием входящего приглашения:
// рингтон, продвижение в активную сессию, завершение с длительностью
func TestIncomingCallAccepted(t *testing.T) {
	m, transport, notifier, store, recorder, clock := testCallManager(t)
	ctx := context.Background()

	h := newFakeHandle("alice")
	transport.Deliver(h)

	require.True(t, m.HasPendingInvitation())
	assert.True(t, notifier.isPlaying(), "Ringtone should play while invitation pends")

	snap := store.Snapshot()
	assert.True(t, snap.IsCalling)
	assert.Equal(t, "Incoming call from alice", snap.CallStatus)
	assert.Equal(t, "alice", snap.CallerNumber)

	require.NoError(t, m.AcceptIncomingCall(ctx))

	assert.False(t, notifier.isPlaying(), "Ringtone should stop on accept")
	assert.False(t, m.HasPendingInvitation())
	assert.True(t, m.HasActiveSession())

	snap = store.Snapshot()
	assert.True(t, snap.IsInCall)
	assert.Equal(t, "In call", snap.CallStatus)

	clock.Advance(10 * time.Second)
	m.EndCall(ctx)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, history.DirectionIncoming, calls[0].Direction)
	assert.Equal(t, history.OutcomeCompleted, calls[0].Outcome)
	assert.Equal(t, 10, calls[0].DurationSeconds())
}

// TestIncomingCallRejected проверяет отклонение приглашения
func TestIncomingCallRejected(t *testing.T) {
	m, transport, notifier, store, recorder, _ := testCallManager(t)

	h := newFakeHandle("bob")
	transport.Deliver(h)

	require.NoError(t, m.RejectIncomingCall(context.Background()))

	assert.Equal(t, 1, h.rejectCount())
	assert.False(t, notifier.isPlaying())
	assert.False(t, m.HasPendingInvitation())

	snap := store.Snapshot()
	assert.False(t, snap.IsCalling)
	assert.Equal(t, "Ready", snap.CallStatus)
	assert.Empty(t, snap.CallerNumber)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, history.OutcomeRejected, calls[0].Outcome)
	assert.False(t, calls[0].HasDuration())
}

// TestIncomingCallIgnored проверяет, что игнорирование дает тот же
// результат, что и отклонение
func TestIncomingCallIgnored(t *testing.T) {
	m, transport, notifier, _, recorder, _ := testCallManager(t)

	h := newFakeHandle("carol")
	transport.Deliver(h)

	require.NoError(t, m.IgnoreIncomingCall(context.Background()))

	assert.Equal(t, 1, h.rejectCount(), "Ignore rejects on the transport level")
	assert.False(t, notifier.isPlaying())

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, history.OutcomeRejected, calls[0].Outcome)
}

// TestIncomingCallRejectTransportFailure проверяет, что сбой
// транспорта при отклонении не мешает локальной очистке
func TestIncomingCallRejectTransportFailure(t *testing.T) {
	m, transport, notifier, store, recorder, _ := testCallManager(t)

	h := newFakeHandle("dave")
	h.rejectErr = errors.New("transaction timeout")
	transport.Deliver(h)

	require.NoError(t, m.RejectIncomingCall(context.Background()),
		"Transport failure must not propagate from reject")

	assert.False(t, notifier.isPlaying())
	assert.False(t, m.HasPendingInvitation())
	assert.Equal(t, "Ready", store.Snapshot().CallStatus)
	require.Len(t, recorder.Calls(), 1)
	assert.Equal(t, history.OutcomeRejected, recorder.Calls()[0].Outcome)
}

// TestIncomingCallMissedByTimeout проверяет автоигнорирование
// неотвеченного приглашения с исходом missed
func TestIncomingCallMissedByTimeout(t *testing.T) {
	m, transport, notifier, store, recorder, _ := testCallManager(t,
		softphone.WithAnswerTimeout(30*time.Millisecond))

	h := newFakeHandle("eve")
	transport.Deliver(h)
	require.True(t, m.HasPendingInvitation())

	require.Eventually(t, func() bool {
		return recorder.Len() == 1
	}, time.Second, 5*time.Millisecond, "Unanswered invitation should expire")

	calls := recorder.Calls()
	assert.Equal(t, history.OutcomeMissed, calls[0].Outcome)
	assert.False(t, calls[0].HasDuration())
	assert.Equal(t, 1, h.rejectCount())
	assert.False(t, notifier.isPlaying())
	assert.False(t, m.HasPendingInvitation())
	assert.Equal(t, "Ready", store.Snapshot().CallStatus)
}

// TestAnswerCancelsTimeout проверяет, что принятый вызов не
// игнорируется таймером задним числом
func TestAnswerCancelsTimeout(t *testing.T) {
	m, transport, _, _, recorder, _ := testCallManager(t,
		softphone.WithAnswerTimeout(30*time.Millisecond))
	ctx := context.Background()

	h := newFakeHandle("alice")
	transport.Deliver(h)
	require.NoError(t, m.AcceptIncomingCall(ctx))

	time.Sleep(80 * time.Millisecond)

	assert.True(t, m.HasActiveSession(), "Accepted call must survive the answer timeout")
	assert.Zero(t, recorder.Len(), "No record until the call terminates")
	assert.Equal(t, 0, h.rejectCount())
}

// TestBusyLineRejectsNewInvite проверяет, что приглашение при занятой
// линии отклоняется без изменения состояния
func TestBusyLineRejectsNewInvite(t *testing.T) {
	m, transport, _, store, recorder, _ := testCallManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlaceCall(ctx, "alice"))
	transport.lastInvited().Fire(softphone.SessionEventEstablished)

	second := newFakeHandle("bob")
	transport.Deliver(second)

	assert.Equal(t, 1, second.rejectCount(), "Busy line rejects the new invite")
	assert.False(t, m.HasPendingInvitation())
	assert.Equal(t, "In call", store.Snapshot().CallStatus, "Existing call state untouched")
	assert.Zero(t, recorder.Len(), "Busy reject does not produce a record")
}

// TestPendingInvitationRejectsSecondInvite проверяет единственность
// слота приглашения
func TestPendingInvitationRejectsSecondInvite(t *testing.T) {
	m, transport, _, store, _, _ := testCallManager(t)

	first := newFakeHandle("alice")
	transport.Deliver(first)

	second := newFakeHandle("bob")
	transport.Deliver(second)

	assert.Equal(t, 1, second.rejectCount())
	assert.Equal(t, 0, first.rejectCount(), "First invitation keeps pending")
	assert.Equal(t, "Incoming call from alice", store.Snapshot().CallStatus)
	assert.Equal(t, "alice", m.IncomingCallerNumber())
}

// TestRemoteCancelsPendingInvitation проверяет отмену приглашения
// удаленной стороной до решения пользователя
func TestRemoteCancelsPendingInvitation(t *testing.T) {
	m, transport, notifier, store, recorder, _ := testCallManager(t)

	h := newFakeHandle("alice")
	transport.Deliver(h)

	h.Fire(softphone.SessionEventTerminated)

	assert.False(t, m.HasPendingInvitation())
	assert.False(t, notifier.isPlaying())
	assert.Equal(t, "Ready", store.Snapshot().CallStatus)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, history.OutcomeRejected, calls[0].Outcome)
}

// TestEndCallIdempotent проверяет, что завершение без вызова приводит
// состояние к покою и не создает записей
func TestEndCallIdempotent(t *testing.T) {
	m, _, _, store, recorder, _ := testCallManager(t)
	ctx := context.Background()

	m.EndCall(ctx)
	m.EndCall(ctx)

	snap := store.Snapshot()
	assert.False(t, snap.IsCalling)
	assert.False(t, snap.IsInCall)
	assert.Equal(t, "Ready", snap.CallStatus)
	assert.Zero(t, recorder.Len())
}

// TestLateEventAfterEndIgnored проверяет ровно одну запись на сессию:
// позднее событие транспорта после локального завершения игнорируется
func TestLateEventAfterEndIgnored(t *testing.T) {
	m, transport, _, _, recorder, _ := testCallManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlaceCall(ctx, "alice"))
	h := transport.lastInvited()
	h.Fire(softphone.SessionEventEstablished)

	m.EndCall(ctx)
	require.Equal(t, 1, recorder.Len())

	// Подтверждение bye приходит после того, как слот уже очищен
	h.Fire(softphone.SessionEventTerminated)
	h.Fire(softphone.SessionEventTerminated)

	assert.Equal(t, 1, recorder.Len(), "Exactly one record per session")
}

// TestEndCallByeFailureStillCleansUp проверяет, что сбой bye не
// оставляет состояние замороженным
func TestEndCallByeFailureStillCleansUp(t *testing.T) {
	m, transport, _, store, recorder, _ := testCallManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlaceCall(ctx, "alice"))
	h := transport.lastInvited()
	h.Fire(softphone.SessionEventEstablished)
	h.byeErr = errors.New("transaction timeout")

	m.EndCall(ctx)

	assert.False(t, m.HasActiveSession())
	assert.Equal(t, "Ready", store.Snapshot().CallStatus)
	require.Len(t, recorder.Calls(), 1)
	assert.Equal(t, history.OutcomeCompleted, recorder.Calls()[0].Outcome)
}

// TestAcceptFailureLeavesInvitationPending проверяет, что сбой приема
// не фиксирует запись: приглашение остается в слоте до события
// транспорта
func TestAcceptFailureLeavesInvitationPending(t *testing.T) {
	m, transport, _, store, recorder, _ := testCallManager(t)
	ctx := context.Background()

	h := newFakeHandle("alice")
	h.acceptErr = errors.New("media negotiation failed")
	transport.Deliver(h)

	err := m.AcceptIncomingCall(ctx)
	require.Error(t, err)
	assert.Equal(t, softphone.ErrorCategoryCall, softphone.GetErrorCategory(err))

	assert.True(t, m.HasPendingInvitation(), "Invitation stays pending after failed accept")
	assert.Zero(t, recorder.Len(), "No record until the transport terminates the invitation")
	assert.Equal(t, "Ready", store.Snapshot().CallStatus)

	// Транспорт завершает неудавшееся приглашение
	h.Fire(softphone.SessionEventTerminated)
	require.Len(t, recorder.Calls(), 1)
	assert.Equal(t, history.OutcomeRejected, recorder.Calls()[0].Outcome)
}

// TestAcceptWithoutInvitation проверяет предусловие приема
func TestAcceptWithoutInvitation(t *testing.T) {
	m, _, _, _, _, _ := testCallManager(t)

	err := m.AcceptIncomingCall(context.Background())
	require.Error(t, err)
	assert.Equal(t, softphone.ErrorCategoryState, softphone.GetErrorCategory(err))
}

// TestToggleMuteHold проверяет переключатели и их сброс при завершении
func TestToggleMuteHold(t *testing.T) {
	m, transport, _, store, _, _ := testCallManager(t)
	ctx := context.Background()

	// Без вызова переключатели бездействуют
	m.ToggleMute()
	m.ToggleHold()
	snap := store.Snapshot()
	assert.False(t, snap.IsMuted)
	assert.False(t, snap.IsOnHold)

	require.NoError(t, m.PlaceCall(ctx, "alice"))
	transport.lastInvited().Fire(softphone.SessionEventEstablished)

	m.ToggleMute()
	m.ToggleHold()
	snap = store.Snapshot()
	assert.True(t, snap.IsMuted)
	assert.True(t, snap.IsOnHold)

	m.ToggleMute()
	assert.False(t, store.Snapshot().IsMuted)

	m.ToggleHold()
	m.ToggleHold()
	assert.True(t, store.Snapshot().IsOnHold)

	// Завершение сбрасывает флаги
	m.EndCall(ctx)
	snap = store.Snapshot()
	assert.False(t, snap.IsMuted)
	assert.False(t, snap.IsOnHold)
}

// TestShutdownDuringEstablishedCall проверяет фиксацию активного
// вызова при остановке движка с исходом in-progress
func TestShutdownDuringEstablishedCall(t *testing.T) {
	m, transport, _, _, recorder, clock := testCallManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlaceCall(ctx, "alice"))
	h := transport.lastInvited()
	h.Fire(softphone.SessionEventEstablished)
	clock.Advance(5 * time.Second)

	m.Shutdown(ctx)

	assert.Equal(t, 1, h.byeCount())
	calls := recorder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, history.OutcomeInProgress, calls[0].Outcome)
	assert.False(t, calls[0].HasDuration(), "In-progress record carries no duration")

	// Повторная остановка безвредна
	m.Shutdown(ctx)
	assert.Len(t, recorder.Calls(), 1)
}

// TestShutdownWithPendingInvitation проверяет фиксацию неотвеченного
// приглашения при остановке как missed
func TestShutdownWithPendingInvitation(t *testing.T) {
	m, transport, notifier, _, recorder, _ := testCallManager(t)

	h := newFakeHandle("alice")
	transport.Deliver(h)

	m.Shutdown(context.Background())

	assert.Equal(t, 1, h.rejectCount())
	assert.False(t, notifier.isPlaying())
	require.Len(t, recorder.Calls(), 1)
	assert.Equal(t, history.OutcomeMissed, recorder.Calls()[0].Outcome)
}

// TestShutdownRejectsFurtherCalls проверяет, что после остановки
// новые вызовы и приглашения не принимаются
func TestShutdownRejectsFurtherCalls(t *testing.T) {
	m, transport, _, _, recorder, _ := testCallManager(t)
	ctx := context.Background()

	m.Shutdown(ctx)

	require.NoError(t, m.PlaceCall(ctx, "alice"), "Place after shutdown is a silent no-op")
	assert.Nil(t, transport.lastInvited())

	h := newFakeHandle("bob")
	transport.Deliver(h)
	assert.Equal(t, 1, h.rejectCount())
	assert.Zero(t, recorder.Len())
}

// TestRecordsAccumulateNewestFirst проверяет порядок журнала
func TestRecordsAccumulateNewestFirst(t *testing.T) {
	m, transport, _, _, recorder, clock := testCallManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlaceCall(ctx, "first"))
	transport.lastInvited().Fire(softphone.SessionEventEstablished)
	clock.Advance(3 * time.Second)
	m.EndCall(ctx)

	clock.Advance(time.Minute)
	require.NoError(t, m.PlaceCall(ctx, "second"))
	m.EndCall(ctx)

	calls := recorder.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "second", calls[0].Number, "Newest record first")
	assert.Equal(t, "first", calls[1].Number)
	assert.Equal(t, history.OutcomeRejected, calls[0].Outcome)
	assert.Equal(t, history.OutcomeCompleted, calls[1].Outcome)
}
