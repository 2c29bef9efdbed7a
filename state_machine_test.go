package accounts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	accounts "github.com/goliatone/go-accounts"
)

func TestAccountStateMachineSoftDeleteSetsTimestamp(t *testing.T) {
	store := &MockAccountStore{}
	sink := &recordingSink{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	account := &accounts.Account{ID: uuid.New(), Username: "ada"}

	store.On("Save", mock.Anything, mock.MatchedBy(func(a *accounts.Account) bool {
		return a.ID == account.ID && a.DeletedAt != nil && a.DeletedAt.Equal(now)
	})).Return(func(_ context.Context, a *accounts.Account) *accounts.Account {
		return a
	}, nil).Once()

	sm := accounts.NewAccountStateMachine(store,
		accounts.WithStateMachineClock(func() time.Time { return now }),
		accounts.WithStateMachineActivitySink(sink),
		accounts.WithStateMachineLogger(accounts.NoopLogger()),
	)

	result, err := sm.Transition(context.Background(), accounts.ActorRef{ID: "admin", Type: "account"}, account,
		accounts.AccountStatusDeleted, accounts.WithTransitionReason("requested by user"))
	require.NoError(t, err)
	assert.True(t, result.IsDeleted())
	require.NotNil(t, account.DeletedAt)
	assert.Equal(t, now, account.DeletedAt.UTC())

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, accounts.ActivityEventAccountDeleted, event.EventType)
	assert.Equal(t, accounts.AccountStatusActive, event.FromStatus)
	assert.Equal(t, accounts.AccountStatusDeleted, event.ToStatus)
	assert.Equal(t, "requested by user", event.Metadata["reason"])
	assert.Equal(t, "admin", event.Actor.ID)

	store.AssertExpectations(t)
}

func TestAccountStateMachineTransitionMetadata(t *testing.T) {
	store := &MockAccountStore{}
	sink := &recordingSink{}
	account := &accounts.Account{ID: uuid.New(), Username: "ada"}

	store.On("Save", mock.Anything, mock.Anything).Return(func(_ context.Context, a *accounts.Account) *accounts.Account {
		return a
	}, nil).Once()

	sm := accounts.NewAccountStateMachine(store,
		accounts.WithStateMachineActivitySink(sink),
		accounts.WithStateMachineLogger(accounts.NoopLogger()),
	)

	meta := map[string]any{"request_id": "req-1"}
	var seen map[string]any
	_, err := sm.Transition(context.Background(), accounts.ActorRef{ID: "admin"}, account, accounts.AccountStatusDeleted,
		accounts.WithTransitionMetadata(meta),
		accounts.WithTransitionMetadata(map[string]any{"source": "api"}),
		accounts.WithTransitionMetadata(nil),
		accounts.WithBeforeTransitionHook(func(_ context.Context, tc accounts.TransitionContext) error {
			seen = tc.Meta.Metadata
			return nil
		}),
	)
	require.NoError(t, err)
	meta["request_id"] = "changed"

	assert.Equal(t, map[string]any{"request_id": "req-1", "source": "api"}, seen)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "req-1", sink.events[0].Metadata["request_id"])
	assert.Equal(t, "api", sink.events[0].Metadata["source"])
	_, hasReason := sink.events[0].Metadata["reason"]
	assert.False(t, hasReason)

	store.AssertExpectations(t)
}

func TestAccountStateMachineRejectsDeletedAccount(t *testing.T) {
	store := &MockAccountStore{}
	deletedAt := time.Now()
	account := &accounts.Account{ID: uuid.New(), DeletedAt: &deletedAt}

	sm := accounts.NewAccountStateMachine(store)

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.AccountStatusDeleted)
	require.Error(t, err)
	assert.True(t, accounts.IsAlreadyDeleted(err))
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAccountStateMachineRejectsUnknownTarget(t *testing.T) {
	store := &MockAccountStore{}
	account := &accounts.Account{ID: uuid.New()}

	sm := accounts.NewAccountStateMachine(store)

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.AccountStatus("suspended"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "INVALID_ACCOUNT_STATE_TRANSITION")
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)

	_, err = sm.Transition(context.Background(), accounts.ActorRef{}, nil, accounts.AccountStatusDeleted)
	assert.Error(t, err)
}

func TestAccountStateMachineSameStatusIsNoop(t *testing.T) {
	store := &MockAccountStore{}
	account := &accounts.Account{ID: uuid.New()}

	sm := accounts.NewAccountStateMachine(store)

	result, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.AccountStatusActive)
	require.NoError(t, err)
	assert.Same(t, account, result)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAccountStateMachineLeavesRecordOnSaveFailure(t *testing.T) {
	store := &MockAccountStore{}
	account := &accounts.Account{ID: uuid.New()}
	store.On("Save", mock.Anything, mock.Anything).
		Return(nil, accounts.NewDependencyFailure(errors.New("disk full"), "unable to write account")).Once()

	afterCalled := false
	sm := accounts.NewAccountStateMachine(store, accounts.WithStateMachineLogger(accounts.NoopLogger()))

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.AccountStatusDeleted,
		accounts.WithAfterTransitionHook(func(context.Context, accounts.TransitionContext) error {
			afterCalled = true
			return nil
		}))
	require.Error(t, err)
	assert.True(t, accounts.IsDependencyFailure(err))
	assert.Nil(t, account.DeletedAt)
	assert.False(t, afterCalled)
}

func TestAccountStateMachineBeforeHookAborts(t *testing.T) {
	store := &MockAccountStore{}
	account := &accounts.Account{ID: uuid.New()}
	hookErr := errors.New("blocked")

	var phases []accounts.TransitionHookPhase
	sm := accounts.NewAccountStateMachine(store,
		accounts.WithStateMachineHookErrorHandler(func(_ context.Context, phase accounts.TransitionHookPhase, err error, _ accounts.TransitionContext) error {
			phases = append(phases, phase)
			return err
		}),
	)

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.AccountStatusDeleted,
		accounts.WithBeforeTransitionHook(func(context.Context, accounts.TransitionContext) error {
			return hookErr
		}))
	require.ErrorIs(t, err, hookErr)
	assert.Equal(t, []accounts.TransitionHookPhase{accounts.HookPhaseBefore}, phases)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAccountStateMachineDeletionTimeOption(t *testing.T) {
	store := &MockAccountStore{}
	at := time.Date(2023, 12, 24, 8, 0, 0, 0, time.UTC)
	account := &accounts.Account{ID: uuid.New()}

	store.On("Save", mock.Anything, mock.Anything).Return(func(_ context.Context, a *accounts.Account) *accounts.Account {
		return a
	}, nil).Once()

	sm := accounts.NewAccountStateMachine(store, accounts.WithStateMachineLogger(accounts.NoopLogger()))

	result, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.AccountStatusDeleted,
		accounts.WithDeletionTime(at))
	require.NoError(t, err)
	require.NotNil(t, result.DeletedAt)
	assert.Equal(t, at, *result.DeletedAt)
}
