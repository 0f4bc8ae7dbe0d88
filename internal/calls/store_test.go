package calls

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivr-platform/internal/users"
)

const (
	ownerNumber  = "35586526"
	callerNumber = "+15550001111"
)

func newTestStore(t *testing.T) (*Store, *MemoryRepo, *MemoryCache) {
	t.Helper()
	repo := NewMemoryRepo()
	cache := NewMemoryCache()
	dir := users.NewMemoryDirectory(users.User{ID: 1, Name: "Acme", PhoneNumber: ownerNumber})
	s := NewStore(repo, cache, dir)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	s.clock = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s, repo, cache
}

func TestInitialize_CreatesOpenSession(t *testing.T) {
	s, repo, cache := newTestStore(t)
	ctx := context.Background()

	sess := s.Initialize(ctx, "abc", callerNumber, ownerNumber)
	require.NotNil(t, sess)

	assert.Equal(t, int64(1), sess.UserID)
	assert.Equal(t, callerNumber, sess.Phone)
	assert.True(t, sess.IsOpen)
	assert.False(t, sess.HasError)
	assert.Empty(t, sess.History)
	assert.Equal(t, StepCallStarted, sess.CurrentStep)
	assert.Equal(t, "abc", sess.Data.CallID)
	assert.Equal(t, callerNumber, sess.Data.Phone)
	assert.Equal(t, SchemaVersion, sess.Data.Version)
	assert.False(t, sess.Data.StartedAt.IsZero())
	assert.NotEmpty(t, sess.ID)

	assert.Equal(t, 1, repo.Rows())
	assert.Equal(t, 1, cache.Len())
}

func TestInitialize_IsIdempotent(t *testing.T) {
	s, repo, _ := newTestStore(t)
	ctx := context.Background()

	first := s.Initialize(ctx, "abc", callerNumber, ownerNumber)
	second := s.Initialize(ctx, "abc", callerNumber, ownerNumber)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.Rows())
}

func TestInitialize_AdoptsRowMissingFromCache(t *testing.T) {
	s, repo, _ := newTestStore(t)
	ctx := context.Background()
	first := s.Initialize(ctx, "abc", callerNumber, ownerNumber)

	// Another process handles the duplicate event with a cold cache.
	other := NewStore(repo, NewMemoryCache(), users.NewMemoryDirectory())
	adopted := other.Initialize(ctx, "abc", callerNumber, ownerNumber)

	require.NotNil(t, adopted)
	assert.Equal(t, first.ID, adopted.ID)
	assert.Equal(t, 1, repo.Rows())
}

func TestInitialize_UnknownOwnerCreatesNothing(t *testing.T) {
	s, repo, cache := newTestStore(t)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		assert.Nil(t, s.Initialize(ctx, "abc", callerNumber, "+19999999999"))
	})
	assert.Equal(t, 0, repo.Rows())
	assert.Equal(t, 0, cache.Len())

	_, ok := s.FindActive(ctx, "abc")
	assert.False(t, ok)
}

func TestInitialize_ConcurrentDuplicatesCreateOneRow(t *testing.T) {
	repo := NewMemoryRepo()
	dir := users.NewMemoryDirectory(users.User{ID: 1, PhoneNumber: ownerNumber})
	ctx := context.Background()

	done := make(chan *Session, 8)
	for i := 0; i < cap(done); i++ {
		go func() {
			// Separate caches model separate instances racing on one row.
			done <- NewStore(repo, NewMemoryCache(), dir).Initialize(ctx, "abc", callerNumber, ownerNumber)
		}()
	}
	ids := map[string]bool{}
	for i := 0; i < cap(done); i++ {
		sess := <-done
		require.NotNil(t, sess)
		ids[sess.ID] = true
	}
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, repo.Rows())
}

func TestLogStep_AppendsInCallOrder(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	s.Initialize(ctx, "abc", callerNumber, ownerNumber)

	const n = 12
	for i := 0; i < n; i++ {
		s.LogStep(ctx, "abc", StepEntry{Prompt: fmt.Sprintf("step-%d", i)})
	}

	sess, ok := s.FindActive(ctx, "abc")
	require.True(t, ok)
	require.Len(t, sess.History, n)
	for i, st := range sess.History {
		assert.Equal(t, fmt.Sprintf("step-%d", i), st.Prompt)
		assert.Equal(t, StepInteraction, st.StepType)
		assert.Equal(t, WaitingForInput, st.Response)
		if i > 0 {
			assert.True(t, st.Time.After(sess.History[i-1].Time))
		}
	}
}

func TestLogStep_UpdatesLastPromptOnlyWithResponse(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	s.Initialize(ctx, "abc", callerNumber, ownerNumber)

	s.LogStep(ctx, "abc", StepEntry{Prompt: "What is your name?", Type: StepAskInput})
	sess, _ := s.FindActive(ctx, "abc")
	assert.Empty(t, sess.Data.LastPrompt)
	assert.Equal(t, StepAskInput, sess.CurrentStep)

	s.LogStep(ctx, "abc", StepEntry{Prompt: "What is your name?", Type: StepUserInput, UserResponse: Response("John")})
	sess, _ = s.FindActive(ctx, "abc")
	assert.Equal(t, "What is your name?", sess.Data.LastPrompt)
	assert.Equal(t, "John", sess.Data.LastResponse)
	assert.Equal(t, StepUserInput, sess.CurrentStep)

	last := sess.History[len(sess.History)-1]
	require.NotNil(t, last.UserResponse)
	assert.Equal(t, "John", *last.UserResponse)
	assert.Equal(t, "John", last.Response)
}

func TestLogStep_UnknownCallIsNoop(t *testing.T) {
	s, repo, _ := newTestStore(t)

	assert.NotPanics(t, func() {
		s.LogStep(context.Background(), "nope", StepEntry{Prompt: "hello"})
	})
	assert.Equal(t, 0, repo.Rows())
}

func TestFinalizeCall_ClosesAndEvicts(t *testing.T) {
	s, repo, cache := newTestStore(t)
	ctx := context.Background()
	s.Initialize(ctx, "abc", callerNumber, ownerNumber)
	s.LogStep(ctx, "abc", StepEntry{Prompt: "hi", Type: StepSendMessage})

	s.FinalizeCall(ctx, "abc")
	assert.Equal(t, 0, cache.Len())

	stored, err := s.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, stored.IsOpen)
	assert.Equal(t, StepCallEnded, stored.CurrentStep)
	require.NotNil(t, stored.Data.EndedAt)

	// Next step must go to storage, never to a stale cached open session.
	before := repo.Finds()
	s.LogStep(ctx, "abc", StepEntry{Prompt: "late"})
	assert.Equal(t, before+1, repo.Finds())
	assert.Equal(t, 0, cache.Len())

	stored, err = s.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, stored.IsOpen)
	assert.Len(t, stored.History, 2)
}

func TestFinalizeCall_RepeatedKeepsFirstClose(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	s.Initialize(ctx, "abc", callerNumber, ownerNumber)

	s.FinalizeCall(ctx, "abc")
	first, err := s.Lookup(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, first.Data.EndedAt)

	s.FinalizeCall(ctx, "abc")
	again, err := s.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, *first.Data.EndedAt, *again.Data.EndedAt)
	assert.Equal(t, first.UpdatedAt, again.UpdatedAt)
	assert.False(t, again.IsOpen)
}

func TestFinalizeCall_UnknownCallIsNoop(t *testing.T) {
	s, repo, _ := newTestStore(t)
	assert.NotPanics(t, func() { s.FinalizeCall(context.Background(), "nope") })
	assert.Equal(t, 0, repo.Rows())
}

func TestMarkError_FlagsAndAppendsErrorStep(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	s.Initialize(ctx, "abc", callerNumber, ownerNumber)
	s.LogStep(ctx, "abc", StepEntry{Prompt: "Welcome", Type: StepSendMessage})

	s.MarkError(ctx, "abc", errors.New("boom"))

	stored, err := s.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, stored.HasError)
	assert.Equal(t, "boom", stored.ErrorMessage)
	require.Len(t, stored.History, 2)
	assert.Equal(t, StepError, stored.History[1].StepType)
	assert.Equal(t, "boom", stored.History[1].Prompt)
	assert.Equal(t, StepError, stored.CurrentStep)
}

func TestSetParams_IsAdditive(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	s.Initialize(ctx, "abc", callerNumber, ownerNumber)
	s.LogStep(ctx, "abc", StepEntry{Prompt: "p", UserResponse: Response("r")})

	s.SetParams(ctx, "abc", map[string]string{"CallerName": "JOHN DOE"})
	s.SetParams(ctx, "abc", map[string]string{"FromCity": "BOSTON"})

	sess, ok := s.FindActive(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"CallerName": "JOHN DOE", "FromCity": "BOSTON"}, sess.Data.Params)
	assert.Equal(t, "r", sess.Data.LastResponse)
	assert.Equal(t, "abc", sess.Data.CallID)
}

func TestScenario_AskInputThenHangup(t *testing.T) {
	s, repo, _ := newTestStore(t)
	ctx := context.Background()

	s.Initialize(ctx, "abc", callerNumber, ownerNumber)
	s.LogStep(ctx, "abc", StepEntry{Prompt: "What is your name?", Type: StepAskInput})
	s.LogStep(ctx, "abc", StepEntry{Prompt: "What is your name?", Type: StepUserInput, UserResponse: Response("John")})
	s.FinalizeCall(ctx, "abc")

	require.Equal(t, 1, repo.Rows())
	stored, err := s.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UserID)
	assert.False(t, stored.IsOpen)
	require.Len(t, stored.History, 2)
	assert.Equal(t, StepAskInput, stored.History[0].StepType)
	assert.Nil(t, stored.History[0].UserResponse)
	assert.Equal(t, StepUserInput, stored.History[1].StepType)
	require.NotNil(t, stored.History[1].UserResponse)
	assert.Equal(t, "John", *stored.History[1].UserResponse)
}

func TestRoundTrip_ReloadThenAppend(t *testing.T) {
	s, repo, _ := newTestStore(t)
	ctx := context.Background()
	s.Initialize(ctx, "abc", callerNumber, ownerNumber)
	s.LogStep(ctx, "abc", StepEntry{Prompt: "one", Type: StepSendMessage})
	s.LogStep(ctx, "abc", StepEntry{Prompt: "two", Type: StepAskInput})
	s.LogStep(ctx, "abc", StepEntry{Prompt: "two", Type: StepUserInput, UserResponse: Response("2")})

	original, err := s.Lookup(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, original.History, 3)

	// A fresh instance loads from storage and continues the call.
	restarted := NewStore(repo, NewMemoryCache(), users.NewMemoryDirectory())
	restarted.LogStep(ctx, "abc", StepEntry{Prompt: "four", Type: StepSendMessage})

	reloaded, err := restarted.Lookup(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, reloaded.History, 4)
	assert.Equal(t, original.History, reloaded.History[:3])
	assert.Equal(t, "four", reloaded.History[3].Prompt)
}

func TestStore_RepositoryFailuresAreSwallowed(t *testing.T) {
	repo := &failingRepo{err: errors.New("db down")}
	dir := users.NewMemoryDirectory(users.User{ID: 1, PhoneNumber: ownerNumber})
	s := NewStore(repo, NewMemoryCache(), dir)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		assert.Nil(t, s.Initialize(ctx, "abc", callerNumber, ownerNumber))
		s.LogStep(ctx, "abc", StepEntry{Prompt: "x"})
		s.MarkError(ctx, "abc", errors.New("boom"))
		s.FinalizeCall(ctx, "abc")
	})
	_, ok := s.FindActive(ctx, "abc")
	assert.False(t, ok)
}

func TestList_FiltersByUserAndOpen(t *testing.T) {
	repo := NewMemoryRepo()
	dir := users.NewMemoryDirectory(
		users.User{ID: 1, PhoneNumber: "100"},
		users.User{ID: 2, PhoneNumber: "200"},
	)
	s := NewStore(repo, NewMemoryCache(), dir)
	ctx := context.Background()

	s.Initialize(ctx, "a", callerNumber, "100")
	s.Initialize(ctx, "b", callerNumber, "100")
	s.Initialize(ctx, "c", callerNumber, "200")
	s.FinalizeCall(ctx, "b")

	all, err := s.List(ctx, ListFilter{UserID: 1})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := s.List(ctx, ListFilter{UserID: 1, OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a", open[0].ProviderCallID)

	_, err = s.Lookup(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingRepo struct{ err error }

func (r *failingRepo) Create(context.Context, *Session) error { return r.err }
func (r *failingRepo) Update(context.Context, *Session) error { return r.err }
func (r *failingRepo) FindByProviderCallID(context.Context, string) (*Session, error) {
	return nil, r.err
}
func (r *failingRepo) List(context.Context, ListFilter) ([]*Session, error) { return nil, r.err }
