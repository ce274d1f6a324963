package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialog-service/models"
	"dialog-service/utils"
)

type dialogFixture struct {
	store    *Store
	registry *Registry
	service  *DialogService
	alice    *models.User
	bob      *models.User
}

func newDialogFixture(t *testing.T, limit FrameLimit) *dialogFixture {
	t.Helper()
	store := NewStore(newTestDB(t))
	metrics := NewMetrics(nil)
	registry := NewRegistry(discardLogger(), metrics)
	return &dialogFixture{
		store:    store,
		registry: registry,
		service:  NewDialogService(store, registry, discardLogger(), metrics, limit),
		alice:    seedUser(t, store, "alice", models.RoleUser),
		bob:      seedUser(t, store, "bob", models.RoleUser),
	}
}

func TestDialogService_GetOrCreateDialog(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{})

	item, err := f.service.GetOrCreateDialog(ctx, f.alice, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, f.bob.FullName(), item.Title)
	assert.Equal(t, models.RoleUser, item.Role)
	assert.Zero(t, item.MessageCount)

	again, err := f.service.GetOrCreateDialog(ctx, f.bob, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, again.ID)
	assert.Equal(t, f.alice.FullName(), again.Title)

	_, err = f.service.GetOrCreateDialog(ctx, f.alice, f.alice.ID)
	assert.ErrorIs(t, err, utils.ErrAccessDenied)

	_, err = f.service.GetOrCreateDialog(ctx, f.alice, uuid.NewString())
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestDialogService_RoleGuard(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{})

	for _, caller := range []*models.User{
		nil,
		{ID: "guest", Role: models.RoleGuest},
		{ID: f.alice.ID, Role: models.RoleBanned},
	} {
		_, err := f.service.ListDialogs(ctx, caller)
		assert.ErrorIs(t, err, utils.ErrAccessDenied)
		_, err = f.service.UnreadCount(ctx, caller)
		assert.ErrorIs(t, err, utils.ErrAccessDenied)
	}
}

func TestDialogService_MarkRead(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{})
	carol := seedUser(t, f.store, "carol", models.RoleUser)

	item, err := f.service.GetOrCreateDialog(ctx, f.alice, f.bob.ID)
	require.NoError(t, err)
	m, _, err := f.store.CreateMessage(ctx, item.ID, f.alice.ID, strPtr("hi"), nil)
	require.NoError(t, err)

	err = f.service.MarkRead(ctx, f.alice, m.ID)
	assert.ErrorIs(t, err, utils.ErrAccessDenied, "owner cannot mark own message")

	err = f.service.MarkRead(ctx, carol, m.ID)
	assert.ErrorIs(t, err, utils.ErrNotFound, "outsider")

	err = f.service.MarkRead(ctx, f.bob, uuid.NewString())
	assert.ErrorIs(t, err, utils.ErrNotFound)

	count, err := f.service.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, f.service.MarkRead(ctx, f.bob, m.ID))
	require.NoError(t, f.service.MarkRead(ctx, f.bob, m.ID), "second mark is a no-op")

	count, err = f.service.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDialogService_ListDialogsCounts(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{})

	item, err := f.service.GetOrCreateDialog(ctx, f.alice, f.bob.ID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := f.store.CreateMessage(ctx, item.ID, f.alice.ID, strPtr("hi"), nil)
		require.NoError(t, err)
	}

	items, err := f.service.ListDialogs(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 3, items[0].MessageCount)
	assert.EqualValues(t, 3, items[0].UnreadCount)
	assert.Equal(t, f.alice.FullName(), items[0].Title)

	items, err = f.service.ListDialogs(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Zero(t, items[0].UnreadCount)
}

func TestDialogService_GetHistory(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{})
	carol := seedUser(t, f.store, "carol", models.RoleUser)

	item, err := f.service.GetOrCreateDialog(ctx, f.alice, f.bob.ID)
	require.NoError(t, err)
	_, _, err = f.store.CreateMessage(ctx, item.ID, f.alice.ID, strPtr("first"), nil)
	require.NoError(t, err)
	_, _, err = f.store.CreateMessage(ctx, item.ID, f.bob.ID, strPtr("second"), nil)
	require.NoError(t, err)

	history, err := f.service.GetHistory(ctx, f.bob, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", *history[0].Text)
	assert.Equal(t, f.alice.FirstName, history[0].FirstName)
	assert.Equal(t, "second", *history[1].Text)
	assert.NotNil(t, history[1].Files)

	_, err = f.service.GetHistory(ctx, carol, item.ID)
	assert.ErrorIs(t, err, utils.ErrAccessDenied)
	_, err = f.service.GetHistory(ctx, f.alice, uuid.NewString())
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestParseMessageInput(t *testing.T) {
	long := make([]byte, maxTextLength+1)
	for i := range long {
		long[i] = 'a'
	}
	tooMany := make([]string, models.MaxMessageFiles+1)
	for i := range tooMany {
		tooMany[i] = uuid.NewString()
	}
	manyJSON, _ := json.Marshal(map[string]interface{}{"files": tooMany})

	for name, frame := range map[string]string{
		"not json":       `hello`,
		"wrong type":     `{"text": 5}`,
		"empty":          `{}`,
		"bad file id":    `{"text": "x", "files": ["nope"]}`,
		"too long":       `{"text": "` + string(long) + `"}`,
		"too many files": string(manyJSON),
	} {
		_, err := ParseMessageInput([]byte(frame))
		assert.ErrorIs(t, err, utils.ErrBadRequest, name)
	}

	input, err := ParseMessageInput([]byte(`{"text": "hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", *input.Text)
	assert.Empty(t, input.Files)
}

func waitMembers(t *testing.T, r *Registry, roomID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Members(roomID) == n }, 2*time.Second, 5*time.Millisecond)
}

func decodeFrame(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestDialogService_SubscribeBroadcastsPersistedMessages(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{})
	item, err := f.service.GetOrCreateDialog(ctx, f.alice, f.bob.ID)
	require.NoError(t, err)

	clientA, connA := newTestClient(f.alice.ID)
	clientB, connB := newTestClient(f.bob.ID)
	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- f.service.Subscribe(ctx, f.alice, clientA, item.ID) }()
	go func() { doneB <- f.service.Subscribe(ctx, f.bob, clientB, item.ID) }()
	waitMembers(t, f.registry, item.ID, 2)

	connA.push(`{"text": "hello", "files": []}`)

	require.Eventually(t, func() bool { return len(connA.frames()) == 1 && len(connB.frames()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, connA.frames()[0], connB.frames()[0])
	frame := decodeFrame(t, connB.frames()[0])
	assert.Equal(t, "hello", frame["text"])
	assert.Equal(t, f.alice.ID, frame["owner_id"])
	assert.Equal(t, false, frame["is_read"])

	count, err := f.store.CountMessages(ctx, item.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// empty frames are ignored, malformed ones answered with an error frame
	connA.push(``)
	connA.push(`{"text": 1}`)
	require.Eventually(t, func() bool { return len(connA.frames()) == 2 }, 2*time.Second, 5*time.Millisecond)
	errFrame := decodeFrame(t, connA.frames()[1])
	assert.EqualValues(t, 4000, errFrame["error"].(map[string]interface{})["code"])
	assert.Len(t, connB.frames(), 1)

	close(connA.inbound)
	require.NoError(t, <-doneA)
	waitMembers(t, f.registry, item.ID, 1)

	close(connB.inbound)
	require.NoError(t, <-doneB)
	assert.False(t, f.registry.IsActive(item.ID))
}

func TestDialogService_SubscribeRefusesOutsiders(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{})
	carol := seedUser(t, f.store, "carol", models.RoleUser)
	item, err := f.service.GetOrCreateDialog(ctx, f.alice, f.bob.ID)
	require.NoError(t, err)

	client, conn := newTestClient(carol.ID)
	err = f.service.Subscribe(ctx, carol, client, item.ID)
	assert.ErrorIs(t, err, utils.ErrAccessDenied)
	code, _ := conn.closeFrame()
	assert.Equal(t, 4030, code)

	client, conn = newTestClient(f.alice.ID)
	err = f.service.Subscribe(ctx, f.alice, client, uuid.NewString())
	assert.ErrorIs(t, err, utils.ErrNotFound)
	code, _ = conn.closeFrame()
	assert.Equal(t, 4040, code)

	assert.False(t, f.registry.IsActive(item.ID))
}

func TestDialogService_SubscribeRejectsUnavailableFiles(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{})
	item, err := f.service.GetOrCreateDialog(ctx, f.alice, f.bob.ID)
	require.NoError(t, err)

	client, conn := newTestClient(f.alice.ID)
	done := make(chan error, 1)
	go func() { done <- f.service.Subscribe(ctx, f.alice, client, item.ID) }()
	waitMembers(t, f.registry, item.ID, 1)

	conn.push(`{"text": "see attached", "files": ["` + uuid.NewString() + `"]}`)
	require.Eventually(t, func() bool { return len(conn.frames()) == 1 }, 2*time.Second, 5*time.Millisecond)
	frame := decodeFrame(t, conn.frames()[0])
	assert.NotNil(t, frame["error"])

	count, err := f.store.CountMessages(ctx, item.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	close(conn.inbound)
	require.NoError(t, <-done)
}

func TestDialogService_SubscribeThrottlesFrames(t *testing.T) {
	ctx := context.Background()
	f := newDialogFixture(t, FrameLimit{Rate: 0.001, Burst: 1})
	item, err := f.service.GetOrCreateDialog(ctx, f.alice, f.bob.ID)
	require.NoError(t, err)

	client, conn := newTestClient(f.alice.ID)
	done := make(chan error, 1)
	go func() { done <- f.service.Subscribe(ctx, f.alice, client, item.ID) }()
	waitMembers(t, f.registry, item.ID, 1)

	conn.push(`{"text": "one"}`)
	conn.push(`{"text": "two"}`)
	require.Eventually(t, func() bool { return len(conn.frames()) == 2 }, 2*time.Second, 5*time.Millisecond)
	frame := decodeFrame(t, conn.frames()[1])
	assert.EqualValues(t, 4290, frame["error"].(map[string]interface{})["code"])

	close(conn.inbound)
	require.NoError(t, <-done)
}
