//go:build integration

// Package db_test contains integration tests for the SurrealDB store.
package db_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/strand/internal/db"
	"github.com/raphaelgruber/strand/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *db.Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	// Start SurrealDB container
	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	// Get container host and port
	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	// Connect to test database
	testDB, err = db.NewClient(ctx, db.Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	// Initialize schema
	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Run tests
	code := m.Run()

	// Cleanup
	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// newTestConversation creates a conversation for a test and returns its id.
func newTestConversation(t *testing.T, creator string, participants ...string) string {
	t.Helper()

	conv, err := testDB.CreateConversation(context.Background(), models.Conversation{
		Title:          "test conversation",
		CreatorID:      creator,
		ParticipantIDs: append([]string{creator}, participants...),
		AutoReply:      true,
	})
	require.NoError(t, err, "create test conversation")
	return conv.ID
}

// appendText appends a message and fails the test on error.
func appendText(t *testing.T, convID, sender, text string) models.Message {
	t.Helper()

	msg, err := testDB.Append(context.Background(), models.Message{
		ConversationID: convID,
		SenderID:       sender,
		Text:           text,
	})
	require.NoError(t, err, "append message")
	return msg
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestAppendAndWindow(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")

	first := appendText(t, convID, "alice", "hey bob")
	second := appendText(t, convID, "bob", "hey alice")

	assert.NotEmpty(t, first.ID, "Append should assign a store id")
	assert.False(t, first.Temporary(), "store ids are never temporary")
	assert.True(t, first.Resolved(), "Append should return a server-stamped send time")
	assert.Equal(t, models.StatusSending, first.Status)
	assert.True(t, first.ReadByUser("alice"), "sender should be in read_by at creation")

	window, err := testDB.Window(ctx, convID, 50)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, first.ID, window[0].ID, "window should be ascending by send time")
	assert.Equal(t, second.ID, window[1].ID)
}

func TestWindowBounded(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		appendText(t, convID, "alice", fmt.Sprintf("message %d", i))
	}

	window, err := testDB.Window(ctx, convID, 3)
	require.NoError(t, err)
	require.Len(t, window, 3)

	// Newest three, ascending.
	assert.Equal(t, "message 2", window[0].Text, "oldest of the newest three first")
	assert.Equal(t, "message 4", window[2].Text, "newest message last")
}

func TestPageWalk(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")

	const total = 7
	for i := 0; i < total; i++ {
		appendText(t, convID, "alice", fmt.Sprintf("page msg %d", i))
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		msgs, next, hasMore, err := testDB.Page(ctx, convID, 3, cursor)
		require.NoError(t, err)
		pages++

		for _, m := range msgs {
			assert.False(t, seen[m.ID], "message %s appeared on two pages", m.ID)
			seen[m.ID] = true
		}
		// Within a page, oldest to newest.
		for i := 1; i < len(msgs); i++ {
			assert.False(t, msgs[i].SentAt.Before(msgs[i-1].SentAt), "page messages should be ascending by send time")
		}

		if !hasMore {
			break
		}
		cursor = next
		require.LessOrEqual(t, pages, 10, "pagination did not terminate")
	}

	assert.Len(t, seen, total, "every message should appear exactly once across pages")
}

func TestPageNewestFirstPage(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")

	appendText(t, convID, "alice", "older")
	newest := appendText(t, convID, "alice", "newest")

	msgs, _, _, err := testDB.Page(ctx, convID, 1, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, newest.ID, msgs[0].ID, "empty cursor should return the newest page")
}

func TestMarkDeliveredIdempotent(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")
	msg := appendText(t, convID, "alice", "deliver me")

	require.NoError(t, testDB.MarkDelivered(ctx, convID, msg.ID))
	require.NoError(t, testDB.MarkDelivered(ctx, convID, msg.ID), "repeat must not error")

	window, err := testDB.Window(ctx, convID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, window)
	assert.Equal(t, models.StatusDelivered, window[0].Status)
}

func TestMarkReadAdvancesStatus(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")
	msg := appendText(t, convID, "alice", "read me")

	require.NoError(t, testDB.MarkDelivered(ctx, convID, msg.ID))
	require.NoError(t, testDB.MarkRead(ctx, convID, msg.ID, "bob"))

	window, err := testDB.Window(ctx, convID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, window)
	got := window[0]
	assert.True(t, got.ReadByUser("bob"), "bob should be in read_by after MarkRead")
	assert.Equal(t, models.StatusRead, got.Status, "bob was the last unread recipient")

	// Repeat must not error or duplicate the read_by entry.
	require.NoError(t, testDB.MarkRead(ctx, convID, msg.ID, "bob"))
	window, err = testDB.Window(ctx, convID, 10)
	require.NoError(t, err)
	count := 0
	for _, id := range window[0].ReadBy {
		if id == "bob" {
			count++
		}
	}
	assert.Equal(t, 1, count, "bob should appear once in read_by")
}

func TestMarkReadPartialRecipients(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob", "carol")
	msg := appendText(t, convID, "alice", "group message")

	require.NoError(t, testDB.MarkDelivered(ctx, convID, msg.ID))
	require.NoError(t, testDB.MarkRead(ctx, convID, msg.ID, "bob"))

	window, err := testDB.Window(ctx, convID, 10)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, window[0].Status, "status should hold while carol has not read")

	require.NoError(t, testDB.MarkRead(ctx, convID, msg.ID, "carol"))
	window, err = testDB.Window(ctx, convID, 10)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, window[0].Status, "status should advance after all recipients read")
}

func TestLatestFrom(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")

	_, err := testDB.LatestFrom(ctx, convID, "alice")
	assert.ErrorIs(t, err, db.ErrNotFound, "no messages yet")

	appendText(t, convID, "alice", "first")
	want := appendText(t, convID, "alice", "second")
	appendText(t, convID, "bob", "from bob")

	got, err := testDB.LatestFrom(ctx, convID, "alice")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID, "latest from alice, not from bob")
}

func TestSetMetadataMerges(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")
	msg := appendText(t, convID, "alice", "tag me")

	require.NoError(t, testDB.SetMetadata(ctx, msg.ID, map[string]any{"category": "faq"}))
	require.NoError(t, testDB.SetMetadata(ctx, msg.ID, map[string]any{models.MetaAutoReplySent: true}))

	window, err := testDB.Window(ctx, convID, 10)
	require.NoError(t, err)
	meta := window[0].Metadata
	assert.Equal(t, "faq", meta["category"], "earlier metadata key must survive the merge")
	assert.Equal(t, true, meta[models.MetaAutoReplySent])
}

// =============================================================================
// SUBSCRIPTION TESTS
// =============================================================================

func TestSubscribeDeliversWindows(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")
	appendText(t, convID, "alice", "before subscribe")

	windows, unsubscribe, err := testDB.Subscribe(ctx, convID, 10)
	require.NoError(t, err)
	defer unsubscribe()

	// Initial window contains existing history.
	select {
	case window := <-windows:
		require.Len(t, window, 1)
		assert.Equal(t, "before subscribe", window[0].Text)
	case <-time.After(10 * time.Second):
		t.Fatal("no initial window delivered")
	}

	sent := appendText(t, convID, "bob", "after subscribe")

	// A refreshed window containing the new message should arrive.
	deadline := time.After(10 * time.Second)
	for {
		select {
		case window, ok := <-windows:
			require.True(t, ok, "window channel closed unexpectedly")
			for _, m := range window {
				if m.ID == sent.ID {
					return
				}
			}
		case <-deadline:
			t.Fatal("subscription never delivered the new message")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	ctx := context.Background()
	convID := newTestConversation(t, "alice", "bob")

	windows, unsubscribe, err := testDB.Subscribe(ctx, convID, 10)
	require.NoError(t, err)

	unsubscribe()
	// Second call must be a no-op.
	unsubscribe()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case _, ok := <-windows:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("window channel not closed after unsubscribe")
		}
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()

	created, err := testDB.CreateConversation(ctx, models.Conversation{
		Title:          "support",
		CreatorID:      "creator-1",
		ParticipantIDs: []string{"creator-1", "customer-1"},
		AutoReply:      true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID, "created conversation should have an id")

	got, err := testDB.GetConversation(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "creator-1", got.CreatorID)
	assert.True(t, got.AutoReply)
	assert.True(t, got.HasParticipant("customer-1"), "participant list should survive the round-trip")

	_, err = testDB.GetConversation(ctx, "does-not-exist")
	assert.ErrorIs(t, err, db.ErrNotFound)

	list, err := testDB.ListConversations(ctx, "customer-1")
	require.NoError(t, err)
	found := false
	for _, c := range list {
		if c.ID == created.ID {
			found = true
		}
	}
	assert.True(t, found, "ListConversations should include the created conversation")
}

// =============================================================================
// PROFILE TESTS
// =============================================================================

func TestProfileUpsertAndPresence(t *testing.T) {
	ctx := context.Background()

	p, err := testDB.UpsertProfile(ctx, models.Profile{
		UserID:      "profile-user",
		DisplayName: "Pat",
		AvatarEmoji: "🦜",
	})
	require.NoError(t, err)
	assert.Equal(t, "Pat", p.DisplayName)

	// Upsert again keeps it one row.
	_, err = testDB.UpsertProfile(ctx, models.Profile{
		UserID:      "profile-user",
		DisplayName: "Patricia",
	})
	require.NoError(t, err)

	got, err := testDB.GetProfile(ctx, "profile-user")
	require.NoError(t, err)
	assert.Equal(t, "Patricia", got.DisplayName)

	require.NoError(t, testDB.SetPresence(ctx, "profile-user", true))
	got, err = testDB.GetProfile(ctx, "profile-user")
	require.NoError(t, err)
	assert.True(t, got.Online, "profile should be online after SetPresence(true)")

	_, err = testDB.GetProfile(ctx, "nobody")
	assert.ErrorIs(t, err, db.ErrNotFound)
}
