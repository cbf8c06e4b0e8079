package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/syncbox/internal/mutation"
	"github.com/matheus3301/syncbox/internal/tempid"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + media cache)", result.Version)
	}
}

func TestConversationUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	c := &Conversation{ServerID: "conv-1", Kind: KindDirect, Title: "Alice", LastMessageAt: 1000, LastMessagePreview: "hello"}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].Title != "Alice" || convs[0].LastMessagePreview != "hello" {
		t.Errorf("conversation = %+v", convs[0])
	}
}

func TestConversationUpsertPreservesClientColumns(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ServerID: "conv-1", Kind: KindDirect, Title: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementUnread("conv-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConversationPinned("conv-1", true); err != nil {
		t.Fatal(err)
	}

	// A later server upsert must not reset the client-maintained columns.
	if err := db.UpsertConversation(&Conversation{ServerID: "conv-1", Kind: KindDirect, Title: "Alice B"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 1 {
		t.Errorf("unread_count = %d, want 1", c.UnreadCount)
	}
	if !c.IsPinned {
		t.Error("is_pinned reset by server upsert")
	}
	if c.Title != "Alice B" {
		t.Errorf("title = %q, want Alice B", c.Title)
	}
}

func TestConversationUpsertKeepsNewestPreview(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ServerID: "conv-1", Kind: KindDirect, LastMessageAt: 2000, LastMessagePreview: "newer"}); err != nil {
		t.Fatal(err)
	}
	// A stale record must not roll the preview back.
	if err := db.UpsertConversation(&Conversation{ServerID: "conv-1", Kind: KindDirect, LastMessageAt: 1000, LastMessagePreview: "older"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageAt != 2000 || c.LastMessagePreview != "newer" {
		t.Errorf("got (%d, %q), want (2000, newer)", c.LastMessageAt, c.LastMessagePreview)
	}
}

func TestReplaceParticipants(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ServerID: "conv-1", Kind: KindGroup, Title: "Team"}); err != nil {
		t.Fatal(err)
	}

	first := []Participant{
		{UserID: "u1", Role: "admin", JoinedAt: 100},
		{UserID: "u2", Role: "member", JoinedAt: 200},
	}
	if err := db.ReplaceParticipants("conv-1", first); err != nil {
		t.Fatal(err)
	}

	// A later sync fully replaces the prior rows.
	second := []Participant{
		{UserID: "u2", Role: "admin", JoinedAt: 200},
		{UserID: "u3", Role: "member", JoinedAt: 300},
	}
	if err := db.ReplaceParticipants("conv-1", second); err != nil {
		t.Fatal(err)
	}

	parts, err := db.ListParticipants("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d participants, want 2", len(parts))
	}
	if parts[0].UserID != "u2" || parts[0].Role != "admin" {
		t.Errorf("participant[0] = %+v, want u2/admin", parts[0])
	}
	if parts[1].UserID != "u3" {
		t.Errorf("participant[1] = %+v, want u3", parts[1])
	}
}

func TestReplaceParticipantsUnknownConversation(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceParticipants("missing", []Participant{{UserID: "u1"}}); err == nil {
		t.Error("ReplaceParticipants() should fail for an unknown conversation")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ServerID: "m1", ConversationID: "conv-1", SenderID: "u1", Kind: "text", Content: "hello", Status: StatusSent, CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Content = "hello updated"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-1", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Content != "hello updated" {
		t.Errorf("content = %q, want hello updated", msgs[0].Content)
	}
}

func TestMessageUpsertPreservesLocalMediaPath(t *testing.T) {
	db := testDB(t)

	m := &Message{ServerID: "m1", ConversationID: "conv-1", SenderID: "u1", Kind: "image", MediaURL: "https://x/a.jpg", Status: StatusSent, CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateLocalMediaPath("m1", "/cache/a.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.MediaLocalPath != "/cache/a.jpg" {
		t.Errorf("media_local_path = %q, want /cache/a.jpg (clobbered by upsert)", got.MediaLocalPath)
	}
}

func TestSaveOptimisticCommitsBothRows(t *testing.T) {
	db := testDB(t)

	tmp := tempid.New()
	payload, err := mutation.Encode(&mutation.CreateMessage{
		TempID: tmp, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	msg := &Message{ServerID: tmp, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi", CreatedAt: 1000}
	if err := db.SaveOptimistic(msg, mutation.EntityMessage, mutation.ActionCreate, payload); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != StatusSending {
		t.Fatalf("optimistic row = %+v, want status sending", got)
	}

	muts, err := db.PendingMutations(mutation.EntityMessage)
	if err != nil {
		t.Fatal(err)
	}
	if len(muts) != 1 || muts[0].EntityID != tmp {
		t.Fatalf("mutations = %+v, want one entry for %s", muts, tmp)
	}
}

func TestSaveOptimisticRejectsServerID(t *testing.T) {
	db := testDB(t)
	msg := &Message{ServerID: "42", ConversationID: "conv-1", SenderID: "me", Kind: "text"}
	if err := db.SaveOptimistic(msg, mutation.EntityMessage, mutation.ActionCreate, []byte("{}")); err == nil {
		t.Error("SaveOptimistic() should reject a non-temp id")
	}
	count, err := db.MutationCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("mutation count = %d, want 0 (nothing committed)", count)
	}
}

func TestPromoteOptimisticReplacesIdentity(t *testing.T) {
	db := testDB(t)

	tmp := tempid.New()
	payload, _ := mutation.Encode(&mutation.CreateMessage{
		TempID: tmp, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi",
	})
	msg := &Message{ServerID: tmp, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi", CreatedAt: 1000}
	if err := db.SaveOptimistic(msg, mutation.EntityMessage, mutation.ActionCreate, payload); err != nil {
		t.Fatal(err)
	}

	confirmed := &Message{ServerID: "42", ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi", Status: StatusSent, CreatedAt: 1500}
	if err := db.PromoteOptimistic(tmp, confirmed); err != nil {
		t.Fatal(err)
	}

	// Exactly one row, with the server id and sent status.
	if got, _ := db.GetMessage(tmp); got != nil {
		t.Errorf("temp row still exists: %+v", got)
	}
	got, err := db.GetMessage("42")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != StatusSent {
		t.Fatalf("confirmed row = %+v, want status sent", got)
	}
	msgs, _ := db.ListMessages("conv-1", 0, 10)
	if len(msgs) != 1 {
		t.Errorf("got %d rows, want exactly 1", len(msgs))
	}

	// Queue entry for the temp id is gone.
	count, _ := db.MutationCount()
	if count != 0 {
		t.Errorf("mutation count = %d, want 0", count)
	}
}

// TestPromoteOptimisticWithEchoedRow covers the race where the server pushes
// the confirmed message before the send ack arrives: the confirmed server id
// already has a row, so the temp row must be dropped, not duplicated.
func TestPromoteOptimisticWithEchoedRow(t *testing.T) {
	db := testDB(t)

	tmp := tempid.New()
	payload, _ := mutation.Encode(&mutation.CreateMessage{
		TempID: tmp, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi",
	})
	if err := db.SaveOptimistic(&Message{ServerID: tmp, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi", CreatedAt: 1000},
		mutation.EntityMessage, mutation.ActionCreate, payload); err != nil {
		t.Fatal(err)
	}
	// Echoed push arrives first.
	if err := db.UpsertMessage(&Message{ServerID: "42", ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi", Status: StatusSent, CreatedAt: 1500}); err != nil {
		t.Fatal(err)
	}

	if err := db.PromoteOptimistic(tmp, &Message{ServerID: "42", ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "hi", Status: StatusSent, CreatedAt: 1500}); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("conv-1", 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want exactly 1 for server id 42", len(msgs))
	}
	if msgs[0].ServerID != "42" {
		t.Errorf("server_id = %q, want 42", msgs[0].ServerID)
	}
}

func TestFindOptimisticCandidateOldestFirst(t *testing.T) {
	db := testDB(t)

	older := tempid.New()
	newer := tempid.New()
	for i, id := range []string{older, newer} {
		payload, _ := mutation.Encode(&mutation.CreateMessage{
			TempID: id, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "dup",
		})
		if err := db.SaveOptimistic(&Message{ServerID: id, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "dup", CreatedAt: int64(1000 + i)},
			mutation.EntityMessage, mutation.ActionCreate, payload); err != nil {
			t.Fatal(err)
		}
	}

	cand, err := db.FindOptimisticCandidate("conv-1", "me", "text", "dup")
	if err != nil {
		t.Fatal(err)
	}
	if cand == nil || cand.ServerID != older {
		t.Errorf("candidate = %+v, want the older row %s", cand, older)
	}
}

func TestFindOptimisticCandidateIgnoresConfirmedAndFailed(t *testing.T) {
	db := testDB(t)

	// A confirmed row with identical content is never a candidate.
	if err := db.UpsertMessage(&Message{ServerID: "41", ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "dup", Status: StatusSent, CreatedAt: 900}); err != nil {
		t.Fatal(err)
	}
	// Nor is a failed optimistic row; only status exactly "sending" matches.
	tmp := tempid.New()
	payload, _ := mutation.Encode(&mutation.CreateMessage{
		TempID: tmp, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "dup",
	})
	if err := db.SaveOptimistic(&Message{ServerID: tmp, ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "dup", CreatedAt: 1000},
		mutation.EntityMessage, mutation.ActionCreate, payload); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateMessageStatus(tmp, StatusFailed); err != nil {
		t.Fatal(err)
	}

	cand, err := db.FindOptimisticCandidate("conv-1", "me", "text", "dup")
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Errorf("candidate = %+v, want nil", cand)
	}
}

func TestPendingMutationsFIFO(t *testing.T) {
	db := testDB(t)

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = tempid.New()
		payload, _ := mutation.Encode(&mutation.CreateMessage{
			TempID: ids[i], ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "msg",
		})
		if err := db.SaveOptimistic(&Message{ServerID: ids[i], ConversationID: "conv-1", SenderID: "me", Kind: "text", Content: "msg", CreatedAt: int64(1000 + i)},
			mutation.EntityMessage, mutation.ActionCreate, payload); err != nil {
			t.Fatal(err)
		}
	}

	muts, err := db.PendingMutations(mutation.EntityMessage)
	if err != nil {
		t.Fatal(err)
	}
	if len(muts) != 3 {
		t.Fatalf("got %d mutations, want 3", len(muts))
	}
	for i, m := range muts {
		if m.EntityID != ids[i] {
			t.Errorf("mutation[%d] = %s, want %s (FIFO order)", i, m.EntityID, ids[i])
		}
	}
}

func TestBumpMutationRetry(t *testing.T) {
	db := testDB(t)

	if err := db.EnqueueMutation(mutation.EntityMessage, tempid.New(), mutation.ActionCreate, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	muts, _ := db.PendingMutations(mutation.EntityMessage)
	if len(muts) != 1 {
		t.Fatal("expected one mutation")
	}
	if err := db.BumpMutationRetry(muts[0].ID); err != nil {
		t.Fatal(err)
	}

	muts, _ = db.PendingMutations(mutation.EntityMessage)
	if muts[0].RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", muts[0].RetryCount)
	}
	if muts[0].LastRetryAt == 0 {
		t.Error("last_retry_at not set")
	}
}

func TestReceiptsOneRowPerUser(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ServerID: "m1", ConversationID: "conv-1", SenderID: "me", Kind: "text", Status: StatusSent, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	for _, at := range []int64{2000, 3000} {
		applied, err := db.ApplyReceipt("m1", "u1", at)
		if err != nil {
			t.Fatal(err)
		}
		if !applied {
			t.Fatal("receipt not applied")
		}
	}

	receipts, err := db.ListReceipts("m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 {
		t.Fatalf("got %d receipts, want 1", len(receipts))
	}
	if receipts[0].ReadAt != 3000 {
		t.Errorf("read_at = %d, want 3000 (newest kept)", receipts[0].ReadAt)
	}
}

func TestReceiptForUnknownMessage(t *testing.T) {
	db := testDB(t)
	applied, err := db.ApplyReceipt("missing", "u1", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("receipt for unknown message should be dropped")
	}
}

func TestUserPresenceUpdate(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUser(&User{ServerID: "u1", DisplayName: "Alice", Presence: "offline"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdatePresence("u1", "online", 5000); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Presence != "online" || u.LastSeenAt != 5000 {
		t.Errorf("user = %+v, want online/5000", u)
	}
	if u.DisplayName != "Alice" {
		t.Errorf("display_name = %q, want Alice (presence update clobbered profile)", u.DisplayName)
	}
}

func TestContactUpsert(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{ServerID: "ct1", UserID: "me", ContactUserID: "u2", Nickname: "Bob"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetContactFavorite("ct1", true); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact("ct1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Nickname != "Bob" || !c.IsFavorite {
		t.Errorf("contact = %+v", c)
	}
}

func TestMediaCacheIndex(t *testing.T) {
	db := testDB(t)

	entry := &CachedMedia{URL: "https://x/a.jpg", LocalPath: "/cache/a.jpg", MimeType: "image/jpeg", SizeBytes: 100, CachedAt: 1000, LastAccessedAt: 1000}
	if err := db.UpsertCachedMedia(entry); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertCachedMedia(&CachedMedia{URL: "https://x/b.jpg", LocalPath: "/cache/b.jpg", SizeBytes: 50, CachedAt: 2000, LastAccessedAt: 2000}); err != nil {
		t.Fatal(err)
	}

	size, err := db.CachedMediaSize()
	if err != nil {
		t.Fatal(err)
	}
	if size != 150 {
		t.Errorf("size = %d, want 150", size)
	}

	old, err := db.ListCachedMediaOlderThan(1500)
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 1 || old[0].URL != "https://x/a.jpg" {
		t.Errorf("old entries = %+v, want just a.jpg", old)
	}

	if err := db.TouchCachedMedia("https://x/a.jpg", 3000); err != nil {
		t.Fatal(err)
	}
	old, _ = db.ListCachedMediaOlderThan(1500)
	if len(old) != 0 {
		t.Errorf("old entries after touch = %+v, want none", old)
	}
}

func TestHardDeleteConversation(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ServerID: "conv-1", Kind: KindDirect}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceParticipants("conv-1", []Participant{{UserID: "u1"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ServerID: "m1", ConversationID: "conv-1", SenderID: "u1", Kind: "text", Status: StatusSent, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	if err := db.HardDeleteConversation("conv-1"); err != nil {
		t.Fatal(err)
	}

	if c, _ := db.GetConversation("conv-1"); c != nil {
		t.Error("conversation still exists")
	}
	if msgs, _ := db.ListMessages("conv-1", 0, 10); len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestWipe(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ServerID: "conv-1", Kind: KindDirect}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ServerID: "m1", ConversationID: "conv-1", SenderID: "u1", Kind: "text", Status: StatusSent, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueMutation(mutation.EntityMessage, tempid.New(), mutation.ActionCreate, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertCachedMedia(&CachedMedia{URL: "https://x/a.jpg", LocalPath: "/p", CachedAt: time.Now().UnixMilli()}); err != nil {
		t.Fatal(err)
	}

	if err := db.Wipe(); err != nil {
		t.Fatal(err)
	}

	if n, _ := db.ConversationCount(); n != 0 {
		t.Errorf("conversations = %d, want 0", n)
	}
	if n, _ := db.MessageCount(); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
	if n, _ := db.MutationCount(); n != 0 {
		t.Errorf("mutations = %d, want 0", n)
	}
	if size, _ := db.CachedMediaSize(); size != 0 {
		t.Errorf("media size = %d, want 0", size)
	}
}
