package content

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"lexchat/internal/apperr"
	"lexchat/internal/config"
	"lexchat/internal/models"
	"lexchat/internal/storage"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, " Alice ", "Alice@Example.com", "correct horse")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" || user.Name != "Alice" || !user.IsActive {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "correct horse" {
		t.Fatalf("password stored in plaintext")
	}

	if _, err := svc.RegisterUser(ctx, "Other", "alice@example.com", "password123"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "Bob", "bob@example.com", "short"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "Bob", "not-an-email", "password123"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for email, got %v", err)
	}

	got, err := svc.Authenticate(ctx, "ALICE@example.com", "correct horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("authenticated wrong user: %s", got.ID)
	}
	if _, err := svc.Authenticate(ctx, "alice@example.com", "wrong password"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "whatever1"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}

	if err := svc.SetUserActive(ctx, user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "alice@example.com", "correct horse"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("inactive user authenticated: %v", err)
	}
}

func TestUpdateAndDeleteUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := mustUser(t, svc, "carol@example.com")

	updated, err := svc.UpdateUserName(ctx, user.ID, "Carol Q")
	if err != nil {
		t.Fatalf("rename user: %v", err)
	}
	if updated.Name != "Carol Q" {
		t.Fatalf("expected new name, got %q", updated.Name)
	}
	if _, err := svc.UpdateUserName(ctx, user.ID, "  "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	chat, err := svc.CreateChat(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := svc.GetChat(ctx, user.ID, chat.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("chat survived user deletion: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestChatLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := mustUser(t, svc, "dave@example.com")
	stranger := mustUser(t, svc, "eve@example.com")

	chat, err := svc.CreateChat(ctx, owner.ID, "   ")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if chat.Title != models.DefaultChatTitle {
		t.Fatalf("expected default title, got %q", chat.Title)
	}
	if _, err := svc.GetChat(ctx, stranger.ID, chat.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("foreign chat visible: %v", err)
	}

	second, err := svc.CreateChat(ctx, owner.ID, "Lease questions")
	if err != nil {
		t.Fatalf("create second chat: %v", err)
	}
	if _, err := svc.CreateMessage(ctx, models.Message{ChatID: chat.ID, Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("create message: %v", err)
	}
	chats, err := svc.ListChats(ctx, owner.ID, 0, 0)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != chat.ID || chats[1].ID != second.ID {
		t.Fatalf("expected most recently active chat first, got %+v", chats)
	}

	if _, err := svc.RenameChat(ctx, stranger.ID, chat.ID, "mine"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("stranger renamed chat: %v", err)
	}
	if err := svc.DeleteChat(ctx, stranger.ID, chat.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("stranger deleted chat: %v", err)
	}
	if err := svc.DeleteChat(ctx, owner.ID, chat.ID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	msgs, err := svc.ListMessages(ctx, chat.ID, 0, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived chat deletion: %d", len(msgs))
	}
}

func TestClaimAutoTitleOnlyOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := mustUser(t, svc, "frank@example.com")
	chat, err := svc.CreateChat(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	won, err := svc.ClaimAutoTitle(ctx, chat.ID, "Contract Review")
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	won, err = svc.ClaimAutoTitle(ctx, chat.ID, "Something Else")
	if err != nil || won {
		t.Fatalf("second claim: won=%v err=%v", won, err)
	}
	got, err := svc.GetChat(ctx, user.ID, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != "Contract Review" || !got.AutoTitled {
		t.Fatalf("unexpected chat after claims: %+v", got)
	}

	renamed, err := svc.CreateChat(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := svc.RenameChat(ctx, user.ID, renamed.ID, "My title"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if won, _ := svc.ClaimAutoTitle(ctx, renamed.ID, "Auto"); won {
		t.Fatalf("auto title overwrote a user rename")
	}
}

func TestMessagesOrderingAndRecent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := mustUser(t, svc, "gina@example.com")
	chat, err := svc.CreateChat(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	for i := 0; i < 13; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		if _, err := svc.CreateMessage(ctx, models.Message{ChatID: chat.ID, Role: role, Content: fmt.Sprintf("m%02d", i)}); err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}

	all, err := svc.ListMessages(ctx, chat.ID, 0, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(all) != 13 {
		t.Fatalf("expected 13 messages, got %d", len(all))
	}
	for i, m := range all {
		if m.Content != fmt.Sprintf("m%02d", i) {
			t.Fatalf("message %d out of order: %q", i, m.Content)
		}
	}

	recent, err := svc.RecentMessages(ctx, chat.ID, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(recent) != 10 || recent[0].Content != "m03" || recent[9].Content != "m12" {
		t.Fatalf("unexpected recent window: first=%q last=%q len=%d", recent[0].Content, recent[len(recent)-1].Content, len(recent))
	}

	page, err := svc.ListMessages(ctx, chat.ID, 5, 10)
	if err != nil {
		t.Fatalf("page messages: %v", err)
	}
	if len(page) != 3 || page[0].Content != "m10" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestUpdateMessageMergesMetadata(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := mustUser(t, svc, "hank@example.com")
	chat, _ := svc.CreateChat(ctx, user.ID, "")

	msg, err := svc.CreateMessage(ctx, models.Message{
		ChatID:   chat.ID,
		Role:     models.RoleAssistant,
		Metadata: map[string]any{models.MetaModel: "gpt-test"},
	})
	if err != nil {
		t.Fatalf("create placeholder: %v", err)
	}
	updated, err := svc.UpdateMessageContent(ctx, chat.ID, msg.ID, "final answer", map[string]any{models.MetaPartial: true})
	if err != nil {
		t.Fatalf("update message: %v", err)
	}
	if updated.Content != "final answer" {
		t.Fatalf("unexpected content %q", updated.Content)
	}

	stored, err := svc.GetMessage(ctx, chat.ID, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if stored.Metadata[models.MetaModel] != "gpt-test" || stored.Metadata[models.MetaPartial] != true {
		t.Fatalf("metadata not merged: %+v", stored.Metadata)
	}

	if err := svc.DeleteMessage(ctx, chat.ID, msg.ID); err != nil {
		t.Fatalf("delete message: %v", err)
	}
	if _, err := svc.GetMessage(ctx, chat.ID, msg.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFilesInvariantAndUsage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := mustUser(t, svc, "ivy@example.com")

	if _, err := svc.CreateFile(ctx, models.File{
		UserID: user.ID, OriginalName: "a.pdf", FilePath: "k", FileURL: "u", Processed: true,
	}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("processed file without text accepted: %v", err)
	}

	text := "stray"
	unprocessed, err := svc.CreateFile(ctx, models.File{
		UserID: user.ID, OriginalName: "scan.pdf", FilePath: "k1", FileURL: "/files/k1",
		FileSize: 100, ContentType: "application/pdf", ExtractionText: &text,
	})
	if err != nil {
		t.Fatalf("create unprocessed file: %v", err)
	}
	if unprocessed.ExtractionText != nil {
		t.Fatalf("unprocessed file kept extraction text")
	}

	body := "Lease terms"
	processed, err := svc.CreateFile(ctx, models.File{
		UserID: user.ID, OriginalName: "lease.txt", FilePath: "k2", FileURL: "/files/k2",
		FileSize: 250, ContentType: "text/plain", Processed: true, ExtractionText: &body,
	})
	if err != nil {
		t.Fatalf("create processed file: %v", err)
	}

	files, err := svc.ListFiles(ctx, user.ID, 100, 0)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 2 || files[0].ID != processed.ID || files[0].Text() != "Lease terms" || files[1].Text() != "" {
		t.Fatalf("unexpected files: %+v", files)
	}

	used, err := svc.StorageUsage(ctx, user.ID)
	if err != nil || used != 350 {
		t.Fatalf("storage usage = %d, %v", used, err)
	}
	if err := svc.MarkFileProcessed(ctx, user.ID, unprocessed.ID, "ocr text"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if f, _ := svc.GetFile(ctx, user.ID, unprocessed.ID); f.Text() != "ocr text" {
		t.Fatalf("expected processed text, got %+v", f)
	}
	if _, err := svc.DeleteFile(ctx, user.ID, processed.ID); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, err := svc.DeleteFile(ctx, user.ID, processed.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	chat, _ := svc.CreateChat(ctx, user.ID, "")
	msg, _ := svc.CreateMessage(ctx, models.Message{ChatID: chat.ID, Role: models.RoleAssistant, Content: "ok"})
	if _, err := svc.RecordUsage(ctx, models.AIUsage{
		UserID: user.ID, ChatID: &chat.ID, MessageID: &msg.ID, ServiceType: models.ServiceChat,
		ModelName: "m", PromptTokens: 10, CompletionTokens: 5, CostEstimate: 0.25,
	}); err != nil {
		t.Fatalf("record chat usage: %v", err)
	}
	if _, err := svc.RecordUsage(ctx, models.AIUsage{
		UserID: user.ID, ChatID: &chat.ID, ServiceType: models.ServiceTitle, ModelName: "m", PromptTokens: 3, CompletionTokens: 2,
	}); err != nil {
		t.Fatalf("record title usage: %v", err)
	}
	if _, err := svc.RecordUsage(ctx, models.AIUsage{UserID: user.ID, ServiceType: "embedding"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := svc.DeleteChat(ctx, user.ID, chat.ID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	rows, err := svc.ListUsage(ctx, user.ID, 0, 0)
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("usage rows lost with chat: %d", len(rows))
	}
	for _, r := range rows {
		if r.ChatID != nil || r.MessageID != nil {
			t.Fatalf("usage still references deleted chat: %+v", r)
		}
	}
	summary, err := svc.UsageSummary(ctx, user.ID)
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if summary.Requests != 2 || summary.TotalTokens != 20 || summary.CostEstimate != 0.25 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return NewService(db, Options{BcryptCost: bcrypt.MinCost})
}

func mustUser(t *testing.T, svc *Service, email string) *models.User {
	t.Helper()
	user, err := svc.RegisterUser(context.Background(), "Test User", email, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}
