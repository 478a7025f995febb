package branching

import (
	"context"
	"testing"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/store/memory"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

func newTestEngine(t *testing.T) (*Service, context.Context) {
	t.Helper()
	return NewService(memory.New(), nil), context.Background()
}

// seedChat creates a chat and appends the given contents as alternating
// user/assistant turns, returning the chat and the resolved sequence.
func seedChat(t *testing.T, ctx context.Context, s *Service, contents ...string) (*model.Chat, []model.Message) {
	t.Helper()
	chat, err := s.CreateChat(ctx, testUser, "test chat", model.VisibilityPrivate)
	require.NoError(t, err)
	roles := []model.Role{model.RoleUser, model.RoleAssistant}
	for i, content := range contents {
		_, err := s.AppendMessage(ctx, testUser, chat.ID, roles[i%2], content, "")
		require.NoError(t, err)
	}
	msgs, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, len(contents))
	return chat, msgs
}

func contentsOf(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Content
	}
	return out
}

func TestCreateChat_CreatesMainBranch(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, err := s.CreateChat(ctx, testUser, "hello", model.VisibilityPrivate)
	require.NoError(t, err)
	require.NotNil(t, chat.ActiveBranchID)

	main, err := s.store.Branches().FindMain(ctx, chat.ID)
	require.NoError(t, err)
	require.True(t, main.IsMain)
	require.Equal(t, main.ID, *chat.ActiveBranchID)

	msgs, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestCreateMainBranch_SecondCallConflicts(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, err := s.CreateChat(ctx, testUser, "hello", model.VisibilityPrivate)
	require.NoError(t, err)

	_, err = s.CreateMainBranch(ctx, chat.ID)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestAppendMessage_GrowsActivePathInOrder(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1", "q2")
	require.Equal(t, []string{"q1", "a1", "q2"}, contentsOf(msgs))

	got, err := s.store.Chats().Get(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, got.ActiveMessages, 3)
}

func TestGetChatMessages_UnknownChat(t *testing.T) {
	s, ctx := newTestEngine(t)
	_, err := s.GetChatMessages(ctx, testUser, uuid.New())
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestEdit_FirstEditCreatesTwoBranches(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1", "q2", "a2")

	res, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[1].ID, "a1-edited")
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalBranches)
	require.Equal(t, 2, res.BranchNumber)

	// The active path is now the shared prefix plus the edited copy.
	resolved, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "a1-edited"}, contentsOf(resolved))

	// The edited copy keeps the source message's position in time.
	require.Equal(t, msgs[1].CreatedAt, resolved[1].CreatedAt)

	// The chat now points at the edited branch, and the original message
	// records both variants.
	got, err := s.store.Chats().Get(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, res.NewBranchID, *got.ActiveBranchID)

	original, err := s.store.Messages().Get(ctx, msgs[1].ID)
	require.NoError(t, err)
	require.Len(t, original.Branches, 2)
	require.Equal(t, res.NewBranchID, *original.ActiveBranchID)
}

func TestEdit_SecondEditAddsOneBranch(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1", "q2")

	first, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[1].ID, "a1-v2")
	require.NoError(t, err)
	require.Equal(t, 2, first.TotalBranches)

	// Edit through the variant currently on the active path; the engine
	// resolves it to the same divergence point.
	resolved, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	head := resolved[1]
	require.Equal(t, "a1-v2", head.Content)

	second, err := s.CreateBranchFromMessageEdit(ctx, testUser, head.ID, "a1-v3")
	require.NoError(t, err)
	require.Equal(t, 3, second.TotalBranches)
	require.Equal(t, 4, second.BranchNumber)

	resolved, err = s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "a1-v3"}, contentsOf(resolved))
}

func TestEdit_SharedPrefixIsStable(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1", "q2", "a2")

	_, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[2].ID, "q2-edited")
	require.NoError(t, err)

	resolved, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "a1", "q2-edited"}, contentsOf(resolved))
	require.Equal(t, msgs[0].ID, resolved[0].ID)
	require.Equal(t, msgs[1].ID, resolved[1].ID)
}

func TestEdit_EmptyContentRejected(t *testing.T) {
	s, ctx := newTestEngine(t)
	_, msgs := seedChat(t, ctx, s, "q1", "a1")

	_, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[0].ID, "   ")
	var v *registrystore.ValidationError
	require.ErrorAs(t, err, &v)
}

func TestNavigate_RoundTripRestoresOriginalPath(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1", "q2", "a2")
	originalPath := contentsOf(msgs)

	res, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[1].ID, "a1-edited")
	require.NoError(t, err)

	original, err := s.store.Messages().Get(ctx, msgs[1].ID)
	require.NoError(t, err)
	require.Len(t, original.Branches, 2)
	var originalBranch uuid.UUID
	for _, id := range original.Branches {
		if id != res.NewBranchID {
			originalBranch = id
		}
	}

	// Switch back to the preserved continuation.
	nav, err := s.NavigateToBranch(ctx, testUser, msgs[1].ID, originalBranch)
	require.NoError(t, err)
	require.Equal(t, originalBranch, nav.SwitchedToBranch)

	resolved, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Equal(t, originalPath, contentsOf(resolved))

	// And forward again to the edited variant.
	_, err = s.NavigateToBranch(ctx, testUser, msgs[1].ID, res.NewBranchID)
	require.NoError(t, err)
	resolved, err = s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "a1-edited"}, contentsOf(resolved))
}

func TestNavigate_RejectsForeignBranch(t *testing.T) {
	s, ctx := newTestEngine(t)
	_, msgs := seedChat(t, ctx, s, "q1", "a1")

	_, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[0].ID, "q1-edited")
	require.NoError(t, err)

	_, err = s.NavigateToBranch(ctx, testUser, msgs[0].ID, uuid.New())
	var v *registrystore.ValidationError
	require.ErrorAs(t, err, &v)
}

func TestGetMessageBranches_LabelAndPositions(t *testing.T) {
	s, ctx := newTestEngine(t)
	_, msgs := seedChat(t, ctx, s, "q1", "a1")

	list, err := s.GetMessageBranches(ctx, testUser, msgs[1].ID)
	require.NoError(t, err)
	require.Empty(t, list.Branches)

	res, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[1].ID, "a1-edited")
	require.NoError(t, err)

	list, err = s.GetMessageBranches(ctx, testUser, msgs[1].ID)
	require.NoError(t, err)
	require.Len(t, list.Branches, 2)
	require.Equal(t, "2/2", list.Label)
	require.Equal(t, res.NewBranchID, list.ActiveBranchID)
	require.Equal(t, 1, list.Branches[0].Position)
	require.Equal(t, 2, list.Branches[1].Position)
	require.True(t, list.Branches[1].Active)

	// After navigating to the first variant the label flips.
	_, err = s.NavigateToBranch(ctx, testUser, msgs[1].ID, list.Branches[0].BranchID)
	require.NoError(t, err)
	list, err = s.GetMessageBranches(ctx, testUser, msgs[1].ID)
	require.NoError(t, err)
	require.Equal(t, "1/2", list.Label)
}

func TestDeletion_DivergencePointFallsBackToMain(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1", "q2", "a2")

	_, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[1].ID, "a1-edited")
	require.NoError(t, err)

	res, err := s.HandleMessageDeletion(ctx, testUser, msgs[1].ID)
	require.NoError(t, err)
	require.Equal(t, 2, res.DeletedBranches)

	got, err := s.store.Chats().Get(ctx, chat.ID)
	require.NoError(t, err)
	main, err := s.store.Branches().FindMain(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, main.ID, *got.ActiveBranchID)
	require.Empty(t, got.BaseMessages)

	// Messages on the deleted branches are gone; dangling references in the
	// main branch are dropped by the resolver.
	resolved, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"q1"}, contentsOf(resolved))
}

func TestDeletion_PlainMessage(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1", "q2")

	res, err := s.HandleMessageDeletion(ctx, testUser, msgs[1].ID)
	require.NoError(t, err)
	require.Equal(t, 0, res.DeletedBranches)

	resolved, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "q2"}, contentsOf(resolved))
}

func TestDeletion_RecreatesMissingMainBranch(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1")

	_, err := s.CreateBranchFromMessageEdit(ctx, testUser, msgs[1].ID, "a1-edited")
	require.NoError(t, err)

	main, err := s.store.Branches().FindMain(ctx, chat.ID)
	require.NoError(t, err)
	require.NoError(t, s.store.Branches().Delete(ctx, main.ID))

	_, err = s.HandleMessageDeletion(ctx, testUser, msgs[1].ID)
	require.NoError(t, err)

	recreated, err := s.store.Branches().FindMain(ctx, chat.ID)
	require.NoError(t, err)
	require.NotEqual(t, main.ID, recreated.ID)
}

func TestForkChat_CopiesResolvedPrefix(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1", "q2", "a2")

	fork, err := s.ForkChat(ctx, testUser, chat.ID, &msgs[1].ID, "forked")
	require.NoError(t, err)
	require.NotEqual(t, chat.ID, fork.ID)

	resolved, err := s.GetChatMessages(ctx, testUser, fork.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "a1"}, contentsOf(resolved))

	// Fork messages are copies with fresh identities.
	require.NotEqual(t, msgs[0].ID, resolved[0].ID)
}

func TestAuthz_PrivateChatIsOwnerOnly(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1")

	var forbidden *registrystore.ForbiddenError
	_, err := s.GetChatMessages(ctx, "intruder", chat.ID)
	require.ErrorAs(t, err, &forbidden)
	_, err = s.CreateBranchFromMessageEdit(ctx, "intruder", msgs[0].ID, "hijack")
	require.ErrorAs(t, err, &forbidden)
	err = s.DeleteChat(ctx, "intruder", chat.ID)
	require.ErrorAs(t, err, &forbidden)
}

func TestAuthz_PublicChatIsReadOnlyForOthers(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, err := s.CreateChat(ctx, testUser, "shared", model.VisibilityPublic)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, testUser, chat.ID, model.RoleUser, "q1", "")
	require.NoError(t, err)

	msgs, err := s.GetChatMessages(ctx, "reader", chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var forbidden *registrystore.ForbiddenError
	_, err = s.AppendMessage(ctx, "reader", chat.ID, model.RoleUser, "nope", "")
	require.ErrorAs(t, err, &forbidden)
}

func TestDeleteChat_Cascades(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, msgs := seedChat(t, ctx, s, "q1", "a1")

	require.NoError(t, s.DeleteChat(ctx, testUser, chat.ID))

	var nf *registrystore.NotFoundError
	_, err := s.store.Chats().Get(ctx, chat.ID)
	require.ErrorAs(t, err, &nf)
	_, err = s.store.Messages().Get(ctx, msgs[0].ID)
	require.ErrorAs(t, err, &nf)
	_, err = s.store.Branches().FindMain(ctx, chat.ID)
	require.ErrorAs(t, err, &nf)
}

func TestDeleteAccount_RemovesChatsAndPreferences(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, _ := seedChat(t, ctx, s, "q1")
	require.NoError(t, s.store.Preferences().Put(ctx, &model.UserPreferences{UserID: testUser, Theme: "dark"}))

	require.NoError(t, s.DeleteAccount(ctx, testUser))

	var nf *registrystore.NotFoundError
	_, err := s.store.Chats().Get(ctx, chat.ID)
	require.ErrorAs(t, err, &nf)
	_, err = s.store.Preferences().Get(ctx, testUser)
	require.ErrorAs(t, err, &nf)
}

func TestSearchMessages_ScopedToOwnChats(t *testing.T) {
	s, ctx := newTestEngine(t)
	seedChat(t, ctx, s, "the quick brown fox", "a1")

	other, err := s.CreateChat(ctx, "someone-else", "other", model.VisibilityPrivate)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, "someone-else", other.ID, model.RoleUser, "quick but private", "")
	require.NoError(t, err)

	hits, err := s.SearchMessages(ctx, testUser, "quick", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "the quick brown fox", hits[0].Content)
}

func TestUpdateActiveMessages_ToleratesMissingBranch(t *testing.T) {
	s, ctx := newTestEngine(t)
	chat, _ := seedChat(t, ctx, s, "q1", "a1")

	require.NoError(t, s.store.Branches().Delete(ctx, *chat.ActiveBranchID))
	require.NoError(t, s.UpdateActiveMessages(ctx, chat.ID))

	resolved, err := s.GetChatMessages(ctx, testUser, chat.ID)
	require.NoError(t, err)
	require.Empty(t, resolved)
}
