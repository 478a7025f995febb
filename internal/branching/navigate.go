package branching

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// NavigateToBranch switches the chat's active path to one of the sibling
// branches recorded on the given divergence-point message. The target must be
// in the message's branches array; the base message list is recomputed from
// the currently resolved sequence so the prefix before the divergence point is
// preserved across the switch.
func (s *Service) NavigateToBranch(ctx context.Context, userID string, messageID uuid.UUID, branchID uuid.UUID) (*NavigateResult, error) {
	msg, _, chat, err := s.chatForMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := requireWrite(chat, userID); err != nil {
		return nil, err
	}
	if !containsID(msg.Branches, branchID) {
		return nil, &registrystore.ValidationError{Field: "branchId", Message: "branch is not a variant of this message"}
	}
	target, err := s.store.Branches().Get(ctx, branchID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveSequence(ctx, chat)
	if err != nil {
		return nil, err
	}
	idx := s.divergenceIndex(ctx, resolved, msg)
	if idx < 0 {
		return nil, &registrystore.ValidationError{Field: "messageId", Message: "message is not on the chat's active path"}
	}
	base := messageIDs(resolved[:idx])

	// Keep every sibling head pointing at the newly selected branch so the
	// navigation state survives no matter which variant is addressed next.
	for _, head := range s.variantHeads(ctx, msg.Branches) {
		err := s.store.Messages().Patch(ctx, head, registrystore.MessagePatch{ActiveBranchID: &branchID})
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.Chats().Patch(ctx, chat.ID, registrystore.ChatPatch{
		BaseMessages:   &base,
		ActiveBranchID: &branchID,
	}); err != nil {
		return nil, err
	}
	if err := s.UpdateActiveMessages(ctx, chat.ID); err != nil {
		return nil, err
	}

	log.Debug("Navigated to branch", "chat", chat.ID, "message", messageID, "branch", branchID)
	return &NavigateResult{SwitchedToBranch: branchID, BranchName: target.Name}, nil
}

// GetMessageBranches lists the sibling branches at a message's divergence
// point, with 1-based positions and a "current/total" label. A message with no
// variants yields an empty list.
func (s *Service) GetMessageBranches(ctx context.Context, userID string, messageID uuid.UUID) (*BranchList, error) {
	msg, _, chat, err := s.chatForMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := requireRead(chat, userID); err != nil {
		return nil, err
	}
	if !msg.HasVariants() {
		return &BranchList{Branches: []BranchVariant{}}, nil
	}

	var activeID uuid.UUID
	if msg.ActiveBranchID != nil {
		activeID = *msg.ActiveBranchID
	}

	variants := make([]BranchVariant, 0, len(msg.Branches))
	activePos := 0
	for i, id := range msg.Branches {
		branch, err := s.store.Branches().Get(ctx, id)
		if err != nil {
			continue
		}
		v := BranchVariant{
			BranchID: id,
			Name:     branch.Name,
			Position: i + 1,
			Active:   id == activeID,
		}
		if v.Active {
			activePos = v.Position
		}
		variants = append(variants, v)
	}

	return &BranchList{
		Branches:       variants,
		ActiveBranchID: activeID,
		Label:          fmt.Sprintf("%d/%d", activePos, len(msg.Branches)),
	}, nil
}

// variantHeads returns the head message id of each branch in the set, skipping
// branches that are missing or empty.
func (s *Service) variantHeads(ctx context.Context, branchIDs []uuid.UUID) []uuid.UUID {
	heads := make([]uuid.UUID, 0, len(branchIDs))
	for _, id := range branchIDs {
		branch, err := s.store.Branches().Get(ctx, id)
		if err != nil || len(branch.Messages) == 0 {
			continue
		}
		heads = append(heads, branch.Messages[0])
	}
	return heads
}
