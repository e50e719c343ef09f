package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"chatsync/internal/domain"
)

// MaxContentRunes bounds message content server-side; clients enforce
// the same limit before sending.
const MaxContentRunes = 2000

type MessageService struct {
	rooms    domain.RoomRepository
	messages domain.MessageRepository
}

func NewMessageService(rooms domain.RoomRepository, messages domain.MessageRepository) *MessageService {
	return &MessageService{
		rooms:    rooms,
		messages: messages,
	}
}

type MessageCreateInput struct {
	RoomID        int64
	Content       string
	AttachmentRef *string
	Kind          domain.MessageKind
}

// Send validates and appends a message to the log. The store assigns ID
// and CreatedAt; the change feed picks the row up from there.
func (s *MessageService) Send(ctx context.Context, in MessageCreateInput, authorID int64) (*domain.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" && (in.AttachmentRef == nil || *in.AttachmentRef == "") {
		return nil, fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(in.Content) > MaxContentRunes {
		return nil, fmt.Errorf("%w: content exceeds %d characters", domain.ErrInvalidInput, MaxContentRunes)
	}
	if in.Kind == "" {
		in.Kind = domain.KindText
	}

	ok, err := s.rooms.IsMember(ctx, in.RoomID, authorID)
	if err != nil {
		return nil, fmt.Errorf("check member: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a member of this room", domain.ErrForbidden)
	}

	msg := &domain.Message{
		RoomID:        in.RoomID,
		AuthorID:      authorID,
		Content:       in.Content,
		AttachmentRef: in.AttachmentRef,
		Kind:          in.Kind,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListNewest returns the newest page for a room the caller belongs to,
// newest first.
func (s *MessageService) ListNewest(ctx context.Context, roomID, userID int64, limit int) ([]*domain.Message, error) {
	if err := s.requireMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.messages.ListNewest(ctx, roomID, userID, limit)
}

// ListBefore pages strictly backwards from beforeID.
func (s *MessageService) ListBefore(ctx context.Context, roomID, userID, beforeID int64, limit int) ([]*domain.Message, error) {
	if err := s.requireMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.messages.ListBefore(ctx, roomID, userID, beforeID, limit)
}

// MarkRead flips every unread message not authored by userID and
// returns the number flipped.
func (s *MessageService) MarkRead(ctx context.Context, roomID, userID int64) (int64, error) {
	if err := s.requireMember(ctx, roomID, userID); err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, roomID, userID)
}

// Delete hides a message from the caller only. The log row is never
// mutated.
func (s *MessageService) Delete(ctx context.Context, messageID, userID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, msg.RoomID, userID); err != nil {
		return nil, err
	}
	if err := s.messages.SoftDelete(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) requireMember(ctx context.Context, roomID, userID int64) error {
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check member: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: not a member of this room", domain.ErrForbidden)
	}
	return nil
}
