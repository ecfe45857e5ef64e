// Package transport connects bluejay to the chat server: a socket for
// inbound message events and REST endpoints for sends, reactions, and
// typing indicators.
package transport

import (
	"context"
	"time"
)

// InboundMessage is one message event delivered by the chat server.
type InboundMessage struct {
	ID            string
	ChatID        string
	SenderIsSelf  bool
	Text          string
	Timestamp     time.Time
	SenderAddress string
	ReplyTargetID string
}

// IsTapback reports whether the message text has the shape of a
// tapback reaction notification.
func (m InboundMessage) IsTapback() bool {
	return IsTapbackText(m.Text)
}

// ReactionKind is a tapback reaction type accepted by the chat server.
type ReactionKind string

// Reaction kinds.
const (
	ReactionLove      ReactionKind = "love"
	ReactionLike      ReactionKind = "like"
	ReactionDislike   ReactionKind = "dislike"
	ReactionLaugh     ReactionKind = "laugh"
	ReactionEmphasize ReactionKind = "emphasize"
	ReactionQuestion  ReactionKind = "question"
)

// ValidReaction reports whether kind is one of the supported tapback
// types.
func ValidReaction(kind string) bool {
	switch ReactionKind(kind) {
	case ReactionLove, ReactionLike, ReactionDislike, ReactionLaugh, ReactionEmphasize, ReactionQuestion:
		return true
	}
	return false
}

// Sender is the outbound half of the transport contract. StartTyping
// and StopTyping are best-effort; callers log and swallow their
// errors.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendReaction(ctx context.Context, chatID, targetMsgID string, kind ReactionKind) error
	StartTyping(ctx context.Context, chatID string) error
	StopTyping(ctx context.Context, chatID string) error
}
