// Package conversations loads and saves the chat history around one turn.
package conversations

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

type MessagesManager struct {
	conversationRepo model.ConversationRepository
	historyLimit     int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		historyLimit:     config.TruncateHistoryLimit,
	}
}

// StartTurn saves the user message and returns the recent history, which
// ends with that message.
func (cm *MessagesManager) StartTurn(ctx context.Context, conversationID, query string) ([]*schema.Message, error) {
	if err := cm.conversationRepo.AddMessage(ctx, conversationID, schema.UserMessage(query)); err != nil {
		return nil, err
	}

	stored, err := cm.conversationRepo.GetMessageCount(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var history *model.ConversationHistory
	if cm.historyLimit > 0 && stored > cm.historyLimit {
		history, err = cm.conversationRepo.LoadRecent(ctx, conversationID, cm.historyLimit)
	} else {
		history, err = cm.conversationRepo.LoadHistory(ctx, conversationID)
	}
	if err != nil {
		return nil, err
	}

	msgs := trimHead(history.Messages)
	logx.Debug().
		Str("conversationID", conversationID).
		Int("stored", stored).
		Int("messages", len(msgs)).
		Int("limit", cm.historyLimit).
		Msg("Loaded conversation history")
	return msgs, nil
}

// Reset drops the stored history so the next turn starts a new conversation.
func (cm *MessagesManager) Reset(ctx context.Context, conversationID string) error {
	if err := cm.conversationRepo.ClearHistory(ctx, conversationID); err != nil {
		return err
	}
	logx.Info().Str("conversationID", conversationID).Msg("Conversation history cleared")
	return nil
}

// SaveAnswer stores the final answer of a turn.
func (cm *MessagesManager) SaveAnswer(ctx context.Context, conversationID, content string) error {
	if content == "" {
		return nil
	}
	return cm.conversationRepo.AddMessage(ctx, conversationID, schema.AssistantMessage(content, nil))
}

// trimHead drops leading messages until the history starts with a user turn,
// so truncation never leaves an answer without its question.
func trimHead(messages []*schema.Message) []*schema.Message {
	for i, m := range messages {
		if m != nil && m.Role == schema.User {
			return messages[i:]
		}
	}
	return nil
}
