package storage

import (
	"context"
	"fmt"

	"chathistory/internal/models"
)

type seedConversation struct {
	title    string
	messages []seedMessage
}

type seedMessage struct {
	role    models.Role
	content string
}

var demoConversations = []seedConversation{
	{
		title: "Welcome Chat",
		messages: []seedMessage{
			{models.RoleUser, "Hello, who are you?"},
			{models.RoleAssistant, "I am an AI assistant here to help you with your onboarding."},
			{models.RoleUser, "Great, what should I do first?"},
			{models.RoleAssistant, "You should start by exploring the documentation."},
		},
	},
	{
		title: "Python Help",
		messages: []seedMessage{
			{models.RoleUser, "How do I create a list in Python?"},
			{models.RoleAssistant, "You can create a list using square brackets, like this: `my_list = [1, 2, 3]`."},
			{models.RoleUser, "Can I store different types in it?"},
			{models.RoleAssistant, "Yes, Python lists can contain elements of different data types."},
		},
	},
}

// SeedIfEmpty inserts the demo conversations when the store has none.
// It reports whether anything was written.
func (s *Store) SeedIfEmpty(ctx context.Context) (bool, error) {
	return WithSession(ctx, s, func(sess *Session) (bool, error) {
		n, err := sess.CountConversations(ctx)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
		for _, sc := range demoConversations {
			title := sc.title
			conv, err := sess.CreateConversation(ctx, &title)
			if err != nil {
				return false, fmt.Errorf("seed %q: %w", sc.title, err)
			}
			for _, sm := range sc.messages {
				if _, err := sess.InsertMessage(ctx, models.Message{
					ConversationID: conv.ID,
					Role:           sm.role,
					Content:        sm.content,
				}); err != nil {
					return false, fmt.Errorf("seed %q: %w", sc.title, err)
				}
			}
		}
		return true, nil
	})
}
