// Package metadata defines the document-store boundary for feed posts, user
// profiles, and chat threads.
package metadata

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("metadata: record not found")

// Post is one published feed entry. MediaURL points at the committed media
// object, rewritten to the CDN base by the HTTP layer.
type Post struct {
	ID           string    `json:"postId" dynamodbav:"post_id"`
	AuthorID     string    `json:"authorId" dynamodbav:"author_id"`
	AuthorName   string    `json:"authorUsername" dynamodbav:"author_name"`
	AuthorPicURL string    `json:"authorProfilePic,omitempty" dynamodbav:"author_pic_url"`
	MediaURL     string    `json:"mediaUrl" dynamodbav:"media_url"`
	Caption      string    `json:"caption,omitempty" dynamodbav:"caption"`
	Checksum     string    `json:"checksum,omitempty" dynamodbav:"checksum"`
	CreatedAt    time.Time `json:"dateCreated" dynamodbav:"created_at"`
}

// User is a profile record.
type User struct {
	ID            string    `json:"userId" dynamodbav:"user_id"`
	Username      string    `json:"username" dynamodbav:"username"`
	ProfilePicURL string    `json:"profilePicUrl" dynamodbav:"profile_pic_url"`
	CreatedAt     time.Time `json:"dateCreated" dynamodbav:"created_at"`
}

// ChatMessage is one message inside a chat thread.
type ChatMessage struct {
	FromUserID string    `json:"fromUserId" dynamodbav:"from_user_id"`
	Message    string    `json:"message" dynamodbav:"message"`
	SentAt     time.Time `json:"sentAt" dynamodbav:"sent_at"`
}

// Chat is a two-party thread. ID joins both participant ids with "|", so
// membership checks are substring matches on the id.
type Chat struct {
	ID       string        `json:"chatId" dynamodbav:"chat_id"`
	Messages []ChatMessage `json:"chatMessage" dynamodbav:"messages"`
}

// PeerID returns the other participant of the chat.
func (c Chat) PeerID(userID string) string {
	rest := ""
	for _, part := range splitChatID(c.ID) {
		if part != userID {
			rest = part
		}
	}
	return rest
}

func splitChatID(id string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(id); i++ {
		if id[i] == '|' {
			parts = append(parts, id[start:i])
			start = i + 1
		}
	}
	return append(parts, id[start:])
}

// Store persists posts, users, and chats. Upserts are last-writer-wins; the
// upload coordinator retries them after transient failures.
type Store interface {
	UpsertPost(ctx context.Context, post Post) error

	// RecentPosts returns up to limit posts, newest first.
	RecentPosts(ctx context.Context, limit int) ([]Post, error)

	// PostsByAuthor returns the author's posts, newest first.
	PostsByAuthor(ctx context.Context, authorID string) ([]Post, error)

	UpsertUser(ctx context.Context, user User) error

	// GetUser returns ErrNotFound when the user does not exist.
	GetUser(ctx context.Context, userID string) (User, error)

	// ChatsFor returns every chat thread the user participates in.
	ChatsFor(ctx context.Context, userID string) ([]Chat, error)

	Close() error
}
