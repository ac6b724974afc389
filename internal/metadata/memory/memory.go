// Package memory provides an in-process metadata.Store for tests and mem://
// deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tenxso/feedd/internal/metadata"
)

// Store implements metadata.Store in process memory.
type Store struct {
	mu    sync.Mutex
	posts map[string]metadata.Post
	users map[string]metadata.User
	chats map[string]metadata.Chat
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		posts: make(map[string]metadata.Post),
		users: make(map[string]metadata.User),
		chats: make(map[string]metadata.Chat),
	}
}

// UpsertPost stores the post record.
func (s *Store) UpsertPost(ctx context.Context, post metadata.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = post
	return nil
}

func sortNewestFirst(posts []metadata.Post) {
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

// RecentPosts returns up to limit posts, newest first.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]metadata.Post, error) {
	s.mu.Lock()
	posts := make([]metadata.Post, 0, len(s.posts))
	for _, p := range s.posts {
		posts = append(posts, p)
	}
	s.mu.Unlock()
	sortNewestFirst(posts)
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// PostsByAuthor returns the author's posts, newest first.
func (s *Store) PostsByAuthor(ctx context.Context, authorID string) ([]metadata.Post, error) {
	s.mu.Lock()
	var posts []metadata.Post
	for _, p := range s.posts {
		if p.AuthorID == authorID {
			posts = append(posts, p)
		}
	}
	s.mu.Unlock()
	sortNewestFirst(posts)
	return posts, nil
}

// UpsertUser stores the user record.
func (s *Store) UpsertUser(ctx context.Context, user metadata.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (metadata.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return metadata.User{}, metadata.ErrNotFound
	}
	return user, nil
}

// UpsertChat stores a chat thread. Test helper; chats are written by the
// messaging pipeline, not this service.
func (s *Store) UpsertChat(ctx context.Context, chat metadata.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat
	return nil
}

// ChatsFor returns every chat whose id contains the user id.
func (s *Store) ChatsFor(ctx context.Context, userID string) ([]metadata.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var chats []metadata.Chat
	for _, c := range s.chats {
		if strings.Contains(c.ID, userID) {
			chats = append(chats, c)
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return chats, nil
}

// Close satisfies metadata.Store.
func (s *Store) Close() error { return nil }
