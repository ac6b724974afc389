// Package api defines the wire types of the feedd HTTP API.
package api

import "time"

// Post is one feed entry as served to clients.
type Post struct {
	PostID           string    `json:"postId"`
	AuthorID         string    `json:"authorId"`
	AuthorUsername   string    `json:"authorUsername"`
	AuthorProfilePic string    `json:"authorProfilePic,omitempty"`
	MediaURL         string    `json:"mediaUrl"`
	Caption          string    `json:"caption,omitempty"`
	DateCreated      time.Time `json:"dateCreated"`
}

// ChunkUploadResponse reports the state of an upload session after one chunk.
type ChunkUploadResponse struct {
	UploadID       string `json:"uploadId"`
	BlockID        string `json:"blockId"`
	ReceivedChunks int64  `json:"receivedChunks"`
	TotalChunks    int    `json:"totalChunks"`
	Complete       bool   `json:"complete"`
	// Queued is set when finalization was handed to the background worker.
	Queued bool `json:"queued,omitempty"`
	// Post is set when the final chunk finalized the session synchronously.
	Post *Post `json:"post,omitempty"`
}

// UploadFeedResponse acknowledges a whole-file feed upload.
type UploadFeedResponse struct {
	Message  string `json:"message"`
	FeedID   string `json:"feedId"`
	MediaURL string `json:"mediaUrl"`
}

// FeedsResponse lists recent posts, newest first.
type FeedsResponse struct {
	Posts []Post `json:"posts"`
}

// UserResponse is a profile as served to clients.
type UserResponse struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic"`
}

// UserPostsResponse lists one author's posts, newest first.
type UserPostsResponse struct {
	Username string `json:"username"`
	Posts    []Post `json:"posts"`
}

// ChatMessage is one rendered chat line. Type is "reply" when the requesting
// user sent it, "sender" otherwise.
type ChatMessage struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ChatEntry is one chat thread from the requesting user's perspective.
type ChatEntry struct {
	ToUserID         string        `json:"toUserId"`
	ToUserName       string        `json:"toUserName"`
	ToUserProfilePic string        `json:"toUserProfilePic"`
	ChatWindow       []ChatMessage `json:"chatWindow"`
}

// ChatsResponse lists the requesting user's chat threads.
type ChatsResponse struct {
	Chats []ChatEntry `json:"chats"`
}

// ErrorResponse is the canonical error envelope for API errors.
type ErrorResponse struct {
	// ErrorCode is the stable feedd error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
	// ExpectedChunks and ReceivedChunks are set on incomplete_upload errors.
	ExpectedChunks int `json:"expectedChunks,omitempty"`
	ReceivedChunks int `json:"receivedChunks,omitempty"`
	// RetryAfterSeconds is the server-provided retry hint in seconds.
	RetryAfterSeconds int64 `json:"retryAfterSeconds,omitempty"`
}
