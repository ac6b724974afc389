package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"pkt.systems/pslog"

	"github.com/tenxso/feedd/api"
	"github.com/tenxso/feedd/internal/blobstore"
	"github.com/tenxso/feedd/internal/identity"
	"github.com/tenxso/feedd/internal/metadata"
	"github.com/tenxso/feedd/internal/upload"
)

// handleChunkUpload stages one chunk of an upload session. The final chunk,
// whichever one arrives last, triggers finalization.
func (h *Handler) handleChunkUpload(w http.ResponseWriter, r *http.Request) error {
	session := r.PathValue("session")

	// Slack on top of the chunk cap covers multipart framing and form
	// fields.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBytes+(64<<10))
	if err := r.ParseMultipartForm(multipartSpoolMemory); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: "malformed multipart body: " + err.Error()}
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	chunkIndex, err := formInt(r, "chunkIndex")
	if err != nil {
		return err
	}
	totalChunks, err := formInt(r, "totalChunks")
	if err != nil {
		return err
	}
	fileName := sanitizeObjectName(r.FormValue("fileName"))
	if fileName == "" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: "fileName is required"}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: "file part is required"}
	}
	defer file.Close()
	if header.Size > h.maxChunkBytes {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_input",
			Detail: fmt.Sprintf("chunk exceeds %d byte limit", h.maxChunkBytes),
		}
	}

	contentType := header.Header.Get("Content-Type")
	if ct := strings.TrimSpace(r.FormValue("contentType")); ct != "" {
		contentType = ct
	}

	res, err := h.coord.Ingest(r.Context(), upload.Chunk{
		SessionID:   session,
		Ordinal:     chunkIndex,
		Total:       totalChunks,
		Object:      fileName,
		ContentType: contentType,
		Caption:     r.FormValue("caption"),
		AuthorID:    r.FormValue("userId"),
		AuthorName:  r.FormValue("userName"),
		Payload:     file,
		Size:        header.Size,
	})
	if err != nil {
		return convertUploadError(err)
	}

	resp := api.ChunkUploadResponse{
		UploadID:       session,
		BlockID:        res.BlockID,
		ReceivedChunks: res.Received,
		TotalChunks:    totalChunks,
		Complete:       res.Complete,
		Queued:         res.Queued,
	}
	if res.Post != nil {
		p := postToAPI(*res.Post)
		resp.Post = &p
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// handleUploadFeed accepts a whole media file in one request and publishes
// the post immediately.
func (h *Handler) handleUploadFeed(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(64<<10))
	if err := r.ParseMultipartForm(multipartSpoolMemory); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: "malformed multipart body: " + err.Error()}
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	fileName := sanitizeObjectName(r.FormValue("fileName"))
	if fileName == "" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: "fileName is required"}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: "file part is required"}
	}
	defer file.Close()
	if header.Size > h.maxUploadBytes {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_input",
			Detail: fmt.Sprintf("file exceeds %d byte limit", h.maxUploadBytes),
		}
	}

	object := uniqueObjectName(fileName)
	contentType := header.Header.Get("Content-Type")
	if err := h.store.WriteWhole(r.Context(), object, file, header.Size, contentType); err != nil {
		return fmt.Errorf("write media object: %w", err)
	}

	post := metadata.Post{
		ID:           identity.NewPostID(),
		AuthorID:     r.FormValue("userId"),
		AuthorName:   r.FormValue("userName"),
		AuthorPicURL: r.FormValue("profilePic"),
		MediaURL:     h.mediaCDNBase + object,
		Caption:      r.FormValue("caption"),
		CreatedAt:    h.clock.Now(),
	}
	if err := h.meta.UpsertPost(r.Context(), post); err != nil {
		return httpError{Status: http.StatusInternalServerError, Code: "metadata_persist_failed", Detail: "persisting the feed post failed"}
	}

	h.writeJSON(w, http.StatusOK, api.UploadFeedResponse{
		Message:  "feed uploaded successfully",
		FeedID:   post.ID,
		MediaURL: post.MediaURL,
	}, nil)
	return nil
}

func (h *Handler) handleListFeeds(w http.ResponseWriter, r *http.Request) error {
	limit := queryInt(r, "limit", defaultFeedPageSize)
	if limit > defaultFeedPageSize {
		limit = defaultFeedPageSize
	}
	posts, err := h.meta.RecentPosts(r.Context(), limit)
	if err != nil {
		return fmt.Errorf("list recent posts: %w", err)
	}
	h.writeJSON(w, http.StatusOK, api.FeedsResponse{Posts: postsToAPI(posts)}, nil)
	return nil
}

// handleStreamMedia streams a committed media object to the client.
func (h *Handler) handleStreamMedia(w http.ResponseWriter, r *http.Request) error {
	object := r.PathValue("object")
	res, err := h.store.OpenRead(r.Context(), object)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "media not found"}
		}
		return fmt.Errorf("open media object: %w", err)
	}
	defer res.Reader.Close()

	if res.Info.ContentType != "" {
		w.Header().Set("Content-Type", res.Info.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if res.Info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Info.Size, 10))
	}
	if res.Info.ETag != "" {
		w.Header().Set("ETag", res.Info.ETag)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, res.Reader); err != nil {
		// Headers are out; all we can do is log.
		pslog.LoggerFromContext(r.Context()).Debug("media.stream.aborted", "object", object, "error", err)
	}
	return nil
}

// handleCreateUser mints a user with a random display name and a stock
// profile picture.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) error {
	user := metadata.User{
		ID:            identity.NewUserID(),
		Username:      identity.RandomUsername(),
		ProfilePicURL: identity.RandomProfilePicURL(h.profileCDNBase),
		CreatedAt:     h.clock.Now(),
	}
	if err := h.meta.UpsertUser(r.Context(), user); err != nil {
		return httpError{Status: http.StatusInternalServerError, Code: "metadata_persist_failed", Detail: "persisting the user failed"}
	}
	h.writeJSON(w, http.StatusOK, api.UserResponse{
		UserID:     user.ID,
		Username:   user.Username,
		ProfilePic: user.ProfilePicURL,
	}, nil)
	return nil
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) error {
	userID := r.PathValue("user")
	user, err := h.meta.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "user not found"}
		}
		return fmt.Errorf("get user: %w", err)
	}
	h.writeJSON(w, http.StatusOK, api.UserResponse{
		UserID:     user.ID,
		Username:   user.Username,
		ProfilePic: user.ProfilePicURL,
	}, nil)
	return nil
}

// handleUpdateUser updates the username and, when a file part is present,
// replaces the profile picture.
func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) error {
	userID := r.PathValue("user")
	user, err := h.meta.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "user not found"}
		}
		return fmt.Errorf("get user: %w", err)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(64<<10))
	if err := r.ParseMultipartForm(multipartSpoolMemory); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: "malformed multipart body: " + err.Error()}
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	if username := strings.TrimSpace(r.FormValue("username")); username != "" {
		user.Username = username
	}
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		// Stable picture object per user; a new upload overwrites the old
		// one, so the CDN URL stays put.
		picName := userID + path.Ext(sanitizeObjectName(header.Filename))
		object := "profilepic/" + picName
		if err := h.store.WriteWhole(r.Context(), object, file, header.Size, header.Header.Get("Content-Type")); err != nil {
			return fmt.Errorf("write profile picture: %w", err)
		}
		user.ProfilePicURL = h.profileCDNBase + picName
	}

	if err := h.meta.UpsertUser(r.Context(), user); err != nil {
		return httpError{Status: http.StatusInternalServerError, Code: "metadata_persist_failed", Detail: "persisting the user failed"}
	}
	h.writeJSON(w, http.StatusOK, api.UserResponse{
		UserID:     user.ID,
		Username:   user.Username,
		ProfilePic: user.ProfilePicURL,
	}, nil)
	return nil
}

func (h *Handler) handleUserPosts(w http.ResponseWriter, r *http.Request) error {
	userID := r.PathValue("user")
	posts, err := h.meta.PostsByAuthor(r.Context(), userID)
	if err != nil {
		return fmt.Errorf("list posts by author: %w", err)
	}
	username := ""
	if len(posts) > 0 {
		username = posts[0].AuthorName
	} else if user, err := h.meta.GetUser(r.Context(), userID); err == nil {
		username = user.Username
	}
	h.writeJSON(w, http.StatusOK, api.UserPostsResponse{
		Username: username,
		Posts:    postsToAPI(posts),
	}, nil)
	return nil
}

// handleChats renders the user's chat threads, newest message first, with
// each line tagged as sent ("reply") or received ("sender").
func (h *Handler) handleChats(w http.ResponseWriter, r *http.Request) error {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: "userId is required"}
	}
	chats, err := h.meta.ChatsFor(r.Context(), userID)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	entries := make([]api.ChatEntry, 0, len(chats))
	for _, chat := range chats {
		peerID := chat.PeerID(userID)
		peer, err := h.meta.GetUser(r.Context(), peerID)
		if err != nil {
			// A thread whose peer is gone is not renderable.
			continue
		}
		entry := api.ChatEntry{
			ToUserID:         peer.ID,
			ToUserName:       peer.Username,
			ToUserProfilePic: peer.ProfilePicURL,
			ChatWindow:       make([]api.ChatMessage, 0, len(chat.Messages)),
		}
		for i := len(chat.Messages) - 1; i >= 0; i-- {
			msg := chat.Messages[i]
			kind := "sender"
			if msg.FromUserID == userID {
				kind = "reply"
			}
			entry.ChatWindow = append(entry.ChatWindow, api.ChatMessage{
				Message: msg.Message,
				Type:    kind,
			})
		}
		entries = append(entries, entry)
	}
	h.writeJSON(w, http.StatusOK, api.ChatsResponse{Chats: entries}, nil)
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) error {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
	return nil
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) error {
	// The store is the dependency that matters; a cheap existence probe
	// verifies connectivity.
	if _, err := h.store.Exists(r.Context(), ".readyz"); err != nil {
		return httpError{Status: http.StatusServiceUnavailable, Code: "not_ready", Detail: "object store unavailable"}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, nil)
	return nil
}
