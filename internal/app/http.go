package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quorum/api/internal/posting"
	"quorum/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	userID := callerID(r)
	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "forums":
		s.handleForums(w, r, parts[2:], userID)
	case "topics":
		s.handleTopics(w, r, parts[2:], userID)
	case "posts":
		s.handlePosts(w, r, parts[2:], userID)
	case "users":
		s.handleUsers(w, r, parts[2:], userID)
	case "search":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
			return
		}
		results, err := s.service.Search(r.Context(), query)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "query": query})
	case "events":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		feed, err := s.service.ActivityFeed(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": feed})
	case "stats":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		stats, err := s.service.Stats(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleForums(w http.ResponseWriter, r *http.Request, parts []string, userID int64) {
	// /api/forums
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			containers, err := s.service.ForumIndex(r.Context(), userID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"categories": containers})
		case http.MethodPost:
			var input ForumInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if strings.TrimSpace(input.Title) == "" {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
				return
			}
			f, err := s.service.CreateForum(r.Context(), userID, input)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, f)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/forums/{urlName}/topics/{topicUrlName}
	if len(parts) == 3 && parts[1] == "topics" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := s.service.TopicViewBySlug(r.Context(), parts[0], parts[2], userID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeTopicView(w, view)
		return
	}

	// /api/forums/{urlName}/topics (GET uses the slug, POST the numeric ID)
	if len(parts) == 2 && parts[1] == "topics" {
		switch r.Method {
		case http.MethodGet:
			page := intQuery(r, "page", 1)
			topicPage, err := s.service.ForumTopics(r.Context(), parts[0], userID, page)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"forum":      topicPage.Forum,
				"permission": topicPage.Permission,
				"topics":     topicPage.Topics,
				"pager":      topicPage.Pager,
			})
		case http.MethodPost:
			forumID, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "forum id must be numeric", nil)
				return
			}
			var body struct {
				Title            string `json:"title"`
				FullText         string `json:"fullText"`
				IncludeSignature bool   `json:"includeSignature"`
				IsPlainText      bool   `json:"isPlainText"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if strings.TrimSpace(body.Title) == "" || strings.TrimSpace(body.FullText) == "" {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title and fullText are required", nil)
				return
			}
			topic, err := s.service.StartTopic(r.Context(), forumID, userID, posting.NewPost{
				Title:            body.Title,
				FullText:         body.FullText,
				IncludeSignature: body.IncludeSignature,
				IsPlainText:      body.IsPlainText,
			}, clientIP(r))
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, topic)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// Remaining forum routes address the forum by numeric ID.
	forumID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPut {
		var input ForumInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateForum(r.Context(), userID, forumID, input); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		switch parts[1] {
		case "move-up", "move-down":
			if err := s.service.MoveForum(r.Context(), userID, forumID, parts[1] == "move-up"); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case "recount":
			if err := s.service.RecountForum(r.Context(), userID, forumID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
			return
		case "roles":
			var body struct {
				Modification string `json:"modification"`
				Role         string `json:"role"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.ModifyForumRoles(r.Context(), userID, forumID, body.Modification, body.Role); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTopics(w http.ResponseWriter, r *http.Request, parts []string, userID int64) {
	if len(parts) == 1 && parts[0] == "recent" && r.Method == http.MethodGet {
		page := intQuery(r, "page", 1)
		topics, pager, err := s.service.RecentTopics(r.Context(), userID, page)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"topics": topics, "pager": pager})
		return
	}

	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	topicID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		view, err := s.service.TopicView(r.Context(), topicID, userID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeTopicView(w, view)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		switch parts[1] {
		case "replies":
			var body struct {
				Title            string `json:"title"`
				FullText         string `json:"fullText"`
				ParentPostID     int64  `json:"parentPostId"`
				IncludeSignature bool   `json:"includeSignature"`
				IsPlainText      bool   `json:"isPlainText"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if strings.TrimSpace(body.FullText) == "" {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fullText is required", nil)
				return
			}
			post, err := s.service.Reply(r.Context(), topicID, userID, body.ParentPostID, posting.NewPost{
				Title:            body.Title,
				FullText:         body.FullText,
				IncludeSignature: body.IncludeSignature,
				IsPlainText:      body.IsPlainText,
			}, clientIP(r))
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, post)
			return
		case "subscribe":
			if err := s.service.Subscribe(r.Context(), topicID, userID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case "unsubscribe":
			if err := s.service.Unsubscribe(r.Context(), topicID, userID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, parts []string, userID int64) {
	if len(parts) != 1 || r.Method != http.MethodPut {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	postID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	var body struct {
		Title       string `json:"title"`
		FullText    string `json:"fullText"`
		ShowSig     bool   `json:"showSig"`
		IsPlainText bool   `json:"isPlainText"`
		Comment     string `json:"comment"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.FullText) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fullText is required", nil)
		return
	}
	if err := s.service.Edit(r.Context(), postID, userID, posting.PostEdit{
		Title:       body.Title,
		FullText:    body.FullText,
		ShowSig:     body.ShowSig,
		IsPlainText: body.IsPlainText,
		Comment:     body.Comment,
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string, userID int64) {
	if len(parts) != 2 || parts[1] != "avatar" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	targetID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodPut:
		contentType := r.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body must be an image", nil)
			return
		}
		if err := s.service.SaveAvatar(r.Context(), userID, targetID, r.Body, r.ContentLength, contentType); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case http.MethodGet:
		location, err := s.service.AvatarURL(r.Context(), targetID)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Location", location.String())
		writeJSON(w, http.StatusFound, map[string]any{"location": location.String()})
	case http.MethodDelete:
		if err := s.service.RemoveAvatar(r.Context(), userID, targetID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeTopicView(w http.ResponseWriter, view TopicView) {
	if view.QA != nil {
		writeJSON(w, http.StatusOK, map[string]any{"qa": view.QA})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":      view.Container.Topic,
		"forum":      view.Container.Forum,
		"posts":      view.Container.Posts,
		"permission": view.Container.PermissionContext,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// callerID resolves the acting user from the X-User-ID header set by
// the fronting gateway. Zero means anonymous.
func callerID(r *http.Request) int64 {
	header := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if header == "" {
		return 0
	}
	id, err := strconv.ParseInt(header, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func intQuery(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
