package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"courseware/api/internal/annotation"
	"courseware/api/internal/apperr"
	"courseware/api/internal/auth"
	"courseware/api/internal/authpw"
	"courseware/api/internal/rbac"
	"courseware/api/internal/store"
)

// AnnotationReader is the read path exposed over REST; writes go through RTM.
type AnnotationReader interface {
	FindByElement(ctx context.Context, rootElementID, elementID, motivation string) ([]store.Annotation, error)
	FindByCreator(ctx context.Context, rootElementID, creatorAccountID string) ([]store.Annotation, error)
	AggregateComments(ctx context.Context, rootElementID, elementID, accountID string) (annotation.Aggregate, error)
}

// PermissionManager covers grants, the collaborator view, and team
// membership.
type PermissionManager interface {
	FindHighestPermissionLevel(ctx context.Context, accountID, resourceType, resourceID string) (rbac.PermissionLevel, bool, error)
	ListCollaborators(ctx context.Context, resourceType, resourceID string) ([]store.Collaborator, error)
	SavePermission(ctx context.Context, p store.Permission) error
	DeletePermission(ctx context.Context, subjectType, subjectID, resourceType, resourceID string) error
	CreateTeam(ctx context.Context, name string) (store.Team, error)
	AddTeamMember(ctx context.Context, teamID, accountID string) error
	RemoveTeamMember(ctx context.Context, teamID, accountID string) error
}

// RTMUpgrader hands the request off to the WebSocket transport once the
// session is verified.
type RTMUpgrader interface {
	Serve(w http.ResponseWriter, r *http.Request, accountID string)
}

type HTTPServer struct {
	service     *Service
	annotations AnnotationReader
	permissions PermissionManager
	rtm         RTMUpgrader
	corsOrigin  string
	log         zerolog.Logger
}

func NewHTTPServer(service *Service, annotations AnnotationReader, permissions PermissionManager, rtmUpgrader RTMUpgrader, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:     service,
		annotations: annotations,
		permissions: permissions,
		rtm:         rtmUpgrader,
		corsOrigin:  corsOrigin,
		log:         log.With().Str("component", "http").Logger(),
	}
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

		status := http.StatusOK
		checks := map[string]any{"database": map[string]any{"status": "ok"}}
		if err := s.service.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, status, map[string]any{"ok": status == http.StatusOK, "checks": checks})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tokens, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(tokens))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"accountId":     session.AccountID,
			"name":          session.Name,
		})
		return
	}

	// Everything below requires an authenticated session.
	session, err := s.requireSession(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if r.URL.Path == "/rtm" {
		s.rtm.Serve(w, r, session.AccountID)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/annotations" {
		s.handleListAnnotations(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/annotations/aggregate" {
		query := r.URL.Query()
		agg, err := s.annotations.AggregateComments(r.Context(), query.Get("rootElementId"), query.Get("elementId"), session.AccountID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, agg)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/permissions/highest" {
		query := r.URL.Query()
		level, ok, err := s.permissions.FindHighestPermissionLevel(r.Context(), session.AccountID, query.Get("resourceType"), query.Get("resourceId"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := map[string]any{"hasPermission": ok}
		if ok {
			payload["level"] = level
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/collaborators" {
		query := r.URL.Query()
		collaborators, err := s.permissions.ListCollaborators(r.Context(), query.Get("resourceType"), query.Get("resourceId"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collaborators": collaboratorPayload(collaborators)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/permissions" {
		s.handleSavePermission(w, r, session)
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/permissions" {
		query := r.URL.Query()
		err := s.permissions.DeletePermission(r.Context(), query.Get("subjectType"), query.Get("subjectId"), query.Get("resourceType"), query.Get("resourceId"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/teams" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		team, err := s.permissions.CreateTeam(r.Context(), body.Name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"teamId": team.ID, "name": team.Name})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/teams/members" {
		s.handleAddTeamMember(w, r)
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/teams/members" {
		query := r.URL.Query()
		if err := s.permissions.RemoveTeamMember(r.Context(), query.Get("teamId"), query.Get("accountId")); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tokens, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error(), nil)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(tokens))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tokens, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(tokens))
}

func (s *HTTPServer) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rootElementID := query.Get("rootElementId")

	var annotations []store.Annotation
	var err error
	if creator := query.Get("creatorAccountId"); creator != "" {
		annotations, err = s.annotations.FindByCreator(r.Context(), rootElementID, creator)
	} else {
		annotations, err = s.annotations.FindByElement(r.Context(), rootElementID, query.Get("elementId"), query.Get("motivation"))
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"annotations": annotationPayload(annotations)})
}

func (s *HTTPServer) handleSavePermission(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		SubjectType  string `json:"subjectType"`
		SubjectID    string `json:"subjectId"`
		ResourceType string `json:"resourceType"`
		ResourceID   string `json:"resourceId"`
		Level        string `json:"level"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	err := s.permissions.SavePermission(r.Context(), store.Permission{
		SubjectType:  body.SubjectType,
		SubjectID:    body.SubjectID,
		ResourceType: body.ResourceType,
		ResourceID:   body.ResourceID,
		Level:        body.Level,
		GrantedBy:    session.AccountID,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAddTeamMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TeamID    string `json:"teamId"`
		AccountID string `json:"accountId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	// The membership row has no foreign key back to accounts, so check the
	// account exists before writing it.
	if strings.TrimSpace(body.AccountID) != "" {
		if _, err := s.service.GetAccount(r.Context(), body.AccountID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
	}
	if err := s.permissions.AddTeamMember(r.Context(), body.TeamID, body.AccountID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) requireSession(r *http.Request) (Session, error) {
	token := bearerToken(r)
	if token == "" {
		// WebSocket clients cannot set headers from the browser API.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return Session{}, auth.ErrInvalidToken
	}
	return s.service.SessionFromToken(r.Context(), token)
}

func sessionPayload(tokens SessionTokens) map[string]any {
	return map[string]any{
		"token":        tokens.Token,
		"refreshToken": tokens.RefreshToken,
		"accountId":    tokens.AccountID,
		"name":         tokens.Name,
	}
}

func annotationPayload(annotations []store.Annotation) []map[string]any {
	payload := make([]map[string]any, 0, len(annotations))
	for _, a := range annotations {
		payload = append(payload, map[string]any{
			"annotationId":     a.ID,
			"version":          a.Version,
			"rootElementId":    a.RootElementID,
			"elementId":        a.ElementID,
			"motivation":       a.Motivation,
			"creatorAccountId": a.CreatorAccountID,
			"body":             json.RawMessage(a.BodyJSON),
			"target":           json.RawMessage(a.TargetJSON),
			"resolved":         a.Resolved,
		})
	}
	return payload
}

func collaboratorPayload(collaborators []store.Collaborator) []map[string]any {
	payload := make([]map[string]any, 0, len(collaborators))
	for _, c := range collaborators {
		payload = append(payload, map[string]any{
			"resourceType": c.ResourceType,
			"resourceId":   c.ResourceID,
			"subjectType":  c.SubjectType,
			"subjectId":    c.SubjectID,
			"level":        c.Level,
		})
	}
	return payload
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

		s.log.Info().
			Str("requestId", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", time.Since(started)).
			Msg("request")
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

func setCORSHeaders(header http.Header, origin string) {
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
	header.Set("Content-Type", "application/json")
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

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *apperr.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
