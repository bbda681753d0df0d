package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/npezzotti/go-chatengine/internal/ws"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=6"`
}

type CreateRoomRequest struct {
	Name      string         `json:"name" validate:"max=128"`
	Type      types.RoomKind `json:"type" validate:"required,oneof=DIRECT GROUP"`
	MemberIds []int          `json:"member_ids" validate:"dive,gt=0"`
}

type SendMessageRequest struct {
	Content string            `json:"content" validate:"required"`
	Type    types.MessageType `json:"type" validate:"omitempty,oneof=CHAT JOIN LEAVE"`
}

type MarkReadResponse struct {
	MessageId int  `json:"message_id"`
	Updated   bool `json:"updated"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Printf("internal error: %v", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decodeRequest reads a JSON body into v and validates its struct tags.
func (s *GoChatApp) decodeRequest(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	return nil
}

func pathId(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid %s %d", name, id)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		IsOnline:     u.IsOnline,
		LastSeen:     u.LastSeen,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			s.writeError(w, NewConflictError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, toUser(newUser))
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := s.decodeRequest(r, &lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	u := toUser(dbUser)
	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one so the browser drops it
	http.SetCookie(w, createJwtCookie("", 0))
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.cs.GetUser(userId)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	users, err := s.cs.ListUsers(userId)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *GoChatApp) searchUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	users, err := s.cs.SearchUsers(r.URL.Query().Get("query"), userId)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *GoChatApp) setStatus(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	online, err := strconv.ParseBool(r.URL.Query().Get("isOnline"))
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.cs.SetOnline(userId, online); err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	rooms, err := s.cs.ListRoomsWithUnread(userId)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateRoomRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	room, err := s.cs.CreateRoom(userId, req.Name, req.Type, req.MemberIds)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

// roomAction runs fn with the caller's id and the {id} path value and
// answers 204 on success.
func (s *GoChatApp) roomAction(w http.ResponseWriter, r *http.Request, fn func(roomId, userId int) error) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := fn(roomId, userId); err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, s.cs.DeleteRoomForUser)
}

func (s *GoChatApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, s.cs.JoinRoom)
}

func (s *GoChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, s.cs.LeaveRoom)
}

func (s *GoChatApp) setTyping(w http.ResponseWriter, r *http.Request) {
	typing, err := strconv.ParseBool(r.URL.Query().Get("isTyping"))
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	s.roomAction(w, r, func(roomId, userId int) error {
		return s.cs.SetTyping(roomId, userId, typing)
	})
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	var before, after, limit int
	for name, dst := range map[string]*int{"before": &before, "after": &after, "limit": &limit} {
		if *dst, err = queryInt(r, name); err != nil {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	messages, err := s.cs.GetMessages(roomId, userId, after, before, limit)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *GoChatApp) getLastMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.cs.GetLastMessage(roomId, userId)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *GoChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	var req SendMessageRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.cs.SendMessage(roomId, userId, req.Content, req.Type)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	messageId, err := pathId(r, "messageId")
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.db.GetMessageById(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if msg.RoomId != roomId {
		s.writeError(w, NewNotFoundError())
		return
	}

	updated, err := s.cs.MarkRead(messageId, userId)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	s.writeJson(w, http.StatusOK, MarkReadResponse{MessageId: messageId, Updated: updated})
}

func (s *GoChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.cs.GetUser(userId)
	if err != nil {
		s.writeError(w, NewEngineError(err))
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	session, err := s.cs.Connect(user)
	if err != nil {
		s.log.Printf("connect %q: %v", user.Username, err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""))
		conn.Close()
		return
	}

	ws.NewClient(session, conn, s.cs, s.log).Start()
}
