package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agenthands/council/internal/config"
	"github.com/agenthands/council/internal/council"
	"github.com/agenthands/council/internal/llm"
	"github.com/agenthands/council/internal/scores"
	"github.com/agenthands/council/internal/storage"
)

type Server struct {
	Store   *storage.Store
	Council *council.Council

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// sessionEntry serializes mutations per session: the state machine is
// single-writer, so each handler holds the entry lock for its duration.
type sessionEntry struct {
	mu   sync.Mutex
	sess *council.Session
}

// New wires a server from existing collaborators. Used directly by tests.
func New(store *storage.Store, c *council.Council) *Server {
	return &Server{
		Store:    store,
		Council:  c,
		sessions: make(map[string]*sessionEntry),
	}
}

// NewServer boots the server from config and environment, the way the binary
// starts it. Fatal on misconfiguration.
func NewServer() *Server {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	dbPath := cfg.Storage.Path
	if envPath := os.Getenv("COUNCIL_DB"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		dbPath = "data/council.db"
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	c := &council.Council{}
	ctx := context.Background()
	for _, m := range cfg.Council {
		client, err := llm.NewClient(ctx, m)
		if err != nil {
			log.Fatalf("Failed to initialize client for %s: %v", m.Name, err)
		}
		c.Members = append(c.Members, council.Member{Name: m.Name, Client: client})
	}
	chairClient, err := llm.NewClient(ctx, cfg.Chairman)
	if err != nil {
		log.Fatalf("Failed to initialize chairman client: %v", err)
	}
	c.Chairman = council.Member{Name: cfg.Chairman.Name, Client: chairClient}

	return New(store, c)
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/", s.Health)

	r.GET("/api/conversations", s.ListConversations)
	r.POST("/api/conversations", s.CreateConversation)
	r.GET("/api/conversations/:id", s.GetConversation)
	r.DELETE("/api/conversations/:id", s.DeleteConversation)
	r.PATCH("/api/conversations/:id/title", s.UpdateTitle)

	r.GET("/api/conversations/:id/session", s.GetSession)
	r.POST("/api/conversations/:id/session/responses", s.AddResponse)
	r.POST("/api/conversations/:id/session/rankings", s.AddRanking)
	r.POST("/api/conversations/:id/session/advance", s.Advance)
	r.POST("/api/conversations/:id/session/back", s.Back)
	r.POST("/api/conversations/:id/session/discard", s.Discard)
	r.POST("/api/conversations/:id/session/complete", s.Complete)
	r.POST("/api/conversations/:id/session/rounds", s.RunRounds)

	r.POST("/api/conversations/:id/message", s.SendMessage)
	r.POST("/api/conversations/:id/message/stream", s.SendMessageStream)

	r.GET("/api/scores", s.Leaderboard)

	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "Council API"})
}

func (s *Server) ListConversations(c *gin.Context) {
	list, err := s.Store.ListConversations()
	if err != nil {
		log.Printf("Failed to list conversations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}
	if list == nil {
		list = []storage.ConversationMetadata{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) CreateConversation(c *gin.Context) {
	conv, err := s.Store.CreateConversation(uuid.New().String())
	if err != nil {
		log.Printf("Failed to create conversation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) GetConversation(c *gin.Context) {
	conv, err := s.Store.GetConversation(c.Param("id"))
	if err != nil {
		s.conversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := s.Store.DeleteConversation(id); err != nil {
		s.conversationError(c, err)
		return
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "success", "id": id})
}

type updateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *Server) UpdateTitle(c *gin.Context) {
	var req updateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	id := c.Param("id")
	if err := s.Store.UpdateTitle(id, req.Title); err != nil {
		s.conversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "id": id, "title": req.Title})
}

// session returns the entry for a conversation, resuming from a persisted
// draft when one exists.
func (s *Server) session(conversationID string) (*sessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.sessions[conversationID]; ok {
		return entry, nil
	}

	conv, err := s.Store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	history := storage.History(conv)

	var sess *council.Session
	snap, err := s.Store.LoadDraft(conversationID)
	if err != nil {
		log.Printf("Failed to load draft for %s: %v", conversationID, err)
	}
	if snap != nil {
		sess = council.Resume(*snap, history)
	} else {
		sess = council.NewSession(conversationID, history)
	}

	entry := &sessionEntry{sess: sess}
	s.sessions[conversationID] = entry
	return entry, nil
}

// persist writes the session draft. Draft write failures risk loss on reload
// but are not fatal to the in-memory session; they are logged by policy.
func (s *Server) persist(sess *council.Session) {
	if err := s.Store.SaveDraft(sess.ConversationID, sess.Snapshot()); err != nil {
		log.Printf("Failed to persist session draft for %s: %v", sess.ConversationID, err)
	}
}

func (s *Server) GetSession(c *gin.Context) {
	entry, err := s.session(c.Param("id"))
	if err != nil {
		s.conversationError(c, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	c.JSON(http.StatusOK, sessionView(entry.sess))
}

type addResponseRequest struct {
	Model     string `json:"model" binding:"required"`
	Text      string `json:"text" binding:"required"`
	Question  string `json:"question"`
	Overwrite bool   `json:"overwrite"`
}

func (s *Server) AddResponse(c *gin.Context) {
	var req addResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	entry, err := s.session(c.Param("id"))
	if err != nil {
		s.conversationError(c, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if req.Question != "" {
		if err := entry.sess.SetQuestion(req.Question); err != nil {
			s.sessionError(c, err)
			return
		}
	}
	if err := entry.sess.AddResponse(req.Model, req.Text, req.Overwrite); err != nil {
		s.sessionError(c, err)
		return
	}

	s.persist(entry.sess)
	c.JSON(http.StatusOK, sessionView(entry.sess))
}

type addRankingRequest struct {
	Model     string `json:"model" binding:"required"`
	Text      string `json:"text" binding:"required"`
	Overwrite bool   `json:"overwrite"`
}

func (s *Server) AddRanking(c *gin.Context) {
	var req addRankingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	entry, err := s.session(c.Param("id"))
	if err != nil {
		s.conversationError(c, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := entry.sess.AddRanking(req.Model, req.Text, req.Overwrite); err != nil {
		s.sessionError(c, err)
		return
	}

	s.persist(entry.sess)
	c.JSON(http.StatusOK, sessionView(entry.sess))
}

// Advance performs the forward transition legal from the session's current
// stage. The Stage-2 label map is returned to the operator out-of-band with
// the prompt; it must never be shown to a reviewing model.
func (s *Server) Advance(c *gin.Context) {
	entry, err := s.session(c.Param("id"))
	if err != nil {
		s.conversationError(c, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess := entry.sess
	switch sess.Stage() {
	case council.Stage1Collecting:
		prompt, labelMap, err := sess.AdvanceToStage2()
		if err != nil {
			s.sessionError(c, err)
			return
		}
		s.persist(sess)
		c.JSON(http.StatusOK, gin.H{
			"stage":          sess.Stage().String(),
			"prompt":         prompt,
			"label_to_model": labelMap,
		})

	case council.Stage2Collecting:
		prompt, err := sess.AdvanceToStage3()
		if err != nil {
			s.sessionError(c, err)
			return
		}
		s.persist(sess)
		model, justification := sess.PreselectedSynthesizer()
		c.JSON(http.StatusOK, gin.H{
			"stage":                     sess.Stage().String(),
			"prompt":                    prompt,
			"aggregate_rankings":        sess.Aggregate(),
			"synthesizer":               model,
			"synthesizer_justification": justification,
		})

	default:
		c.JSON(http.StatusConflict, gin.H{"error": "No forward transition from " + sess.Stage().String()})
	}
}

func (s *Server) Back(c *gin.Context) {
	entry, err := s.session(c.Param("id"))
	if err != nil {
		s.conversationError(c, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.sess.Back()
	s.persist(entry.sess)
	c.JSON(http.StatusOK, sessionView(entry.sess))
}

func (s *Server) Discard(c *gin.Context) {
	id := c.Param("id")
	entry, err := s.session(id)
	if err != nil {
		s.conversationError(c, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.sess.Discard()
	if err := s.Store.DeleteDraft(id); err != nil {
		log.Printf("Failed to delete draft for %s: %v", id, err)
	}
	c.JSON(http.StatusOK, sessionView(entry.sess))
}

type completeRequest struct {
	Model string `json:"model" binding:"required"`
	Text  string `json:"text" binding:"required"`
}

func (s *Server) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id := c.Param("id")
	entry, err := s.session(id)
	if err != nil {
		s.conversationError(c, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	record, err := entry.sess.Complete(req.Model, req.Text)
	if err != nil {
		s.sessionError(c, err)
		return
	}

	s.saveRecord(c, id, record)
}

// persistRecord writes a completed deliberation: user turn, assistant record,
// leaderboard points, and draft cleanup.
func (s *Server) persistRecord(id string, record *council.FinalRecord) error {
	if err := s.Store.AddUserMessage(id, record.Question); err != nil {
		return fmt.Errorf("failed to save user message: %w", err)
	}
	if err := s.Store.SaveRecord(id, record); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	if err := scores.Update(s.Store, record.Rankings, record.LabelMap); err != nil {
		log.Printf("Failed to update scores: %v", err)
	}
	if err := s.Store.DeleteDraft(id); err != nil {
		log.Printf("Failed to delete draft for %s: %v", id, err)
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *Server) saveRecord(c *gin.Context, id string, record *council.FinalRecord) {
	if err := s.persistRecord(id, record); err != nil {
		log.Printf("Failed to persist deliberation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stage1": record.Responses,
		"stage2": record.Rankings,
		"stage3": record.Synthesis,
		"metadata": storage.Metadata{
			LabelToModel:      record.LabelMap,
			AggregateRankings: record.Aggregate,
		},
	})
}

type runRoundsRequest struct {
	Model     string `json:"model" binding:"required"`
	Rounds    int    `json:"rounds"`
	Question  string `json:"question"`
	Overwrite bool   `json:"overwrite"`
}

func (s *Server) RunRounds(c *gin.Context) {
	var req runRoundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Rounds < 1 {
		req.Rounds = 1
	}

	member, ok := s.member(req.Model)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown council member: " + req.Model})
		return
	}

	entry, err := s.session(c.Param("id"))
	if err != nil {
		s.conversationError(c, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess := entry.sess
	if req.Question != "" {
		if err := sess.SetQuestion(req.Question); err != nil {
			s.sessionError(c, err)
			return
		}
	}
	if sess.Question() == "" {
		s.sessionError(c, council.ErrEmptyQuestion)
		return
	}

	completed, err := s.Council.RunRounds(c.Request.Context(), sess, member, sess.Question(), req.Rounds, req.Overwrite)
	// Rounds that already succeeded are kept even when a later one fails.
	s.persist(sess)

	if err != nil {
		var provErr *llm.ProviderError
		if errors.As(err, &provErr) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":            provErr.Message,
				"kind":             provErr.Kind,
				"completed_rounds": completed,
				"session":          sessionView(sess),
			})
			return
		}
		s.sessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"completed_rounds": completed, "session": sessionView(sess)})
}

func (s *Server) member(name string) (council.Member, bool) {
	for _, m := range s.Council.Members {
		if m.Name == name {
			return m, true
		}
	}
	return council.Member{}, false
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage runs the fully automated three-stage deliberation and saves the
// final record.
func (s *Server) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id := c.Param("id")
	conv, err := s.Store.GetConversation(id)
	if err != nil {
		s.conversationError(c, err)
		return
	}

	sess := council.NewSession(id, storage.History(conv))
	record, err := s.Council.RunFull(c.Request.Context(), sess, req.Content)
	if err != nil {
		log.Printf("Council run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.saveRecord(c, id, record)
}

// SendMessageStream runs the automated deliberation while streaming per-stage
// progress as server-sent events, one JSON payload per event.
func (s *Server) SendMessageStream(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id := c.Param("id")
	conv, err := s.Store.GetConversation(id)
	if err != nil {
		s.conversationError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	emit := func(ev council.ProgressEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("Failed to encode progress event: %v", err)
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}

	sess := council.NewSession(id, storage.History(conv))
	record, err := s.Council.RunFullStream(c.Request.Context(), sess, req.Content, emit)
	if err != nil {
		log.Printf("Council run failed: %v", err)
		emit(council.ProgressEvent{Type: "error", Message: err.Error()})
		return
	}

	if err := s.persistRecord(id, record); err != nil {
		log.Printf("Failed to persist deliberation: %v", err)
		emit(council.ProgressEvent{Type: "error", Message: "failed to save record"})
		return
	}
	emit(council.ProgressEvent{Type: "complete"})
}

type leaderboardEntry struct {
	Model  string `json:"model"`
	Points int    `json:"points"`
}

func (s *Server) Leaderboard(c *gin.Context) {
	scoreMap, err := s.Store.Scores()
	if err != nil {
		log.Printf("Failed to load scores: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load scores"})
		return
	}

	entries := make([]leaderboardEntry, 0, len(scoreMap))
	for model, points := range scoreMap {
		entries = append(entries, leaderboardEntry{Model: model, Points: points})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].Model < entries[j].Model
	})
	c.JSON(http.StatusOK, entries)
}

// sessionView is the resumable session state returned to the operator UI.
func sessionView(sess *council.Session) gin.H {
	snap := sess.Snapshot()
	return gin.H{
		"stage":   sess.Stage().String(),
		"session": snap,
	}
}

func (s *Server) conversationError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	log.Printf("Storage error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage error"})
}

// sessionError maps engine errors to status codes. Duplicate adds are the
// confirmation gate: callers retry with overwrite once the operator confirms.
func (s *Server) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, council.ErrDuplicateModel):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "needs_confirmation": true})
	case errors.Is(err, council.ErrWrongStage):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, council.ErrEmptyQuestion),
		errors.Is(err, council.ErrNoResponses),
		errors.Is(err, council.ErrNoRankings),
		errors.Is(err, council.ErrEmptySynthesis):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("Session error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
