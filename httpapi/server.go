// Package httpapi exposes the orchestrator over HTTP/JSON.
//
// Errors use the envelope {"error":{"message","type"}}; status 400
// signals malformed input, 404 not-found, 500 internal failure.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nevindra/hive"
)

// Server wires the orchestrator façade into a gin router.
type Server struct {
	orch   *hive.Orchestrator
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. If not set, requests are not
// logged.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a Server over the orchestrator.
func New(orch *hive.Orchestrator, opts ...Option) *Server {
	s := &Server{orch: orch}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if s.logger != nil {
		r.Use(s.logRequests())
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/agents/spawn", s.spawnAgent)
		v1.GET("/agents", s.listAgents)
		v1.GET("/agents/stats", s.stats)
		v1.GET("/agents/:agent_id", s.getAgent)
		v1.DELETE("/agents/:agent_id", s.terminateAgent)

		v1.POST("/tasks/submit", s.submitTask)
		v1.POST("/tasks/workflow", s.submitWorkflow)
		v1.GET("/tasks", s.listTasks)
		v1.GET("/tasks/:task_id", s.getTask)
		v1.DELETE("/tasks/:task_id", s.cancelTask)

		v1.POST("/knowledge", s.putKnowledge)
		v1.GET("/knowledge/query", s.queryKnowledge)
		v1.GET("/knowledge/:key", s.getKnowledge)
		v1.GET("/knowledge/:key/history", s.knowledgeHistory)

		v1.POST("/messages/send", s.sendMessage)
		v1.POST("/messages/broadcast", s.broadcastMessage)
		v1.GET("/messages/:agent_id", s.receiveMessages)

		v1.POST("/consensus/vote/create", s.createVote)
		v1.POST("/consensus/vote/:vote_id/cast", s.castVote)
		v1.GET("/consensus/vote/:vote_id", s.getVote)
		v1.POST("/consensus/vote/:vote_id/finalize", s.finalizeVote)
	}
	return r
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}

// fail writes the error envelope.
func fail(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message, "type": errType}})
}

// failErr maps core errors onto the envelope and status codes.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, hive.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, hive.ErrInvalid):
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, hive.ErrConflict), errors.Is(err, hive.ErrSlotTaken):
		fail(c, http.StatusBadRequest, "conflict", err.Error())
	case errors.Is(err, hive.ErrCapacity):
		fail(c, http.StatusBadRequest, "capacity", err.Error())
	case errors.Is(err, hive.ErrFinalized), errors.Is(err, hive.ErrLocked), errors.Is(err, hive.ErrBreakerOpen):
		fail(c, http.StatusBadRequest, "policy", err.Error())
	default:
		fail(c, http.StatusInternalServerError, "internal", err.Error())
	}
}

// --- Agents ---

type spawnRequest struct {
	ID           string            `json:"id"`
	Role         string            `json:"role" binding:"required"`
	SlotID       int               `json:"slot_id"`
	Capabilities []string          `json:"capabilities"`
	Config       map[string]string `json:"config"`
}

func (s *Server) spawnAgent(c *gin.Context) {
	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id, err := s.orch.SpawnAgent(req.ID, req.Role, req.SlotID, req.Capabilities, req.Config)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id": id,
		"role":     req.Role,
		"slot_id":  req.SlotID,
		"status":   "spawned",
	})
}

func (s *Server) listAgents(c *gin.Context) {
	agents := s.orch.ListAgents()
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

func (s *Server) getAgent(c *gin.Context) {
	a, ok := s.orch.GetAgent(c.Param("agent_id"))
	if !ok {
		fail(c, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) terminateAgent(c *gin.Context) {
	id := c.Param("agent_id")
	if err := s.orch.TerminateAgent(id); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "agent_id": id, "status": "terminated"})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.GetStats())
}

// --- Tasks ---

type taskRequest struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Description   string            `json:"description"`
	Parameters    map[string]string `json:"parameters"`
	Dependencies  []string          `json:"dependencies"`
	RequiredRoles []string          `json:"required_roles"`
	Priority      int               `json:"priority"`
	DeadlineMs    int64             `json:"deadline_ms"`
}

func (req taskRequest) toTask() (hive.Task, error) {
	t := hive.Task{
		ID:            req.ID,
		Description:   req.Description,
		Parameters:    req.Parameters,
		Dependencies:  req.Dependencies,
		RequiredRoles: req.RequiredRoles,
		Priority:      req.Priority,
	}
	if req.Type != "" {
		tt, err := hive.ParseTaskType(req.Type)
		if err != nil {
			return hive.Task{}, err
		}
		t.Type = tt
	} else {
		t.Type = hive.TaskCustom
	}
	if req.DeadlineMs > 0 {
		t.Deadline = hive.NowMillis() + req.DeadlineMs
	}
	return t, nil
}

func (s *Server) submitTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	t, err := req.toTask()
	if err != nil {
		failErr(c, err)
		return
	}
	id, err := s.orch.SubmitTask(t)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "status": "submitted"})
}

type workflowRequest struct {
	Tasks []taskRequest `json:"tasks" binding:"required"`
}

func (s *Server) submitWorkflow(c *gin.Context) {
	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	tasks := make([]hive.Task, 0, len(req.Tasks))
	for _, tr := range req.Tasks {
		t, err := tr.toTask()
		if err != nil {
			failErr(c, err)
			return
		}
		tasks = append(tasks, t)
	}
	workflowID, ids, err := s.orch.SubmitWorkflow(tasks)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workflow_id": workflowID,
		"task_ids":    ids,
		"status":      "scheduled",
	})
}

func (s *Server) listTasks(c *gin.Context) {
	tasks := s.orch.ListTasks()
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(c *gin.Context) {
	t, ok := s.orch.GetTask(c.Param("task_id"))
	if !ok {
		fail(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) cancelTask(c *gin.Context) {
	id := c.Param("task_id")
	if err := s.orch.CancelTask(id); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task_id": id, "status": "cancelled"})
}

// --- Knowledge ---

type knowledgeRequest struct {
	Key     string   `json:"key" binding:"required"`
	Value   string   `json:"value" binding:"required"`
	AgentID string   `json:"agent_id"`
	Tags    []string `json:"tags"`
}

func (s *Server) putKnowledge(c *gin.Context) {
	var req knowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	entry, err := s.orch.PutKnowledge(req.Key, req.Value, req.AgentID, req.Tags)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) getKnowledge(c *gin.Context) {
	entry, ok := s.orch.GetKnowledge(c.Param("key"))
	if !ok {
		fail(c, http.StatusNotFound, "not_found", "key not found")
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) knowledgeHistory(c *gin.Context) {
	history := s.orch.KnowledgeHistory(c.Param("key"))
	if len(history) == 0 {
		fail(c, http.StatusNotFound, "not_found", "key not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": history, "count": len(history)})
}

func (s *Server) queryKnowledge(c *gin.Context) {
	raw := c.Query("tags")
	var tags []string
	if raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	entries := s.orch.QueryKnowledge(tags)
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// --- Messages ---

type messageRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Kind     string `json:"kind"`
	Payload  any    `json:"payload"`
	Subject  string `json:"subject"`
	Priority int    `json:"priority"`
}

func (req messageRequest) toMessage() (hive.Message, error) {
	kind := hive.KindUser
	if req.Kind != "" {
		k, err := hive.ParseKind(req.Kind)
		if err != nil {
			return hive.Message{}, err
		}
		kind = k
	}
	m, err := hive.NewMessage(req.From, req.To, kind, req.Payload)
	if err != nil {
		return hive.Message{}, err
	}
	m.Subject = req.Subject
	m.Priority = req.Priority
	return m, nil
}

func (s *Server) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	m, err := req.toMessage()
	if err != nil {
		failErr(c, err)
		return
	}
	if err := s.orch.SendMessage(m); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": m.ID, "status": "sent"})
}

func (s *Server) broadcastMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.To = ""
	m, err := req.toMessage()
	if err != nil {
		failErr(c, err)
		return
	}
	recipients := s.orch.BroadcastMessage(m)
	c.JSON(http.StatusOK, gin.H{"message_id": m.ID, "recipients": recipients, "status": "sent"})
}

func (s *Server) receiveMessages(c *gin.Context) {
	max := 0
	if raw := c.Query("max_count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, "invalid_request", "max_count must be a non-negative integer")
			return
		}
		max = n
	}
	msgs, err := s.orch.ReceiveMessages(c.Param("agent_id"), max)
	if err != nil {
		failErr(c, err)
		return
	}
	if msgs == nil {
		msgs = []hive.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

// --- Consensus ---

type createVoteRequest struct {
	Question   string   `json:"question" binding:"required"`
	Options    []string `json:"options" binding:"required"`
	Type       string   `json:"type"`
	DeadlineMs int64    `json:"deadline"`
}

func (s *Server) createVote(c *gin.Context) {
	var req createVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	vt := s.orch.DefaultVoteType()
	if req.Type != "" {
		parsed, err := hive.ParseVoteType(req.Type)
		if err != nil {
			failErr(c, err)
			return
		}
		vt = parsed
	}
	id, err := s.orch.CreateVote(req.Question, req.Options, vt, req.DeadlineMs)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vote_id": id})
}

type castVoteRequest struct {
	AgentID string  `json:"agent_id" binding:"required"`
	Option  string  `json:"option" binding:"required"`
	Weight  float64 `json:"weight"`
}

func (s *Server) castVote(c *gin.Context) {
	var req castVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	err := s.orch.CastVote(c.Param("vote_id"), req.AgentID, req.Option, req.Weight)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) getVote(c *gin.Context) {
	v, ok := s.orch.GetVote(c.Param("vote_id"))
	if !ok {
		fail(c, http.StatusNotFound, "not_found", "vote not found")
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) finalizeVote(c *gin.Context) {
	id := c.Param("vote_id")
	result, ok := s.orch.FinalizeVote(id)
	if !ok {
		if _, exists := s.orch.GetVote(id); !exists {
			fail(c, http.StatusNotFound, "not_found", "vote not found")
			return
		}
		fail(c, http.StatusBadRequest, "policy", "vote already finalized")
		return
	}
	c.JSON(http.StatusOK, gin.H{"vote_id": id, "result": result, "finalized": true})
}
