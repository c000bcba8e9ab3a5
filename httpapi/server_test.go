package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nevindra/hive"
)

func newTestServer(t *testing.T) (*gin.Engine, *hive.Orchestrator) {
	t.Helper()
	orch := hive.NewOrchestrator(hive.WithHousekeepingInterval(time.Hour))
	if err := orch.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(orch.Stop)
	return New(orch).Router(), orch
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestSpawnAndGetAgent(t *testing.T) {
	router, _ := newTestServer(t)

	w := do(t, router, http.MethodPost, "/v1/agents/spawn", gin.H{
		"id": "w1", "role": "writer", "slot_id": 0, "capabilities": []string{"writing"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("spawn status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		AgentID string `json:"agent_id"`
		Role    string `json:"role"`
		SlotID  int    `json:"slot_id"`
		Status  string `json:"status"`
	}
	decode(t, w, &resp)
	if resp.AgentID != "w1" || resp.Status != "spawned" || resp.SlotID != 0 {
		t.Errorf("spawn response = %+v", resp)
	}

	w = do(t, router, http.MethodGet, "/v1/agents/w1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get agent status = %d", w.Code)
	}
	var agent hive.AgentInfo
	decode(t, w, &agent)
	if agent.ID != "w1" || agent.StateName != "running" {
		t.Errorf("agent = %+v, want running w1", agent)
	}

	w = do(t, router, http.MethodGet, "/v1/agents/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get unknown agent status = %d, want 404", w.Code)
	}
}

func TestSpawnValidation(t *testing.T) {
	router, _ := newTestServer(t)
	// Missing required role.
	w := do(t, router, http.MethodPost, "/v1/agents/spawn", gin.H{"id": "w1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("spawn without role status = %d, want 400", w.Code)
	}
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decode(t, w, &resp)
	if resp.Error.Type != "invalid_request" || resp.Error.Message == "" {
		t.Errorf("error envelope = %+v", resp)
	}
}

func TestSpawnConflictAndTerminate(t *testing.T) {
	router, _ := newTestServer(t)
	if w := do(t, router, http.MethodPost, "/v1/agents/spawn", gin.H{"id": "w1", "role": "writer", "slot_id": -1}); w.Code != http.StatusOK {
		t.Fatalf("spawn status = %d", w.Code)
	}
	w := do(t, router, http.MethodPost, "/v1/agents/spawn", gin.H{"id": "w1", "role": "writer", "slot_id": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate spawn status = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodDelete, "/v1/agents/w1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("terminate status = %d", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/v1/agents/w1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("double terminate status = %d, want 404", w.Code)
	}
}

func TestTaskSubmitAndLifecycle(t *testing.T) {
	router, orch := newTestServer(t)

	w := do(t, router, http.MethodPost, "/v1/tasks/submit", gin.H{
		"type": "generate", "description": "write the intro", "priority": 7,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", w.Code, w.Body.String())
	}
	var sub struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	decode(t, w, &sub)
	if sub.TaskID == "" || sub.Status != "submitted" {
		t.Fatalf("submit response = %+v", sub)
	}

	w = do(t, router, http.MethodGet, "/v1/tasks/"+sub.TaskID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get task status = %d", w.Code)
	}
	var task hive.Task
	decode(t, w, &task)
	if task.TypeName != "generate" || task.StatusName != "pending" || task.Priority != 7 {
		t.Errorf("task = %+v, want pending generate p7", task)
	}

	// Cancel through the API, observe through the façade.
	w = do(t, router, http.MethodDelete, "/v1/tasks/"+sub.TaskID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	got, _ := orch.GetTask(sub.TaskID)
	if got.Status != hive.TaskCancelled {
		t.Errorf("task status = %v after cancel, want cancelled", got.Status)
	}
	// A second cancel is a conflict.
	w = do(t, router, http.MethodDelete, "/v1/tasks/"+sub.TaskID, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("double cancel status = %d, want 400", w.Code)
	}
}

func TestTaskUnknownType(t *testing.T) {
	router, _ := newTestServer(t)
	w := do(t, router, http.MethodPost, "/v1/tasks/submit", gin.H{"type": "juggle", "priority": 1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", w.Code)
	}
}

func TestWorkflow(t *testing.T) {
	router, orch := newTestServer(t)
	w := do(t, router, http.MethodPost, "/v1/tasks/workflow", gin.H{
		"tasks": []gin.H{
			{"id": "draft", "priority": 8},
			{"id": "review", "priority": 5, "dependencies": []string{"draft"}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("workflow status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		WorkflowID string   `json:"workflow_id"`
		TaskIDs    []string `json:"task_ids"`
		Status     string   `json:"status"`
	}
	decode(t, w, &resp)
	if resp.WorkflowID == "" || len(resp.TaskIDs) != 2 || resp.Status != "scheduled" {
		t.Fatalf("workflow response = %+v", resp)
	}
	task, _ := orch.GetTask("review")
	if task.Parent != resp.WorkflowID {
		t.Errorf("task parent = %q, want %q", task.Parent, resp.WorkflowID)
	}
}

func TestKnowledgeEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	for _, val := range []string{"v1", "v2"} {
		w := do(t, router, http.MethodPost, "/v1/knowledge", gin.H{
			"key": "api_design", "value": val, "agent_id": "w1", "tags": []string{"design"},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("put status = %d, body %s", w.Code, w.Body.String())
		}
	}

	w := do(t, router, http.MethodGet, "/v1/knowledge/api_design", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var entry hive.KnowledgeEntry
	decode(t, w, &entry)
	if entry.Value != "v2" || entry.Version != 2 {
		t.Errorf("entry = %+v, want v2 version 2", entry)
	}

	w = do(t, router, http.MethodGet, "/v1/knowledge/api_design/history", nil)
	var hist struct {
		Entries []hive.KnowledgeEntry `json:"entries"`
		Count   int                   `json:"count"`
	}
	decode(t, w, &hist)
	if hist.Count != 2 || hist.Entries[0].Version != 1 {
		t.Errorf("history = %+v, want 2 versions ascending", hist)
	}

	w = do(t, router, http.MethodGet, "/v1/knowledge/query?tags=design", nil)
	var q struct {
		Count int `json:"count"`
	}
	decode(t, w, &q)
	if q.Count != 1 {
		t.Errorf("query count = %d, want 1", q.Count)
	}

	if w := do(t, router, http.MethodGet, "/v1/knowledge/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get missing key status = %d, want 404", w.Code)
	}
}

func TestMessageEndpoints(t *testing.T) {
	router, _ := newTestServer(t)
	for _, id := range []string{"a1", "a2"} {
		if w := do(t, router, http.MethodPost, "/v1/agents/spawn", gin.H{"id": id, "role": "worker", "slot_id": -1}); w.Code != http.StatusOK {
			t.Fatal("spawn failed")
		}
	}

	w := do(t, router, http.MethodPost, "/v1/messages/send", gin.H{
		"from": "a1", "to": "a2", "kind": "direct", "payload": gin.H{"text": "hi"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d, body %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/v1/messages/a2?max_count=10", nil)
	var recv struct {
		Messages []hive.Message `json:"messages"`
		Count    int            `json:"count"`
	}
	decode(t, w, &recv)
	if recv.Count != 1 || recv.Messages[0].From != "a1" {
		t.Fatalf("receive = %+v, want one message from a1", recv)
	}
	// The mailbox is drained.
	w = do(t, router, http.MethodGet, "/v1/messages/a2", nil)
	decode(t, w, &recv)
	if recv.Count != 0 {
		t.Errorf("second receive count = %d, want 0", recv.Count)
	}

	w = do(t, router, http.MethodPost, "/v1/messages/broadcast", gin.H{"from": "a1", "kind": "broadcast"})
	var bc struct {
		Recipients int `json:"recipients"`
	}
	decode(t, w, &bc)
	// a2 plus the coordinator and root supervisor.
	if bc.Recipients != 3 {
		t.Errorf("broadcast recipients = %d, want 3", bc.Recipients)
	}

	if w := do(t, router, http.MethodGet, "/v1/messages/a2?max_count=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("negative max_count status = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/v1/messages/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("receive for unknown agent status = %d, want 404", w.Code)
	}
}

func TestConsensusEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	w := do(t, router, http.MethodPost, "/v1/consensus/vote/create", gin.H{
		"question": "ship?", "options": []string{"yes", "no"}, "type": "supermajority",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		VoteID string `json:"vote_id"`
	}
	decode(t, w, &created)
	if created.VoteID == "" {
		t.Fatal("empty vote id")
	}

	for i, agent := range []string{"a1", "a2", "a3"} {
		option := "yes"
		if i == 2 {
			option = "no"
		}
		w := do(t, router, http.MethodPost, "/v1/consensus/vote/"+created.VoteID+"/cast",
			gin.H{"agent_id": agent, "option": option})
		if w.Code != http.StatusOK {
			t.Fatalf("cast status = %d, body %s", w.Code, w.Body.String())
		}
	}
	// Undeclared option is rejected.
	w = do(t, router, http.MethodPost, "/v1/consensus/vote/"+created.VoteID+"/cast",
		gin.H{"agent_id": "a4", "option": "maybe"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("undeclared option status = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/v1/consensus/vote/"+created.VoteID+"/finalize", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("finalize status = %d", w.Code)
	}
	var fin struct {
		Result    string `json:"result"`
		Finalized bool   `json:"finalized"`
	}
	decode(t, w, &fin)
	if fin.Result != "yes" || !fin.Finalized {
		t.Errorf("finalize = %+v, want yes", fin)
	}

	// Second finalize is a policy error; unknown vote is 404.
	if w := do(t, router, http.MethodPost, "/v1/consensus/vote/"+created.VoteID+"/finalize", nil); w.Code != http.StatusBadRequest {
		t.Errorf("double finalize status = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/v1/consensus/vote/ghost/finalize", nil); w.Code != http.StatusNotFound {
		t.Errorf("finalize unknown vote status = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodGet, "/v1/consensus/vote/"+created.VoteID, nil)
	var vote hive.Vote
	decode(t, w, &vote)
	if vote.TypeName != "supermajority" || len(vote.Ballots) != 3 {
		t.Errorf("vote = %+v, want supermajority with 3 ballots", vote)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router, _ := newTestServer(t)
	if w := do(t, router, http.MethodPost, "/v1/agents/spawn", gin.H{"id": "w1", "role": "writer", "slot_id": -1}); w.Code != http.StatusOK {
		t.Fatal("spawn failed")
	}

	w := do(t, router, http.MethodGet, "/v1/agents/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats hive.Stats
	decode(t, w, &stats)
	if stats.Agents.Total != 3 {
		t.Errorf("agents total = %d, want 3 (w1 + system agents)", stats.Agents.Total)
	}
	if stats.Agents.Idle != 3 {
		t.Errorf("idle = %d, want 3", stats.Agents.Idle)
	}
}

func TestListEndpoints(t *testing.T) {
	router, _ := newTestServer(t)
	if w := do(t, router, http.MethodPost, "/v1/agents/spawn", gin.H{"id": "w1", "role": "writer", "slot_id": -1}); w.Code != http.StatusOK {
		t.Fatal("spawn failed")
	}
	if w := do(t, router, http.MethodPost, "/v1/tasks/submit", gin.H{"priority": 1}); w.Code != http.StatusOK {
		t.Fatal("submit failed")
	}

	w := do(t, router, http.MethodGet, "/v1/agents", nil)
	var agents struct {
		Count int `json:"count"`
	}
	decode(t, w, &agents)
	if agents.Count != 3 {
		t.Errorf("agent count = %d, want 3", agents.Count)
	}

	w = do(t, router, http.MethodGet, "/v1/tasks", nil)
	var tasks struct {
		Count int `json:"count"`
	}
	decode(t, w, &tasks)
	if tasks.Count != 1 {
		t.Errorf("task count = %d, want 1", tasks.Count)
	}
}
