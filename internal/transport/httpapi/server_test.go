package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"snipebot/internal/catalog"
	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

type fakeCore struct {
	tasks map[string]queue.Task
	subs  map[string]monitor.Subscription

	// submitErr, when set, is returned by SubmitCommandText after it has
	// already queued the task, mimicking a mid-batch failure.
	submitErr error
}

func newFakeCore() *fakeCore {
	return &fakeCore{tasks: map[string]queue.Task{}, subs: map[string]monitor.Subscription{}}
}

func (f *fakeCore) SubmitCommandText(_ context.Context, _, text string) (SubmitResult, error) {
	t := queue.Task{ID: "t-1", PlanCode: text, Status: queue.StatusPending}
	f.tasks[t.ID] = t
	return SubmitResult{Tasks: []queue.Task{t}}, f.submitErr
}

func (f *fakeCore) CreateTask(_ context.Context, _, planCode, datacenter string, options []string, _ time.Duration) (queue.Task, error) {
	t := queue.Task{ID: fmt.Sprintf("t-%d", len(f.tasks)+1), PlanCode: planCode, Datacenter: datacenter, Options: options, Status: queue.StatusPending}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeCore) ListTasks() []queue.Task {
	out := make([]queue.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out
}

func (f *fakeCore) GetTask(id string) (queue.Task, bool) {
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeCore) SetTaskStatus(_ context.Context, _, id string, status queue.Status) (queue.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return queue.Task{}, queue.ErrNotFound
	}
	if t.Status == queue.StatusPending && status == queue.StatusPaused {
		return queue.Task{}, queue.ErrInvalidTransition
	}
	t.Status = status
	f.tasks[id] = t
	return t, nil
}

func (f *fakeCore) RemoveTask(_ context.Context, _, id string) error {
	if _, ok := f.tasks[id]; !ok {
		return queue.ErrNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeCore) ClearTasks(context.Context, string) int {
	n := len(f.tasks)
	f.tasks = map[string]queue.Task{}
	return n
}

func (f *fakeCore) ListSubscriptions() []monitor.Subscription {
	out := make([]monitor.Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s)
	}
	return out
}

func (f *fakeCore) SaveSubscription(_ context.Context, _ string, spec monitor.Spec) monitor.Subscription {
	sub := monitor.Subscription{Spec: spec}
	f.subs[spec.PlanCode] = sub
	return sub
}

func (f *fakeCore) RemoveSubscription(_ context.Context, _, planCode string) error {
	if _, ok := f.subs[planCode]; !ok {
		return monitor.ErrNotFound
	}
	delete(f.subs, planCode)
	return nil
}

func (f *fakeCore) ClearSubscriptions(context.Context, string) int {
	n := len(f.subs)
	f.subs = map[string]monitor.Subscription{}
	return n
}

func (f *fakeCore) SubscriptionHistory(planCode string) ([]monitor.ChangeEvent, error) {
	if _, ok := f.subs[planCode]; !ok {
		return nil, monitor.ErrNotFound
	}
	return []monitor.ChangeEvent{{PlanCode: planCode}}, nil
}

const testKey = "sekret"

func newTestServer(t *testing.T) (*httptest.Server, *fakeCore) {
	t.Helper()
	core := newFakeCore()
	s := New(Config{Enabled: true, APIKey: testKey}, core, logx.Nop(), nil)
	ts := httptest.NewServer(s.router())
	t.Cleanup(ts.Close)
	return ts, core
}

func doJSON(t *testing.T, method, url string, key string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthzIsOpen(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tasks", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tasks", "wrong", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tasks", testKey, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("valid key status = %d", resp.StatusCode)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tasks", testKey, map[string]any{
		"planCode": "24sk202", "datacenter": "gra", "retryInterval": "30s",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created queue.Task
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tasks/"+created.ID, testKey, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// pending -> paused is rejected by the state machine.
	resp = doJSON(t, http.MethodPatch, ts.URL+"/api/v1/tasks/"+created.ID+"/status", testKey,
		map[string]string{"status": "paused"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("invalid transition status = %d", resp.StatusCode)
	}

	if resp := doJSON(t, http.MethodDelete, ts.URL+"/api/v1/tasks/"+created.ID, testKey, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tasks/"+created.ID, testKey, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get removed status = %d", resp.StatusCode)
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/subscriptions", testKey, map[string]any{
		"planCode": "24sk202", "notifyAvailable": true, "autoOrder": true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/subscriptions/24sk202/history", testKey, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/subscriptions/nope/history", testKey, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing history status = %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodDelete, ts.URL+"/api/v1/subscriptions/24sk202", testKey, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
}

func TestSubmitCommands(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/commands", testKey, map[string]string{"text": "24sk202 gra"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	var res SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Tasks) != 1 {
		t.Fatalf("tasks = %v", res.Tasks)
	}
}

func TestSubmitCommandsPartialFailureKeepsTasks(t *testing.T) {
	t.Parallel()

	ts, core := newTestServer(t)
	core.submitErr = catalog.ErrNoAvailableTarget

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/commands", testKey, map[string]string{"text": "24sk202 gra\n24sk203 gra"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	var body struct {
		Status string       `json:"status"`
		Error  string       `json:"error"`
		Tasks  []queue.Task `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "error" || body.Error == "" {
		t.Fatalf("body = %+v", body)
	}
	// The line that resolved before the failure must still be reported.
	if len(body.Tasks) != 1 {
		t.Fatalf("partial tasks = %v", body.Tasks)
	}
}
