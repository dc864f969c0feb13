package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/shiva/ambutrack/internal/feed"
	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/scheduler"
	"github.com/shiva/ambutrack/internal/service"
	"github.com/shiva/ambutrack/internal/store"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	st := store.New()
	fd := feed.New(st, feed.NewMemoryBroker())
	sched := scheduler.New(st, fd, time.Hour) // ticks never fire during tests
	t.Cleanup(sched.Close)

	dispatch := service.NewDispatchService(st, sched, fd, nil, service.Config{})
	h := NewRequestHandler(dispatch, fd)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/requests", h.Create).Methods("POST")
	api.HandleFunc("/requests", h.List).Methods("GET")
	api.HandleFunc("/requests/{id}", h.Get).Methods("GET")
	api.HandleFunc("/requests/{id}/advance", h.Advance).Methods("POST")
	api.HandleFunc("/requests/{id}/arrive", h.Arrive).Methods("POST")
	api.HandleFunc("/requests/{id}/complete", h.Complete).Methods("POST")
	api.HandleFunc("/requests/{id}/cancel", h.Cancel).Methods("POST")
	return r
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, decoded
}

func createRequest(t *testing.T, r *mux.Router) string {
	t.Helper()
	rec, body := doJSON(t, r, "POST", "/api/v1/requests", CreateRequestBody{
		RequesterID: "p1",
		Location:    "Area 3, Block C",
		Contact:     "099-111-2233",
		Details:     "chest pain",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got status %d, want 201: %s", rec.Code, rec.Body.String())
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create: response has no id: %s", rec.Body.String())
	}
	return id
}

func TestCreateRequest(t *testing.T) {
	r := newTestRouter(t)

	rec, body := doJSON(t, r, "POST", "/api/v1/requests", CreateRequestBody{
		RequesterID: "p1",
		Location:    "Area 3, Block C",
		Contact:     "099-111-2233",
		Details:     "chest pain",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if got := body["status"]; got != string(model.StatusDispatched) {
		t.Errorf("status = %v, want %q", got, model.StatusDispatched)
	}
	if got := body["priority"]; got != string(model.PriorityMedium) {
		t.Errorf("priority = %v, want %q", got, model.PriorityMedium)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	r := newTestRouter(t)

	rec, body := doJSON(t, r, "POST", "/api/v1/requests", CreateRequestBody{
		Location: "Area 3",
		Contact:  "099-111-2233",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if body["error"] != "invalid_input" {
		t.Errorf("error = %v, want invalid_input", body["error"])
	}
}

func TestGetUnknownRequest(t *testing.T) {
	r := newTestRouter(t)

	rec, body := doJSON(t, r, "GET", "/api/v1/requests/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
	if body["error"] != "not_found" {
		t.Errorf("error = %v, want not_found", body["error"])
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	id := createRequest(t, r)

	rec, body := doJSON(t, r, "POST", "/api/v1/requests/"+id+"/advance", AdvanceBody{EtaMinutes: 15})
	if rec.Code != http.StatusOK {
		t.Fatalf("advance: got status %d: %s", rec.Code, rec.Body.String())
	}
	if body["status"] != string(model.StatusEnRoute) {
		t.Errorf("status after advance = %v, want en_route", body["status"])
	}
	if body["eta_minutes"] != float64(15) {
		t.Errorf("eta_minutes = %v, want 15", body["eta_minutes"])
	}

	rec, body = doJSON(t, r, "POST", "/api/v1/requests/"+id+"/arrive", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("arrive: got status %d: %s", rec.Code, rec.Body.String())
	}
	if body["status"] != string(model.StatusArrived) {
		t.Errorf("status after arrive = %v, want arrived", body["status"])
	}
	if body["eta_minutes"] != float64(0) {
		t.Errorf("eta_minutes after arrive = %v, want 0", body["eta_minutes"])
	}

	rec, body = doJSON(t, r, "POST", "/api/v1/requests/"+id+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: got status %d: %s", rec.Code, rec.Body.String())
	}
	if body["status"] != string(model.StatusCompleted) {
		t.Errorf("status after complete = %v, want completed", body["status"])
	}
}

func TestIllegalTransitionOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	id := createRequest(t, r)

	// complete straight from dispatched is rejected
	rec, body := doJSON(t, r, "POST", "/api/v1/requests/"+id+"/complete", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("got status %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if body["error"] != "invalid_transition" {
		t.Errorf("error = %v, want invalid_transition", body["error"])
	}

	// the request is untouched
	rec, body = doJSON(t, r, "GET", "/api/v1/requests/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got status %d", rec.Code)
	}
	if body["status"] != string(model.StatusDispatched) {
		t.Errorf("status = %v, want dispatched after rejected transition", body["status"])
	}
}

func TestCancelOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	id := createRequest(t, r)

	rec, body := doJSON(t, r, "POST", "/api/v1/requests/"+id+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: got status %d: %s", rec.Code, rec.Body.String())
	}
	if body["status"] != string(model.StatusCompleted) {
		t.Errorf("status = %v, want completed", body["status"])
	}
	if body["cancelled"] != true {
		t.Errorf("cancelled = %v, want true", body["cancelled"])
	}

	// cancelling again is rejected
	rec, _ = doJSON(t, r, "POST", "/api/v1/requests/"+id+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel: got status %d, want 409", rec.Code)
	}
}

func TestVersionConflictOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	id := createRequest(t, r)

	// stale version loses
	rec, body := doJSON(t, r, "POST", "/api/v1/requests/"+id+"/advance", AdvanceBody{EtaMinutes: 10, Version: 99})
	if rec.Code != http.StatusConflict {
		t.Fatalf("got status %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if body["error"] != "conflict" {
		t.Errorf("error = %v, want conflict", body["error"])
	}

	// the right version wins
	rec, _ = doJSON(t, r, "POST", "/api/v1/requests/"+id+"/advance", AdvanceBody{EtaMinutes: 10, Version: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestListRequests(t *testing.T) {
	r := newTestRouter(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, body := doJSON(t, r, "POST", "/api/v1/requests", CreateRequestBody{
			RequesterID: fmt.Sprintf("p%d", i),
			Location:    "Area 3",
			Contact:     "099-111-2233",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: status %d", i, rec.Code)
		}
		ids = append(ids, body["id"].(string))
	}

	// complete one; it drops out of the active view
	doJSON(t, r, "POST", "/api/v1/requests/"+ids[0]+"/cancel", nil)

	rec, _ := doJSON(t, r, "GET", "/api/v1/requests", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got status %d", rec.Code)
	}
	var list []model.EmergencyRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("active list has %d entries, want 2", len(list))
	}

	rec, _ = doJSON(t, r, "GET", "/api/v1/requests?requester_id=p1", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode filtered list: %v", err)
	}
	if len(list) != 1 || list[0].RequesterID != "p1" {
		t.Fatalf("filtered list = %+v, want only p1's request", list)
	}

	rec, _ = doJSON(t, r, "GET", "/api/v1/requests?include_completed=true", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode full list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("full list has %d entries, want 3", len(list))
	}
}
