package integration

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// MockBackend stands in for the booking API. Each operation replays a
// scripted queue of answers, repeating the last one once the queue is
// drained, and records every request it receives.
type MockBackend struct {
	server *httptest.Server

	mu       sync.Mutex
	scripts  map[string][]reply
	served   map[string]int
	received map[string][]*RecordedRequest
}

// RecordedRequest is what the booking API saw for one call.
type RecordedRequest struct {
	Method      string
	Path        string
	PathValues  map[string]string
	QueryParams map[string]string
	Headers     http.Header
	Body        map[string]any
	RawBody     []byte
	Form        map[string][]string
	Files       map[string]RecordedFile
}

// RecordedFile is an uploaded multipart file.
type RecordedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BearerToken returns the token the request was authorized with.
func (r *RecordedRequest) BearerToken() string {
	return strings.TrimPrefix(r.Headers.Get("Authorization"), "Bearer ")
}

type reply struct {
	status  int
	body    any
	delay   time.Duration
	hangUp  bool
	compute func(*RecordedRequest) (int, any)
}

type operationRoute struct {
	method      string
	pathPattern string
}

// BookingAPIRoutes lists the booking API operations the shipped screen
// definitions call, keyed by operation ID.
func BookingAPIRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"listCategories":    {http.MethodGet, "/categories"},
		"createCategory":    {http.MethodPost, "/categories"},
		"updateCategory":    {http.MethodPut, "/categories/{id}"},
		"deleteCategory":    {http.MethodDelete, "/categories/{id}"},
		"listServices":      {http.MethodGet, "/services"},
		"createService":     {http.MethodPost, "/services"},
		"updateService":     {http.MethodPut, "/services/{id}"},
		"deleteService":     {http.MethodDelete, "/services/{id}"},
		"listUsers":         {http.MethodGet, "/users"},
		"createUser":        {http.MethodPost, "/users"},
		"updateUser":        {http.MethodPut, "/users/{id}"},
		"lockUser":          {http.MethodPut, "/users/{id}/lock"},
		"listBookings":      {http.MethodGet, "/bookings"},
		"listStaffBookings": {http.MethodGet, "/bookings/staff/{staffId}"},
		"changeStaff":       {http.MethodPut, "/bookings/{id}/change-staff"},
		"setBookingStatus":  {http.MethodPut, "/bookings/{id}/status"},
		"listSchedules":     {http.MethodGet, "/work-schedules"},
		"updateSchedule":    {http.MethodPut, "/work-schedules/{id}"},
	}
}

func newMockBackend(t *testing.T, routes map[string]operationRoute) *MockBackend {
	t.Helper()
	mb := &MockBackend{
		scripts:  map[string][]reply{},
		served:   map[string]int{},
		received: map[string][]*RecordedRequest{},
	}

	r := chi.NewRouter()
	for opID, route := range routes {
		r.Method(route.method, route.pathPattern, mb.serve(opID))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMockJSON(w, http.StatusNotFound, ErrorFixture("mock: no operation for "+r.Method+" "+r.URL.Path))
	})

	mb.server = httptest.NewServer(r)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL is the base URL the gateway should call.
func (mb *MockBackend) URL() string { return mb.server.URL }

// OperationMock scripts the answers of one operation.
type OperationMock struct {
	backend *MockBackend
	opID    string
}

func (mb *MockBackend) OnOperation(operationID string) *OperationMock {
	return &OperationMock{backend: mb, opID: operationID}
}

func (om *OperationMock) then(r reply) *OperationMock {
	om.backend.mu.Lock()
	om.backend.scripts[om.opID] = append(om.backend.scripts[om.opID], r)
	om.backend.mu.Unlock()
	return om
}

// RespondWith queues a JSON answer.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	return om.then(reply{status: status, body: body})
}

// RespondWithError queues an answer in the booking API's error shape.
func (om *OperationMock) RespondWithError(status int, message string) *OperationMock {
	return om.then(reply{status: status, body: ErrorFixture(message)})
}

// RespondWithDelay queues an answer sent after delay, or never if the
// caller gives up first.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	return om.then(reply{status: status, body: body, delay: delay})
}

// RespondWithConnectionError queues a dropped connection.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	return om.then(reply{hangUp: true})
}

// RespondWithFunc queues an answer computed from the request.
func (om *OperationMock) RespondWithFunc(fn func(*RecordedRequest) (int, any)) *OperationMock {
	return om.then(reply{compute: fn})
}

func (mb *MockBackend) serve(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := record(r)
		next, scripted := mb.advance(opID, rec)
		if !scripted {
			writeMockJSON(w, http.StatusOK, map[string]any{"message": "ok"})
			return
		}

		if next.hangUp {
			if conn, _, err := http.NewResponseController(w).Hijack(); err == nil {
				conn.Close()
			}
			return
		}
		if next.delay > 0 {
			select {
			case <-time.After(next.delay):
			case <-r.Context().Done():
				return
			}
		}

		status, body := next.status, next.body
		if next.compute != nil {
			status, body = next.compute(rec)
		}
		writeMockJSON(w, status, body)
	}
}

// advance records rec and pops the operation's next scripted reply.
func (mb *MockBackend) advance(opID string, rec *RecordedRequest) (reply, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.received[opID] = append(mb.received[opID], rec)

	script := mb.scripts[opID]
	if len(script) == 0 {
		return reply{}, false
	}
	i := min(mb.served[opID], len(script)-1)
	mb.served[opID]++
	return script[i], true
}

func writeMockJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func record(r *http.Request) *RecordedRequest {
	rec := &RecordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		PathValues:  map[string]string{},
		QueryParams: map[string]string{},
		Headers:     r.Header.Clone(),
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			rec.PathValues[key] = rctx.URLParams.Values[i]
		}
	}
	for key := range r.URL.Query() {
		rec.QueryParams[key] = r.URL.Query().Get(key)
	}

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		recordMultipart(r, rec)
		return rec
	}
	rec.RawBody, _ = io.ReadAll(r.Body)
	if len(rec.RawBody) > 0 {
		_ = json.Unmarshal(rec.RawBody, &rec.Body)
	}
	return rec
}

func recordMultipart(r *http.Request, rec *RecordedRequest) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return
	}
	rec.Form = r.MultipartForm.Value
	rec.Files = map[string]RecordedFile{}
	for field, parts := range r.MultipartForm.File {
		for _, fh := range parts {
			f, err := fh.Open()
			if err != nil {
				continue
			}
			data, _ := io.ReadAll(f)
			f.Close()
			rec.Files[field] = RecordedFile{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			}
		}
	}
}

// CallCount returns how many times the operation was called.
func (mb *MockBackend) CallCount(operationID string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.received[operationID])
}

func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, want int) {
	t.Helper()
	if got := mb.CallCount(operationID); got != want {
		t.Errorf("mock: operation %q called %d times, want %d", operationID, got, want)
	}
}

func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// LastRequest returns the latest request for the operation, or nil.
func (mb *MockBackend) LastRequest(operationID string) *RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	reqs := mb.received[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// ResetOperation forgets the operation's script and recorded requests.
func (mb *MockBackend) ResetOperation(operationID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.scripts, operationID)
	delete(mb.served, operationID)
	delete(mb.received, operationID)
}
