package integration

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"
)

// categoryStore is a tiny stateful booking API for category pagination.
type categoryStore struct {
	mu    sync.Mutex
	items []map[string]any
}

func newCategoryStore(n int) *categoryStore {
	s := &categoryStore{}
	for i := 1; i <= n; i++ {
		s.items = append(s.items, CategoryFixture(fmt.Sprintf("c%d", i), fmt.Sprintf("Category %d", i)))
	}
	return s
}

func (s *categoryStore) list(r *RecordedRequest) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, _ := strconv.Atoi(r.QueryParams["page"])
	limit, _ := strconv.Atoi(r.QueryParams["limit"])
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 5
	}
	total := (len(s.items) + limit - 1) / limit
	start := min((page-1)*limit, len(s.items))
	end := min(start+limit, len(s.items))
	return 200, ListFixture(slices.Clone(s.items[start:end]), total)
}

func (s *categoryStore) remove(r *RecordedRequest) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValues["id"]
	for i, item := range s.items {
		if item["_id"] == id {
			s.items = slices.Delete(s.items, i, i+1)
			return 200, map[string]any{"message": "Category deleted"}
		}
	}
	return 404, ErrorFixture("Category not found")
}

func (h *TestHarness) serveCategories(store *categoryStore) {
	h.Backend().OnOperation("listCategories").RespondWithFunc(store.list)
	h.Backend().OnOperation("deleteCategory").RespondWithFunc(store.remove)
}

func TestScreen_MountListsFirstPage(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(12))

	view := h.Mount(t, "categories", h.GenerateToken(AdminClaims()))

	if view.Screen == nil || view.Screen.ID != "categories" {
		t.Fatalf("screen descriptor = %+v, want categories", view.Screen)
	}
	if got := view.ItemIDs(); !slices.Equal(got, []string{"c1", "c2", "c3", "c4", "c5"}) {
		t.Errorf("items = %v, want c1..c5", got)
	}
	if view.State.TotalPages != 3 || view.State.Query.Page != 1 || view.State.Query.PageSize != 5 {
		t.Errorf("total_pages = %d, page = %d, page_size = %d; want 3, 1, 5",
			view.State.TotalPages, view.State.Query.Page, view.State.Query.PageSize)
	}
	if view.State.Loading || view.State.Error != nil {
		t.Errorf("loading = %v, error = %+v; want settled without error", view.State.Loading, view.State.Error)
	}

	req := h.Backend().LastRequest("listCategories")
	if req.QueryParams["page"] != "1" || req.QueryParams["limit"] != "5" {
		t.Errorf("list query = %v, want page=1 limit=5", req.QueryParams)
	}
	if _, ok := req.QueryParams["search"]; ok {
		t.Error("an empty search should not be sent")
	}
}

func TestScreen_MountIsIdempotentPerSession(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(3))
	token := h.GenerateToken(AdminClaims())

	h.Mount(t, "categories", token)
	h.Mount(t, "categories", token)
	h.Backend().AssertCalled(t, "listCategories", 1)

	// A new token is a new session with its own screen.
	h.Mount(t, "categories", h.GenerateToken(AdminClaims()))
	h.Backend().AssertCalled(t, "listCategories", 2)
}

func TestScreen_ActionsFollowCapabilities(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(1))

	admin := h.Mount(t, "categories", h.GenerateToken(AdminClaims()))
	if len(admin.Screen.Actions) != 3 {
		t.Errorf("admin actions = %d, want create, edit and delete", len(admin.Screen.Actions))
	}

	manager := h.Mount(t, "categories", h.GenerateToken(ManagerClaims()))
	if len(manager.Screen.Actions) != 0 {
		t.Errorf("manager actions = %+v, want none", manager.Screen.Actions)
	}
}

func TestScreen_Paging(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(12))
	token := h.GenerateToken(AdminClaims())
	h.Mount(t, "categories", token)

	var view ScreenView
	h.AssertJSON(t, h.PUT("/ui/screens/categories/page", map[string]int{"page": 3}, token), http.StatusOK, &view)
	if got := view.ItemIDs(); !slices.Equal(got, []string{"c11", "c12"}) {
		t.Errorf("page 3 items = %v, want c11, c12", got)
	}

	// Pages beyond the known range are clamped.
	h.AssertJSON(t, h.PUT("/ui/screens/categories/page", map[string]int{"page": 9}, token), http.StatusOK, &view)
	if view.State.Query.Page != 3 {
		t.Errorf("page = %d, want clamped to 3", view.State.Query.Page)
	}
	if got := h.Backend().LastRequest("listCategories").QueryParams["page"]; got != "3" {
		t.Errorf("requested page = %s, want 3", got)
	}
}

func TestScreen_SearchIsDebounced(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(12))
	token := h.GenerateToken(AdminClaims())
	h.Mount(t, "categories", token)
	h.PUT("/ui/screens/categories/page", map[string]int{"page": 2}, token).Body.Close()
	calls := h.Backend().CallCount("listCategories")

	for _, text := range []string{"h", "ha", "hair"} {
		var view ScreenView
		h.AssertJSON(t, h.PUT("/ui/screens/categories/search", map[string]string{"text": text}, token), http.StatusAccepted, &view)
		if !view.State.SearchPending {
			t.Errorf("search %q: search_pending = false, want true", text)
		}
	}

	Eventually(t, 3*time.Second, func() bool {
		return h.Backend().CallCount("listCategories") > calls
	}, "debounced search should reach the booking API")

	// Only the last keystroke is fetched.
	time.Sleep(time.Second)
	h.Backend().AssertCalled(t, "listCategories", calls+1)

	req := h.Backend().LastRequest("listCategories")
	if req.QueryParams["search"] != "hair" || req.QueryParams["page"] != "1" {
		t.Errorf("search query = %v, want search=hair page=1", req.QueryParams)
	}

	view := h.View(t, "categories", token)
	if view.State.SearchPending || view.State.Query.SearchText != "hair" {
		t.Errorf("search_pending = %v, search_text = %q; want settled on hair",
			view.State.SearchPending, view.State.Query.SearchText)
	}
}

func TestScreen_FilterResetsToFirstPage(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend().OnOperation("listBookings").RespondWith(200, ListFixture([]map[string]any{
		BookingFixture("b1", "pending", "staff-1"),
	}, 4))
	token := h.GenerateToken(ManagerClaims())
	h.Mount(t, "bookings", token)
	h.PUT("/ui/screens/bookings/page", map[string]int{"page": 2}, token).Body.Close()

	var view ScreenView
	h.AssertJSON(t, h.PUT("/ui/screens/bookings/filters/status", map[string]string{"value": "pending"}, token), http.StatusOK, &view)

	req := h.Backend().LastRequest("listBookings")
	if req.QueryParams["status"] != "pending" || req.QueryParams["page"] != "1" {
		t.Errorf("list query = %v, want status=pending page=1", req.QueryParams)
	}
	if view.State.Query.Filters["status"] != "pending" || view.State.Query.Page != 1 {
		t.Errorf("query = %+v, want status filter on page 1", view.State.Query)
	}

	// Clearing the filter drops the parameter.
	h.AssertJSON(t, h.PUT("/ui/screens/bookings/filters/status", map[string]string{"value": ""}, token), http.StatusOK, &view)
	if _, ok := h.Backend().LastRequest("listBookings").QueryParams["status"]; ok {
		t.Error("a cleared filter should not be sent")
	}

	h.AssertError(t, h.PUT("/ui/screens/bookings/filters/colour", map[string]string{"value": "red"}, token),
		http.StatusBadRequest, "BAD_REQUEST")
}

func TestScreen_DeleteLastRowStepsBackAPage(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(6))
	token := h.GenerateToken(AdminClaims())
	h.Mount(t, "categories", token)

	var view ScreenView
	h.AssertJSON(t, h.PUT("/ui/screens/categories/page", map[string]int{"page": 2}, token), http.StatusOK, &view)
	if got := view.ItemIDs(); !slices.Equal(got, []string{"c6"}) {
		t.Fatalf("page 2 items = %v, want c6", got)
	}

	h.AssertJSON(t, h.DELETE("/ui/screens/categories/items/c6", token), http.StatusOK, &view)

	if view.State.Query.Page != 1 || view.State.TotalPages != 1 {
		t.Errorf("page = %d, total_pages = %d; want 1, 1", view.State.Query.Page, view.State.TotalPages)
	}
	if got := view.ItemIDs(); !slices.Equal(got, []string{"c1", "c2", "c3", "c4", "c5"}) {
		t.Errorf("items = %v, want c1..c5", got)
	}
	if len(view.Notifications) != 1 || view.Notifications[0].Message != "Category deleted" {
		t.Errorf("notifications = %+v, want Category deleted", view.Notifications)
	}
	if got := h.Backend().LastRequest("listCategories").QueryParams["page"]; got != "1" {
		t.Errorf("refetched page = %s, want 1", got)
	}
}

func TestScreen_DeleteMissingRecordResyncs(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(3))
	token := h.GenerateToken(AdminClaims())
	h.Mount(t, "categories", token)
	calls := h.Backend().CallCount("listCategories")

	h.AssertError(t, h.DELETE("/ui/screens/categories/items/gone", token), http.StatusNotFound, "NOT_FOUND")

	if got := h.Backend().CallCount("listCategories"); got != calls+1 {
		t.Errorf("list calls = %d, want a refetch after NOT_FOUND", got-calls)
	}
	view := h.View(t, "categories", token)
	if len(view.Notifications) != 1 || view.Notifications[0].Code != "NOT_FOUND" {
		t.Errorf("notifications = %+v, want one NOT_FOUND error", view.Notifications)
	}
}

func TestScreen_UnmountClosesScreen(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(3))
	token := h.GenerateToken(AdminClaims())
	h.Mount(t, "categories", token)

	h.AssertStatus(t, h.DELETE("/ui/screens/categories", token), http.StatusNoContent)
	h.AssertError(t, h.GET("/ui/screens/categories", token), http.StatusNotFound, "NOT_FOUND")
	if n := h.Screens.Count(); n != 0 {
		t.Errorf("mounted screens = %d, want 0", n)
	}
}

func TestScreen_UnknownScreen(t *testing.T) {
	h := NewTestHarness(t)
	h.AssertError(t, h.POST("/ui/screens/invoices", nil, h.GenerateToken(AdminClaims())), http.StatusNotFound, "NOT_FOUND")
}
