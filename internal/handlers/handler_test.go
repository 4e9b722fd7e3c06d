package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Daneel-Li/feedback-back/internal/dao"
	"github.com/Daneel-Li/feedback-back/internal/models"
	"github.com/Daneel-Li/feedback-back/internal/services"
	"github.com/Daneel-Li/feedback-back/internal/types"
	"github.com/Daneel-Li/feedback-back/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey   = "test-app-key"
	testAdminKey = "test-admin-key"
)

// MockFeedbackService mock service
type MockFeedbackService struct {
	mock.Mock
}

func (m *MockFeedbackService) Submit(ctx context.Context, draft *models.Feedback) (*models.Feedback, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Feedback), args.Error(1)
}

func (m *MockFeedbackService) SetStatus(ctx context.Context, id string, status types.FeedbackStatus) (*models.Feedback, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Feedback), args.Error(1)
}

func (m *MockFeedbackService) UpdateResponse(ctx context.Context, id string, response string) (*models.Feedback, error) {
	args := m.Called(ctx, id, response)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Feedback), args.Error(1)
}

func (m *MockFeedbackService) Update(ctx context.Context, id string, patch services.FeedbackPatch) (*models.Feedback, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Feedback), args.Error(1)
}

func (m *MockFeedbackService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockFeedbackService) DeleteByEntry(ctx context.Context, entryID uint) (int64, error) {
	args := m.Called(ctx, entryID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFeedbackService) Get(ctx context.Context, id string) (*models.Feedback, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Feedback), args.Error(1)
}

func (m *MockFeedbackService) ListApprovedByEntry(ctx context.Context, entryID uint) (*services.EntryFeedback, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.EntryFeedback), args.Error(1)
}

func (m *MockFeedbackService) Query(ctx context.Context, filter dao.FeedbackFilter) (*services.FeedbackPage, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.FeedbackPage), args.Error(1)
}

func (m *MockFeedbackService) Sources(ctx context.Context) ([]services.Source, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.Source), args.Error(1)
}

func (m *MockFeedbackService) CreateEntry(ctx context.Context, entry *models.Entry) (*models.Entry, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Entry), args.Error(1)
}

type testEnv struct {
	router  *mux.Router
	svc     *MockFeedbackService
	jwt     services.JWTService
	limiter *services.IPRateLimiter
}

func newTestEnv() *testEnv {
	svc := &MockFeedbackService{}
	jwt := services.NewJWTService([]byte("secret"), "feedback-back")
	limiter := services.NewIPRateLimiter(1, 2)
	proxies, _ := utils.ParseTrustedProxies([]string{"10.0.0.254"})
	h := NewFeedbackHandler(svc, services.NewWsManager(jwt, 0), jwt, HandlerConfig{
		APIKey:         testAPIKey,
		AdminKey:       testAdminKey,
		CpBaseURL:      "https://cp.example.com/admin",
		TrustedProxies: proxies,
	})
	r := mux.NewRouter()
	h.RegisterRoutes(r, limiter)
	return &testEnv{router: r, svc: svc, jwt: jwt, limiter: limiter}
}

func (e *testEnv) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) adminHeaders(t *testing.T) map[string]string {
	t.Helper()
	token, err := e.jwt.GenerateToken("bob")
	require.NoError(t, err)
	return map[string]string{"appKey": testAPIKey, "Authorization": "Bearer " + token}
}

func sampleFeedback() *models.Feedback {
	rating := 5
	return &models.Feedback{
		ID:             "fb-1",
		EntryID:        7,
		Name:           "Alice",
		Email:          "alice@example.com",
		Rating:         &rating,
		Comment:        "Lovely",
		FeedbackType:   types.TYPE_REVIEW,
		FeedbackStatus: types.STATUS_PENDING,
		FeedbackOrigin: types.ORIGIN_FRONTEND,
		Entry:          &models.Entry{ID: 7, Title: "Lemon Cake"},
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestSubmitFrontend(t *testing.T) {
	env := newTestEnv()

	t.Run("Accepted", func(t *testing.T) {
		env.svc.On("Submit", mock.Anything, mock.MatchedBy(func(f *models.Feedback) bool {
			return f.EntryID == 7 && f.FeedbackOrigin == types.ORIGIN_FRONTEND &&
				f.IPAddress == "10.0.0.1" && f.Response == ""
		})).Return(sampleFeedback(), nil).Once()

		w := env.do("POST", "/api/v1/entries/7/feedback", map[string]interface{}{
			"name": "Alice", "email": "alice@example.com", "rating": 5,
			"comment": "Lovely", "feedbackType": "review",
		}, nil)

		assert.Equal(t, http.StatusCreated, w.Code)
		body := decode(t, w)
		assert.Equal(t, "fb-1", body["id"])
		assert.Equal(t, "pending", body["status"])
		assert.NotContains(t, body, "ipAddress")
	})

	t.Run("ValidationError", func(t *testing.T) {
		env.svc.On("Submit", mock.Anything, mock.Anything).Return(nil, &services.ValidationError{
			Fields: []services.FieldError{{Field: "comment", Message: "Your comment cannot contain urls or links."}},
		}).Once()

		w := env.do("POST", "/api/v1/entries/7/feedback", map[string]interface{}{"name": "x"}, map[string]string{
			"X-Forwarded-For": "10.9.9.9",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Your comment cannot contain urls or links.")
	})

	t.Run("InvalidBody", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/entries/7/feedback", bytes.NewBufferString("{bad"))
		req.RemoteAddr = "10.1.1.1:1"
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	env.svc.AssertExpectations(t)
}

func TestSubmitFrontendRateLimited(t *testing.T) {
	env := newTestEnv()
	env.svc.On("Submit", mock.Anything, mock.Anything).Return(sampleFeedback(), nil)

	body := map[string]interface{}{"name": "Alice"}
	assert.Equal(t, http.StatusCreated, env.do("POST", "/api/v1/entries/7/feedback", body, nil).Code)
	assert.Equal(t, http.StatusCreated, env.do("POST", "/api/v1/entries/7/feedback", body, nil).Code)
	w := env.do("POST", "/api/v1/entries/7/feedback", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestSubmitFrontendForwardedHeaders(t *testing.T) {
	env := newTestEnv()
	body := map[string]interface{}{"name": "Alice"}

	t.Run("SpoofedHeaderIgnored", func(t *testing.T) {
		env.svc.On("Submit", mock.Anything, mock.MatchedBy(func(f *models.Feedback) bool {
			return f.IPAddress == "10.0.0.1"
		})).Return(sampleFeedback(), nil).Twice()

		accepted := 0
		for i := 0; i < 20; i++ {
			w := env.do("POST", "/api/v1/entries/7/feedback", body, map[string]string{
				"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i),
				"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i),
			})
			if w.Code == http.StatusCreated {
				accepted++
			}
		}
		assert.Equal(t, 2, accepted)
	})

	t.Run("TrustedProxy", func(t *testing.T) {
		env.svc.On("Submit", mock.Anything, mock.MatchedBy(func(f *models.Feedback) bool {
			return f.IPAddress == "203.0.113.50"
		})).Return(sampleFeedback(), nil).Once()

		req := httptest.NewRequest("POST", "/api/v1/entries/7/feedback", jsonBody(body))
		req.RemoteAddr = "10.0.0.254:443"
		req.Header.Set("X-Forwarded-For", "203.0.113.50")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	env.svc.AssertExpectations(t)
}

func jsonBody(v interface{}) *bytes.Buffer {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(v)
	return &buf
}

func TestSubmitAPIRequiresKey(t *testing.T) {
	env := newTestEnv()
	payload := map[string]interface{}{"entryId": 7, "name": "Importer", "feedbackType": "question"}

	w := env.do("POST", "/api/v1/feedback", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env.svc.On("Submit", mock.Anything, mock.MatchedBy(func(f *models.Feedback) bool {
		return f.FeedbackOrigin == types.ORIGIN_API && f.EntryID == 7
	})).Return(sampleFeedback(), nil).Once()
	w = env.do("POST", "/api/v1/feedback", payload, map[string]string{"appKey": testAPIKey})
	assert.Equal(t, http.StatusCreated, w.Code)
	env.svc.AssertExpectations(t)
}

func TestGetEntryFeedback(t *testing.T) {
	env := newTestEnv()
	f := sampleFeedback()
	f.FeedbackStatus = types.STATUS_APPROVED
	env.svc.On("ListApprovedByEntry", mock.Anything, uint(7)).Return(&services.EntryFeedback{
		Entry:    &models.Entry{ID: 7, Title: "Lemon Cake"},
		Rating:   &models.AggregateRating{Average: 5, Count: 1},
		Feedback: []*models.Feedback{f},
	}, nil)
	env.svc.On("ListApprovedByEntry", mock.Anything, uint(8)).Return(nil, fmt.Errorf("load entry failed: %w", dao.ErrNotFound))

	w := env.do("GET", "/api/v1/entries/7/feedback", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Lemon Cake", body["title"])
	assert.Equal(t, float64(1), body["rating"].(map[string]interface{})["count"])
	item := body["feedback"].([]interface{})[0].(map[string]interface{})
	assert.NotContains(t, item, "email")

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/v1/entries/8/feedback", nil, nil).Code)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv()

	w := env.do("GET", "/api/v1/admin/feedback", nil, map[string]string{"appKey": testAPIKey})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing jwt")

	w = env.do("GET", "/api/v1/admin/feedback", nil, map[string]string{"appKey": testAPIKey, "Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "bad jwt")

	headers := env.adminHeaders(t)
	delete(headers, "appKey")
	w = env.do("GET", "/api/v1/admin/feedback", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing appKey")
}

func TestIssueToken(t *testing.T) {
	env := newTestEnv()
	w := env.do("POST", "/api/v1/admin/token", map[string]string{"moderator": "bob"}, map[string]string{"appKey": testAPIKey})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "api key cannot mint moderator tokens")

	w = env.do("POST", "/api/v1/admin/token", map[string]string{"moderator": "bob"}, map[string]string{"adminKey": testAPIKey})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do("POST", "/api/v1/admin/token", map[string]string{"moderator": "bob"}, map[string]string{"adminKey": testAdminKey})
	require.Equal(t, http.StatusOK, w.Code)

	moderator, err := env.jwt.ValidateToken(decode(t, w)["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "bob", moderator)

	w = env.do("POST", "/api/v1/admin/token", map[string]string{}, map[string]string{"adminKey": testAdminKey})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryFeedback(t *testing.T) {
	env := newTestEnv()
	rating := 4
	expected := dao.FeedbackFilter{
		Status:    types.STATUS_PENDING,
		Type:      types.TYPE_REVIEW,
		Rating:    &rating,
		EntryID:   7,
		Search:    "lemon",
		OrderBy:   "rating",
		Dir:       "desc",
		Limit:     10,
		Offset:    20,
		WithEntry: true,
	}
	env.svc.On("Query", mock.Anything, expected).Return(&services.FeedbackPage{
		Items: []*models.Feedback{sampleFeedback()}, Total: 21, Limit: 10, Offset: 20,
	}, nil)

	w := env.do("GET", "/api/v1/admin/feedback?status=pending&type=review&rating=4&entryId=7&search=lemon&orderBy=rating&dir=desc&limit=10&offset=20",
		nil, env.adminHeaders(t))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(21), body["total"])
	item := body["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "https://cp.example.com/admin/feedback/7/fb-1", item["cpEditUrl"])
	assert.Equal(t, "Lemon Cake", item["entryTitle"])
	assert.Equal(t, false, item["hasResponse"])
	assert.Equal(t, "yellow", item["status"].(map[string]interface{})["color"])

	w = env.do("GET", "/api/v1/admin/feedback?rating=abc", nil, env.adminHeaders(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSources(t *testing.T) {
	env := newTestEnv()
	two := int64(2)
	env.svc.On("Sources", mock.Anything).Return([]services.Source{
		{Key: "*", Label: "All feedback"},
		{Key: "allPending", Label: "All pending", BadgeCount: &two},
	}, nil)

	w := env.do("GET", "/api/v1/admin/feedback/sources", nil, env.adminHeaders(t))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	sources := body["sources"].([]interface{})
	assert.NotContains(t, sources[0].(map[string]interface{}), "badgeCount")
	assert.Equal(t, float64(2), sources[1].(map[string]interface{})["badgeCount"])
	assert.Len(t, body["statuses"], 3)
}

func TestModerationActions(t *testing.T) {
	env := newTestEnv()
	headers := env.adminHeaders(t)

	t.Run("SetStatus", func(t *testing.T) {
		approved := sampleFeedback()
		approved.FeedbackStatus = types.STATUS_APPROVED
		env.svc.On("SetStatus", mock.Anything, "fb-1", types.STATUS_APPROVED).Return(approved, nil).Once()
		w := env.do("PUT", "/api/v1/admin/feedback/fb-1/status", map[string]string{"status": "approved"}, headers)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "green", decode(t, w)["status"].(map[string]interface{})["color"])
	})

	t.Run("SetInvalidStatus", func(t *testing.T) {
		env.svc.On("SetStatus", mock.Anything, "fb-1", types.FeedbackStatus("archived")).
			Return(nil, fmt.Errorf("%w: archived", services.ErrInvalidStatus)).Once()
		w := env.do("PUT", "/api/v1/admin/feedback/fb-1/status", map[string]string{"status": "archived"}, headers)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("UpdateResponse", func(t *testing.T) {
		responded := sampleFeedback()
		responded.Response = "Thanks"
		env.svc.On("UpdateResponse", mock.Anything, "fb-1", "Thanks").Return(responded, nil).Once()
		w := env.do("PUT", "/api/v1/admin/feedback/fb-1/response", map[string]string{"response": "Thanks"}, headers)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["hasResponse"])
	})

	t.Run("Update", func(t *testing.T) {
		name := "Alice B."
		env.svc.On("Update", mock.Anything, "fb-1", services.FeedbackPatch{Name: &name}).Return(sampleFeedback(), nil).Once()
		w := env.do("PUT", "/api/v1/admin/feedback/fb-1", map[string]string{"name": name}, headers)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("UnknownField", func(t *testing.T) {
		w := env.do("PUT", "/api/v1/admin/feedback/fb-1", map[string]string{"feedbackStatus": "approved"}, headers)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		env.svc.On("Get", mock.Anything, "missing").Return(nil, fmt.Errorf("load feedback failed: %w", dao.ErrNotFound)).Once()
		w := env.do("GET", "/api/v1/admin/feedback/missing", nil, headers)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		env.svc.On("Delete", mock.Anything, "fb-1").Return(nil).Once()
		w := env.do("DELETE", "/api/v1/admin/feedback/fb-1", nil, headers)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("DeleteByEntry", func(t *testing.T) {
		env.svc.On("DeleteByEntry", mock.Anything, uint(7)).Return(int64(3), nil).Once()
		w := env.do("DELETE", "/api/v1/admin/entries/7/feedback", nil, headers)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(3), decode(t, w)["deleted"])
	})

	t.Run("ImportEntry", func(t *testing.T) {
		env.svc.On("CreateEntry", mock.Anything, &models.Entry{Title: "Scones", URL: "https://example.com/scones"}).
			Return(&models.Entry{ID: 9, Title: "Scones"}, nil).Once()
		w := env.do("POST", "/api/v1/admin/entries", map[string]string{"title": "Scones", "url": "https://example.com/scones"}, headers)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, float64(9), decode(t, w)["id"])
	})

	t.Run("InternalError", func(t *testing.T) {
		env.svc.On("Delete", mock.Anything, "fb-2").Return(errors.New("connection reset")).Once()
		w := env.do("DELETE", "/api/v1/admin/feedback/fb-2", nil, headers)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
	})

	env.svc.AssertExpectations(t)
}

func TestWithMidWareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(h http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				h(w, r)
			}
		}
	}
	h := WithMidWare(func(w http.ResponseWriter, r *http.Request) { order = append(order, "final") }, mw("inner"), mw("outer"))
	h(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"outer", "inner", "final"}, order)
}
