package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/dao"
	"github.com/Daneel-Li/feedback-back/internal/models"
	"github.com/Daneel-Li/feedback-back/internal/services"
	"github.com/Daneel-Li/feedback-back/internal/types"
	"github.com/Daneel-Li/feedback-back/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// FeedbackServicer 处理器依赖的业务接口
type FeedbackServicer interface {
	Submit(ctx context.Context, draft *models.Feedback) (*models.Feedback, error)
	SetStatus(ctx context.Context, id string, status types.FeedbackStatus) (*models.Feedback, error)
	UpdateResponse(ctx context.Context, id string, response string) (*models.Feedback, error)
	Update(ctx context.Context, id string, patch services.FeedbackPatch) (*models.Feedback, error)
	Delete(ctx context.Context, id string) error
	DeleteByEntry(ctx context.Context, entryID uint) (int64, error)
	Get(ctx context.Context, id string) (*models.Feedback, error)
	ListApprovedByEntry(ctx context.Context, entryID uint) (*services.EntryFeedback, error)
	Query(ctx context.Context, filter dao.FeedbackFilter) (*services.FeedbackPage, error)
	Sources(ctx context.Context) ([]services.Source, error)
	CreateEntry(ctx context.Context, entry *models.Entry) (*models.Entry, error)
}

var _ FeedbackServicer = (*services.FeedbackService)(nil)

// HandlerConfig APIKey 给外部导入，AdminKey 只用于签发审核员令牌
type HandlerConfig struct {
	APIKey         string
	AdminKey       string
	CpBaseURL      string
	TrustedProxies utils.TrustedProxies
}

type FeedbackHandler struct {
	services     FeedbackServicer
	wsManager    *services.WSManager
	jwtGenerator services.JWTService
	apiKey       string
	adminKey     string
	cpBaseURL    string
	proxies      utils.TrustedProxies
}

func NewFeedbackHandler(services FeedbackServicer, wsManager *services.WSManager,
	jwtGenerator services.JWTService, cfg HandlerConfig) *FeedbackHandler {
	return &FeedbackHandler{
		services:     services,
		wsManager:    wsManager,
		jwtGenerator: jwtGenerator,
		apiKey:       cfg.APIKey,
		adminKey:     cfg.AdminKey,
		cpBaseURL:    cfg.CpBaseURL,
		proxies:      cfg.TrustedProxies,
	}
}

// feedbackView 后台展示用的派生字段
type feedbackView struct {
	*models.Feedback
	HasResponse bool               `json:"hasResponse"`
	EntryTitle  string             `json:"entryTitle,omitempty"`
	CpEditURL   string             `json:"cpEditUrl"`
	Status      types.StatusOption `json:"status"`
}

func (h *FeedbackHandler) view(f *models.Feedback) feedbackView {
	return feedbackView{
		Feedback:    f,
		HasResponse: f.HasResponse(),
		EntryTitle:  f.EntryTitle(),
		CpEditURL:   f.CpEditURL(h.cpBaseURL),
		Status:      f.FeedbackStatus.Option(),
	}
}

func (h *FeedbackHandler) views(lst []*models.Feedback) []feedbackView {
	out := make([]feedbackView, 0, len(lst))
	for _, f := range lst {
		out = append(out, h.view(f))
	}
	return out
}

type submitRequest struct {
	EntryID      uint               `json:"entryId"`
	Name         string             `json:"name"`
	Email        string             `json:"email"`
	Rating       *int               `json:"rating"`
	Comment      string             `json:"comment"`
	Response     string             `json:"response"`
	FeedbackType types.FeedbackType `json:"feedbackType"`
}

func (req submitRequest) toFeedback(r *http.Request, origin types.FeedbackOrigin, proxies utils.TrustedProxies) *models.Feedback {
	return &models.Feedback{
		EntryID:        req.EntryID,
		Name:           req.Name,
		Email:          req.Email,
		Rating:         req.Rating,
		Comment:        req.Comment,
		Response:       req.Response,
		FeedbackType:   req.FeedbackType,
		FeedbackOrigin: origin,
		IPAddress:      utils.ClientIP(r, proxies),
		UserAgent:      r.UserAgent(),
	}
}

// SubmitFrontend 前台访客提交，条目取路径参数
func (h *FeedbackHandler) SubmitFrontend(w http.ResponseWriter, r *http.Request) {
	entryID, err := utils.ParseUint(mux.Vars(r)["entry_id"])
	if err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req submitRequest
	if err := utils.DecodeRequestBody(r, &req); err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.EntryID = entryID
	req.Response = ""
	h.submit(w, r, req.toFeedback(r, types.ORIGIN_FRONTEND, h.proxies), false)
}

// SubmitAPI 第三方导入
func (h *FeedbackHandler) SubmitAPI(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := utils.DecodeRequestBody(r, &req); err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Response = ""
	h.submit(w, r, req.toFeedback(r, types.ORIGIN_API, h.proxies), false)
}

// SubmitControlPanel 审核员在后台录入
func (h *FeedbackHandler) SubmitControlPanel(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := utils.DecodeRequestBody(r, &req); err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.submit(w, r, req.toFeedback(r, types.ORIGIN_CONTROL_PANEL, h.proxies), true)
}

func (h *FeedbackHandler) submit(w http.ResponseWriter, r *http.Request, draft *models.Feedback, admin bool) {
	item, err := h.services.Submit(r.Context(), draft)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if admin {
		utils.WriteHttpResponse(w, http.StatusCreated, h.view(item))
		return
	}
	// 前台只返回回执，不回显 IP 等信息
	utils.WriteHttpResponse(w, http.StatusCreated, map[string]interface{}{
		"id":      item.ID,
		"status":  item.FeedbackStatus,
		"message": "Thanks, your feedback is awaiting moderation.",
	})
}

// GetEntryFeedback 前台展示已审核反馈和评分
func (h *FeedbackHandler) GetEntryFeedback(w http.ResponseWriter, r *http.Request) {
	entryID, err := utils.ParseUint(mux.Vars(r)["entry_id"])
	if err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.services.ListApprovedByEntry(r.Context(), entryID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	type publicFeedback struct {
		ID          string             `json:"id"`
		Name        string             `json:"name"`
		Rating      *int               `json:"rating,omitempty"`
		Comment     string             `json:"comment"`
		Response    string             `json:"response,omitempty"`
		Type        types.FeedbackType `json:"feedbackType"`
		DateCreated time.Time          `json:"dateCreated"`
	}
	lst := make([]publicFeedback, 0, len(res.Feedback))
	for _, f := range res.Feedback {
		lst = append(lst, publicFeedback{
			ID:          f.ID,
			Name:        f.Name,
			Rating:      f.Rating,
			Comment:     f.Comment,
			Response:    f.Response,
			Type:        f.FeedbackType,
			DateCreated: f.CreatedAt,
		})
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]interface{}{
		"entryId":  res.Entry.ID,
		"title":    res.Entry.Title,
		"rating":   res.Rating,
		"feedback": lst,
	})
}

// IssueToken 签发审核员令牌
func (h *FeedbackHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Moderator string `json:"moderator"`
	}
	if err := utils.DecodeRequestBody(r, &req); err != nil || req.Moderator == "" {
		utils.WriteHttpError(w, http.StatusBadRequest, "moderator is required")
		return
	}
	token, err := h.jwtGenerator.GenerateToken(req.Moderator)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]string{"token": token})
}

// QueryFeedback 后台列表
func (h *FeedbackHandler) QueryFeedback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := dao.FeedbackFilter{
		Status:    types.FeedbackStatus(q.Get("status")),
		Type:      types.FeedbackType(q.Get("type")),
		Origin:    types.FeedbackOrigin(q.Get("origin")),
		Search:    q.Get("search"),
		OrderBy:   q.Get("orderBy"),
		Dir:       q.Get("dir"),
		Limit:     utils.ParseIntWithDefault(q.Get("limit"), 0),
		Offset:    utils.ParseIntWithDefault(q.Get("offset"), 0),
		WithEntry: q.Get("withEntry") != "false",
	}
	if v := q.Get("rating"); v != "" {
		rating, err := strconv.Atoi(v)
		if err != nil {
			utils.WriteHttpError(w, http.StatusBadRequest, "invalid rating")
			return
		}
		filter.Rating = &rating
	}
	if v := q.Get("entryId"); v != "" {
		entryID, err := utils.ParseUint(v)
		if err != nil {
			utils.WriteHttpError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.EntryID = entryID
	}

	page, err := h.services.Query(r.Context(), filter)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]interface{}{
		"items":  h.views(page.Items),
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// GetSources 数据源和状态选项
func (h *FeedbackHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.services.Sources(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	statuses := make([]types.StatusOption, 0, len(types.Statuses))
	for _, s := range types.Statuses {
		statuses = append(statuses, s.Option())
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]interface{}{
		"sources":  sources,
		"statuses": statuses,
	})
}

func (h *FeedbackHandler) GetFeedback(w http.ResponseWriter, r *http.Request) {
	item, err := h.services.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, h.view(item))
}

func (h *FeedbackHandler) UpdateFeedback(w http.ResponseWriter, r *http.Request) {
	var patch services.FeedbackPatch
	if err := utils.DecodeRequestBody(r, &patch); err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	item, err := h.services.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		h.handleError(w, err)
		return
	}
	slog.Info("feedback edited", "id", item.ID, "moderator", moderatorFromContext(r.Context()))
	utils.WriteHttpResponse(w, http.StatusOK, h.view(item))
}

func (h *FeedbackHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status types.FeedbackStatus `json:"status"`
	}
	if err := utils.DecodeRequestBody(r, &req); err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	item, err := h.services.SetStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		h.handleError(w, err)
		return
	}
	slog.Info("feedback moderated", "id", item.ID, "status", item.FeedbackStatus,
		"moderator", moderatorFromContext(r.Context()))
	utils.WriteHttpResponse(w, http.StatusOK, h.view(item))
}

func (h *FeedbackHandler) UpdateResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Response string `json:"response"`
	}
	if err := utils.DecodeRequestBody(r, &req); err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	item, err := h.services.UpdateResponse(r.Context(), mux.Vars(r)["id"], req.Response)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, h.view(item))
}

func (h *FeedbackHandler) DeleteFeedback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.services.Delete(r.Context(), id); err != nil {
		h.handleError(w, err)
		return
	}
	slog.Info("feedback removed", "id", id, "moderator", moderatorFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *FeedbackHandler) DeleteEntryFeedback(w http.ResponseWriter, r *http.Request) {
	entryID, err := utils.ParseUint(mux.Vars(r)["entry_id"])
	if err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.services.DeleteByEntry(r.Context(), entryID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]int64{"deleted": n})
}

// ImportEntry 后台导入内容条目
func (h *FeedbackHandler) ImportEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := utils.DecodeRequestBody(r, &req); err != nil {
		utils.WriteHttpError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	entry, err := h.services.CreateEntry(r.Context(), &models.Entry{Title: req.Title, URL: req.URL})
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusCreated, entry)
}

// UpgradeWS WebSocket升级处理
func (h *FeedbackHandler) UpgradeWS(w http.ResponseWriter, r *http.Request) {
	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // 首帧鉴权，不校验来源
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	slog.Debug("新建连接", "connptr", fmt.Sprintf("%p", conn))

	// 首帧鉴权并注册
	h.wsManager.AuthenticateAndRegister(conn)
}

// handleError 统一错误处理
func (h *FeedbackHandler) handleError(w http.ResponseWriter, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.WriteHttpResponse(w, http.StatusBadRequest, verr)
	case errors.Is(err, services.ErrInvalidStatus):
		utils.WriteHttpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dao.ErrNotFound):
		utils.WriteHttpError(w, http.StatusNotFound, "Resource not found")
	default:
		slog.Error("Handler error", "error", err)
		utils.WriteHttpError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// RegisterRoutes 挂载全部路由
func (h *FeedbackHandler) RegisterRoutes(r *mux.Router, limiter *services.IPRateLimiter) {
	api := ApiAuthCheck(h.apiKey)
	adminKey := AdminKeyCheck(h.adminKey)
	jwt := JWTMiddleware(h.jwtGenerator)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/entries/{entry_id:[0-9]+}/feedback", WithMidWare(h.SubmitFrontend, RateLimit(limiter, h.proxies))).Methods(http.MethodPost)
	v1.HandleFunc("/entries/{entry_id:[0-9]+}/feedback", h.GetEntryFeedback).Methods(http.MethodGet)
	v1.HandleFunc("/feedback", WithMidWare(h.SubmitAPI, api)).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/token", WithMidWare(h.IssueToken, adminKey)).Methods(http.MethodPost)
	admin.HandleFunc("/feedback", WithMidWare(h.QueryFeedback, jwt, api)).Methods(http.MethodGet)
	admin.HandleFunc("/feedback", WithMidWare(h.SubmitControlPanel, jwt, api)).Methods(http.MethodPost)
	admin.HandleFunc("/feedback/sources", WithMidWare(h.GetSources, jwt, api)).Methods(http.MethodGet)
	admin.HandleFunc("/feedback/{id}", WithMidWare(h.GetFeedback, jwt, api)).Methods(http.MethodGet)
	admin.HandleFunc("/feedback/{id}", WithMidWare(h.UpdateFeedback, jwt, api)).Methods(http.MethodPut)
	admin.HandleFunc("/feedback/{id}", WithMidWare(h.DeleteFeedback, jwt, api)).Methods(http.MethodDelete)
	admin.HandleFunc("/feedback/{id}/status", WithMidWare(h.SetStatus, jwt, api)).Methods(http.MethodPut)
	admin.HandleFunc("/feedback/{id}/response", WithMidWare(h.UpdateResponse, jwt, api)).Methods(http.MethodPut)
	admin.HandleFunc("/entries", WithMidWare(h.ImportEntry, jwt, api)).Methods(http.MethodPost)
	admin.HandleFunc("/entries/{entry_id:[0-9]+}/feedback", WithMidWare(h.DeleteEntryFeedback, jwt, api)).Methods(http.MethodDelete)

	r.HandleFunc("/ws", h.UpgradeWS)
}
