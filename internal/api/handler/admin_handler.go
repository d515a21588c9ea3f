package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/service"
	"github.com/graderoom/graderoom/pkg/response"
)

// AdminHandler 管理员接口
type AdminHandler struct {
	userSvc    service.UserService
	weightSvc  service.WeightService
	errorSvc   service.ErrorService
	catalogSvc service.CatalogService
	sweeper    Sweeper
	logger     *zap.Logger
}

// NewAdminHandler 创建 AdminHandler
func NewAdminHandler(
	userSvc service.UserService,
	weightSvc service.WeightService,
	errorSvc service.ErrorService,
	catalogSvc service.CatalogService,
	sweeper Sweeper,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		userSvc:    userSvc,
		weightSvc:  weightSvc,
		errorSvc:   errorSvc,
		catalogSvc: catalogSvc,
		sweeper:    sweeper,
		logger:     logger,
	}
}

// ────────────────────── 用户 ──────────────────────

// CreateUser 录入用户，文档从版本 0 开始
// POST /api/v1/admin/users
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	user, err := h.userSvc.Create(c.Request.Context(), &req)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.Created(c, user)
}

// ListUsers 用户列表
// GET /api/v1/admin/users?page=1&page_size=20
func (h *AdminHandler) ListUsers(c *gin.Context) {
	var page dto.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		bindFailed(c, err)
		return
	}

	users, total, err := h.userSvc.List(c.Request.Context(), &page)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OKPage(c, users, total, page.GetPage(), page.GetPageSize())
}

// ────────────────────── 标准权重 ──────────────────────

// SetCanonical 设置教师标准权重，并移除与之相同的建议
// PUT /api/v1/admin/classes/weights
func (h *AdminHandler) SetCanonical(c *gin.Context) {
	var req dto.SetCanonicalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	resp, err := h.weightSvc.SetCanonical(c.Request.Context(), &req)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, resp)
}

// ────────────────────── 错误码 ──────────────────────

// LookupError 按错误码查询
// GET /api/v1/admin/errors/:code
func (h *AdminHandler) LookupError(c *gin.Context) {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil || code <= 0 {
		response.BadRequest(c, response.CodeValidation, "错误码必须为正整数")
		return
	}

	resp, err := h.errorSvc.Lookup(c.Request.Context(), code)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, resp)
}

// ────────────────────── 迁移 ──────────────────────

// Sweep 立即执行一次全量文档迁移
// POST /api/v1/admin/migrations/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	classes, users, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, dto.SweepResponse{
		Classes: dto.SweepCount(classes),
		Users:   dto.SweepCount(users),
	})
}

// ────────────────────── 课程目录 ──────────────────────

// ImportCatalog 从 Excel 导入课程目录
// POST /api/v1/admin/catalog/import  (multipart: school, file)
func (h *AdminHandler) ImportCatalog(c *gin.Context) {
	school := c.PostForm("school")
	if !model.ValidSchool(school) {
		response.BadRequest(c, response.CodeValidation, "school 不合法")
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		response.BadRequest(c, response.CodeValidation, "请上传 Excel 文件")
		return
	}
	defer file.Close()

	rows, err := h.catalogSvc.ParseImportFile(file)
	if err != nil {
		response.BadRequest(c, response.CodeValidation, err.Error())
		return
	}

	resp, err := h.catalogSvc.Import(c.Request.Context(), school, rows)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, resp)
}

// ListCatalog 某学校的课程目录
// GET /api/v1/admin/catalog?school=bellarmine
func (h *AdminHandler) ListCatalog(c *gin.Context) {
	school := c.Query("school")
	if !model.ValidSchool(school) {
		response.BadRequest(c, response.CodeValidation, "school 不合法")
		return
	}

	entries, err := h.catalogSvc.List(c.Request.Context(), school)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, entries)
}
