// Package server exposes the follower audit pipeline to a presentation layer
// over HTTP: background scan tasks with polled progress, bulk blocking,
// allow-list management, the access gate, and CSV export.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sky-audit/skyaudit/internal/allowlist"
	"github.com/sky-audit/skyaudit/internal/analyzer"
	"github.com/sky-audit/skyaudit/internal/export"
	"github.com/sky-audit/skyaudit/internal/gate"
)

const (
	healthRoutePath             = "/healthz"
	analyzeRoutePath            = "/api/analyze"
	taskRoutePath               = "/api/analyze/:taskID"
	taskResultsRoutePath        = "/api/analyze/:taskID/results"
	taskExportRoutePath         = "/api/analyze/:taskID/export"
	blockRoutePath              = "/api/block"
	allowListRoutePath          = "/api/allowlist"
	whitelistRoutePath          = "/api/allowlist/whitelist"
	greylistRoutePath           = "/api/allowlist/greylist"
	allowListEntryRoutePath     = "/api/allowlist/:did"
	accessCheckRoutePath        = "/api/access-check"
	signOutRoutePath            = "/api/signout"
	taskIDParamName             = "taskID"
	didParamName                = "did"
	csvContentType              = "text/csv; charset=utf-8"
	csvDispositionHeaderName    = "Content-Disposition"
	csvDispositionValue         = `attachment; filename="follower-analysis.csv"`
	healthStatusKey             = "status"
	healthStatusOK              = "ok"
	ginModeRelease              = "release"
	errMessageMissingService    = "router requires an analysis service"
	errMessageMissingAllowList  = "router requires an allow-list store"
	errNoticeInvalidRequest     = "invalid request body"
	errNoticeTaskNotComplete    = "analysis task has not completed"
	errNoticeGateUnavailable    = "access gate not configured"
	errNoticeSignOutFailed      = "sign out failed"
	errNoticeBlockFailed        = "bulk block failed"
	errNoticeAllowListReadFail  = "allow-list read failed"
	errNoticeAllowListWriteFail = "allow-list write failed"
	errNoticeExportFailed       = "export failed"
	logMessageScanStarted       = "follower scan task started"
	logMessageScanFailed        = "follower scan task failed"
	logMessageScanFinished      = "follower scan task finished"
	logFieldTaskID              = "taskID"
	logFieldActorDID            = "actorDID"
)

var (
	errMissingService   = errors.New(errMessageMissingService)
	errMissingAllowList = errors.New(errMessageMissingAllowList)
)

// AnalysisService drives follower scans and bulk blocks for the router.
type AnalysisService interface {
	AnalyzeFollowers(ctx context.Context, actorDID string, onProgress analyzer.ProgressFunc) ([]analyzer.AnalysisResult, error)
	BlockAccounts(ctx context.Context, targetDIDs []string, onProgress analyzer.BlockProgressFunc) ([]analyzer.BlockResult, error)
	SignOut(ctx context.Context) error
}

// AllowListStore is the allow-list surface exposed over HTTP.
type AllowListStore interface {
	AddToWhitelist(ctx context.Context, did string, handle string, reason string) error
	AddToGreylist(ctx context.Context, did string, handle string, reason string) error
	Remove(ctx context.Context, did string) error
	Whitelist(ctx context.Context) ([]allowlist.Entry, error)
	Greylist(ctx context.Context) ([]allowlist.Entry, error)
}

// AccessChecker answers pre-login access checks.
type AccessChecker interface {
	CheckAccess(handle string) gate.Decision
}

// RouterConfig configures the HTTP routing for the audit service.
type RouterConfig struct {
	Service   AnalysisService
	AllowList AllowListStore
	Gate      AccessChecker
	Logger    *zap.Logger
}

// NewRouter constructs a Gin engine wired to the audit service.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	if configuration.Service == nil {
		return nil, errMissingService
	}
	if configuration.AllowList == nil {
		return nil, errMissingAllowList
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := auditHandler{
		service:   configuration.Service,
		allowList: configuration.AllowList,
		gate:      configuration.Gate,
		logger:    logger,
		tracker:   newAnalysisTaskTracker(),
	}

	engine.GET(healthRoutePath, handler.healthStatus)
	engine.POST(analyzeRoutePath, handler.startAnalysis)
	engine.GET(taskRoutePath, handler.taskProgress)
	engine.GET(taskResultsRoutePath, handler.taskResults)
	engine.GET(taskExportRoutePath, handler.taskExport)
	engine.POST(blockRoutePath, handler.blockAccounts)
	engine.GET(allowListRoutePath, handler.listAllowList)
	engine.POST(whitelistRoutePath, handler.addToWhitelist)
	engine.POST(greylistRoutePath, handler.addToGreylist)
	engine.DELETE(allowListEntryRoutePath, handler.removeAllowListEntry)
	engine.POST(accessCheckRoutePath, handler.accessCheck)
	engine.POST(signOutRoutePath, handler.signOut)

	return engine, nil
}

type auditHandler struct {
	service   AnalysisService
	allowList AllowListStore
	gate      AccessChecker
	logger    *zap.Logger
	tracker   *analysisTaskTracker
}

type startAnalysisRequest struct {
	ActorDID string `json:"actorDID" binding:"required"`
}

type blockRequest struct {
	DIDs []string `json:"dids" binding:"required"`
}

type allowListMutationRequest struct {
	DID    string `json:"did" binding:"required"`
	Handle string `json:"handle"`
}

type accessCheckRequest struct {
	Handle string `json:"handle" binding:"required"`
}

func (handler auditHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}

func (handler auditHandler) startAnalysis(ginContext *gin.Context) {
	var request startAnalysisRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errNoticeInvalidRequest})
		return
	}

	task := handler.tracker.CreateTask()
	handler.logger.Info(logMessageScanStarted,
		zap.String(logFieldTaskID, task.Identifier),
		zap.String(logFieldActorDID, request.ActorDID))

	go handler.runAnalysis(task.Identifier, request.ActorDID)

	ginContext.JSON(http.StatusAccepted, task)
}

// runAnalysis executes a scan in the background; the task outlives the
// originating HTTP request, so it runs on a fresh context.
func (handler auditHandler) runAnalysis(taskIdentifier string, actorDID string) {
	results, err := handler.service.AnalyzeFollowers(context.Background(), actorDID, func(progress analyzer.Progress) {
		handler.tracker.UpdateProgress(taskIdentifier, progress)
	})
	if err != nil {
		handler.logger.Error(logMessageScanFailed,
			zap.String(logFieldTaskID, taskIdentifier),
			zap.Error(err))
		handler.tracker.FailTask(taskIdentifier, err)
		return
	}
	handler.tracker.CompleteTask(taskIdentifier, results)
	handler.logger.Info(logMessageScanFinished, zap.String(logFieldTaskID, taskIdentifier))
}

func (handler auditHandler) taskProgress(ginContext *gin.Context) {
	snapshot, exists := handler.tracker.TaskSnapshot(ginContext.Param(taskIDParamName))
	if !exists {
		ginContext.JSON(http.StatusNotFound, gin.H{"error": analysisTaskNotFoundNotice})
		return
	}
	ginContext.JSON(http.StatusOK, snapshot)
}

func (handler auditHandler) taskResults(ginContext *gin.Context) {
	results, ready := handler.tracker.TaskResults(ginContext.Param(taskIDParamName))
	if !ready {
		if _, exists := handler.tracker.TaskSnapshot(ginContext.Param(taskIDParamName)); !exists {
			ginContext.JSON(http.StatusNotFound, gin.H{"error": analysisTaskNotFoundNotice})
			return
		}
		ginContext.JSON(http.StatusConflict, gin.H{"error": errNoticeTaskNotComplete})
		return
	}
	ginContext.JSON(http.StatusOK, results)
}

func (handler auditHandler) taskExport(ginContext *gin.Context) {
	results, ready := handler.tracker.TaskResults(ginContext.Param(taskIDParamName))
	if !ready {
		ginContext.JSON(http.StatusNotFound, gin.H{"error": analysisTaskNotFoundNotice})
		return
	}
	ginContext.Header(csvDispositionHeaderName, csvDispositionValue)
	ginContext.Header("Content-Type", csvContentType)
	ginContext.Status(http.StatusOK)
	if err := export.WriteCSV(ginContext.Writer, results); err != nil {
		handler.logger.Error(errNoticeExportFailed, zap.Error(err))
	}
}

func (handler auditHandler) blockAccounts(ginContext *gin.Context) {
	var request blockRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errNoticeInvalidRequest})
		return
	}
	results, err := handler.service.BlockAccounts(ginContext.Request.Context(), request.DIDs, nil)
	if err != nil {
		handler.logger.Error(errNoticeBlockFailed, zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, gin.H{"error": errNoticeBlockFailed})
		return
	}
	ginContext.JSON(http.StatusOK, results)
}

func (handler auditHandler) listAllowList(ginContext *gin.Context) {
	whitelist, err := handler.allowList.Whitelist(ginContext.Request.Context())
	if err != nil {
		ginContext.JSON(http.StatusInternalServerError, gin.H{"error": errNoticeAllowListReadFail})
		return
	}
	greylist, err := handler.allowList.Greylist(ginContext.Request.Context())
	if err != nil {
		ginContext.JSON(http.StatusInternalServerError, gin.H{"error": errNoticeAllowListReadFail})
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"whitelist": whitelist, "greylist": greylist})
}

func (handler auditHandler) addToWhitelist(ginContext *gin.Context) {
	handler.mutateAllowList(ginContext, handler.allowList.AddToWhitelist)
}

func (handler auditHandler) addToGreylist(ginContext *gin.Context) {
	handler.mutateAllowList(ginContext, handler.allowList.AddToGreylist)
}

func (handler auditHandler) mutateAllowList(ginContext *gin.Context, mutation func(ctx context.Context, did string, handle string, reason string) error) {
	var request allowListMutationRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errNoticeInvalidRequest})
		return
	}
	if err := mutation(ginContext.Request.Context(), request.DID, request.Handle, allowlist.ReasonManual); err != nil {
		ginContext.JSON(http.StatusInternalServerError, gin.H{"error": errNoticeAllowListWriteFail})
		return
	}
	ginContext.Status(http.StatusNoContent)
}

func (handler auditHandler) removeAllowListEntry(ginContext *gin.Context) {
	if err := handler.allowList.Remove(ginContext.Request.Context(), ginContext.Param(didParamName)); err != nil {
		ginContext.JSON(http.StatusInternalServerError, gin.H{"error": errNoticeAllowListWriteFail})
		return
	}
	ginContext.Status(http.StatusNoContent)
}

func (handler auditHandler) accessCheck(ginContext *gin.Context) {
	if handler.gate == nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoticeGateUnavailable})
		return
	}
	var request accessCheckRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errNoticeInvalidRequest})
		return
	}
	ginContext.JSON(http.StatusOK, handler.gate.CheckAccess(request.Handle))
}

func (handler auditHandler) signOut(ginContext *gin.Context) {
	if err := handler.service.SignOut(ginContext.Request.Context()); err != nil {
		handler.logger.Error(errNoticeSignOutFailed, zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, gin.H{"error": errNoticeSignOutFailed})
		return
	}
	ginContext.Status(http.StatusNoContent)
}
