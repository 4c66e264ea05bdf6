// Package server exposes the resolved profile view and the mutation actions
// over a local HTTP surface.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orbit-social/orbit/internal/follow"
	"github.com/orbit-social/orbit/internal/profile"
	"github.com/orbit-social/orbit/internal/viewstate"
)

const (
	viewRoutePath           = "/view/:handle"
	followRoutePath         = "/follows/:id"
	requestsRoutePath       = "/requests"
	acceptRequestRoutePath  = "/requests/:id/accept"
	rejectRequestRoutePath  = "/requests/:id/reject"
	healthRoutePath         = "/healthz"
	handleParamName         = "handle"
	identityParamName       = "id"
	forceQueryName          = "force"
	forceQueryEnabledValue  = "true"
	healthStatusKey         = "status"
	healthStatusOK          = "ok"
	errorKey                = "error"
	errorMessageBadIdentity = "identity must be a positive integer"
	ginModeRelease          = "release"

	logMessageMutationFailed       = "mutation failed"
	logMessageRequestRefreshFailed = "pending request refresh failed"
	logFieldIdentity               = "identity"
)

// RouterConfig configures the HTTP routing for profile views and mutations.
type RouterConfig struct {
	Manager  *viewstate.Manager
	Pipeline *follow.Pipeline
	Logger   *zap.Logger
}

// NewRouter constructs a Gin engine wired to the view manager and the
// mutation pipeline.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := profileHandler{
		manager:  configuration.Manager,
		pipeline: configuration.Pipeline,
		logger:   logger,
	}

	engine.GET(viewRoutePath, handler.serveView)
	engine.POST(followRoutePath, handler.followTarget)
	engine.DELETE(followRoutePath, handler.unfollowTarget)
	engine.GET(requestsRoutePath, handler.listRequests)
	engine.POST(acceptRequestRoutePath, handler.acceptRequest)
	engine.DELETE(rejectRequestRoutePath, handler.rejectRequest)
	engine.GET(healthRoutePath, handler.healthStatus)

	return engine, nil
}

type profileHandler struct {
	manager  *viewstate.Manager
	pipeline *follow.Pipeline
	logger   *zap.Logger
}

func (handler profileHandler) serveView(ginContext *gin.Context) {
	handle := ginContext.Param(handleParamName)
	force := ginContext.Query(forceQueryName) == forceQueryEnabledValue

	view := handler.manager.View(ginContext.Request.Context(), handle, force)
	ginContext.JSON(http.StatusOK, viewResponseFrom(view, handler.pipeline))
}

func (handler profileHandler) followTarget(ginContext *gin.Context) {
	handler.mutate(ginContext, handler.pipeline.Follow)
}

func (handler profileHandler) unfollowTarget(ginContext *gin.Context) {
	handler.mutate(ginContext, handler.pipeline.Unfollow)
}

func (handler profileHandler) acceptRequest(ginContext *gin.Context) {
	handler.mutate(ginContext, handler.pipeline.AcceptRequest)
}

func (handler profileHandler) rejectRequest(ginContext *gin.Context) {
	handler.mutate(ginContext, handler.pipeline.RejectRequest)
}

func (handler profileHandler) listRequests(ginContext *gin.Context) {
	if refreshErr := handler.pipeline.RefreshRequests(ginContext.Request.Context()); refreshErr != nil {
		handler.logger.Warn(logMessageRequestRefreshFailed, zap.Error(refreshErr))
	}
	ginContext.JSON(http.StatusOK, requestsResponseFrom(handler.pipeline.Requests()))
}

func (handler profileHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}

func (handler profileHandler) mutate(ginContext *gin.Context, perform func(context.Context, profile.Identity) error) {
	rawIdentity := ginContext.Param(identityParamName)
	parsed, parseErr := strconv.ParseInt(rawIdentity, 10, 64)
	if parseErr != nil || parsed <= 0 {
		ginContext.JSON(http.StatusBadRequest, map[string]string{errorKey: errorMessageBadIdentity})
		return
	}
	target := profile.Identity(parsed)

	if mutateErr := perform(ginContext.Request.Context(), target); mutateErr != nil {
		handler.logger.Warn(logMessageMutationFailed,
			zap.Int64(logFieldIdentity, parsed),
			zap.Error(mutateErr),
		)
		ginContext.JSON(mutationStatusCode(mutateErr), map[string]string{errorKey: mutateErr.Error()})
		return
	}
	ginContext.Status(http.StatusNoContent)
}

func mutationStatusCode(mutateErr error) int {
	var validationError *profile.ValidationError
	switch {
	case errors.Is(mutateErr, follow.ErrActionInFlight):
		return http.StatusTooManyRequests
	case errors.Is(mutateErr, follow.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(mutateErr, profile.ErrIllegalTransition), errors.Is(mutateErr, profile.ErrConflict):
		return http.StatusConflict
	case errors.As(mutateErr, &validationError):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
