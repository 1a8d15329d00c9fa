// internal/handlers/job/job_handler.go
package job

import (
	"context"
	"net/http"
	"time"

	"netbill-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type JobRunner interface {
	Jobs() []string
	RunNow(ctx context.Context, name string) error
}

type JobHandler struct {
	runner JobRunner
	logger *zap.Logger
}

func NewJobHandler(runner JobRunner, logger *zap.Logger) *JobHandler {
	return &JobHandler{runner: runner, logger: logger}
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	response.Success(c, http.StatusOK, "jobs retrieved", gin.H{"jobs": h.runner.Jobs()})
}

// RunJob runs a job synchronously. A job already running elsewhere answers 423.
func (h *JobHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	started := time.Now()

	// detached so a dropped HTTP connection does not cut a pass short
	err := h.runner.RunNow(context.WithoutCancel(c.Request.Context()), name)
	if err != nil {
		h.logger.Warn("manual job run failed", zap.String("job", name), zap.Error(err))
		response.FromError(c, "job failed", err)
		return
	}

	response.Success(c, http.StatusOK, "job completed", gin.H{
		"job":        name,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
}
