// internal/handlers/profile/profile_handler.go
package profile

import (
	"context"
	"net/http"

	"netbill-service/internal/pkg/response"
	service "netbill-service/internal/service/profile"

	"github.com/gin-gonic/gin"
)

type ProfileSyncer interface {
	Sync(ctx context.Context) (*service.Result, error)
}

type ProfileHandler struct {
	profiles ProfileSyncer
}

func NewProfileHandler(profiles ProfileSyncer) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// SyncProfiles ensures the pool and all package profiles on the router.
// Partial failures answer 207 with the per-profile errors.
func (h *ProfileHandler) SyncProfiles(c *gin.Context) {
	result, err := h.profiles.Sync(c.Request.Context())
	if err != nil {
		if result != nil && len(result.Profiles) > 0 {
			response.Success(c, http.StatusMultiStatus, "profiles partially synced", result)
			return
		}
		response.Error(c, response.StatusFor(err), "profile sync failed", err, result)
		return
	}

	response.Success(c, http.StatusOK, "profiles synced", result)
}
