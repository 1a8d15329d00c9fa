// internal/handlers/plan/package_handler.go
package plan

import (
	"context"
	"net/http"

	"netbill-service/internal/domain/plan"
	"netbill-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type PackageService interface {
	Create(ctx context.Context, req *plan.CreatePackageRequest) (*plan.Package, error)
	List(ctx context.Context, filters *plan.PackageListFilters) ([]*plan.Package, error)
}

type PackageHandler struct {
	packageService PackageService
}

func NewPackageHandler(packageService PackageService) *PackageHandler {
	return &PackageHandler{packageService: packageService}
}

func (h *PackageHandler) ListPackages(c *gin.Context) {
	var filters plan.PackageListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	packages, err := h.packageService.List(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to list packages", err)
		return
	}

	response.Success(c, http.StatusOK, "packages retrieved", packages)
}

func (h *PackageHandler) CreatePackage(c *gin.Context) {
	var req plan.CreatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.packageService.Create(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create package", err)
		return
	}

	response.Success(c, http.StatusCreated, "package created successfully", result)
}
