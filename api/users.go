package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealport/settle/api/middleware"
	model2 "github.com/dealport/settle/api/model"
	"github.com/dealport/settle/internal/apierror"
)

func (a Api) GetUser(c *gin.Context) {
	user, err := a.settle.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUserStatus changes a user's status and returns what the cascade did.
// A cascade that stopped part way answers with the error and the partial result.
func (a Api) UpdateUserStatus(c *gin.Context) {
	var req model2.UpdateUserStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateUpdateUserStatus(); err != nil {
		badRequest(c, err)
		return
	}

	result, err := a.settle.UpdateUserStatus(c.Request.Context(), c.Param("id"), req.Status, middleware.Actor(c), req.Reason)
	if err != nil {
		if result != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error(), "partial": result})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a Api) GetSuspensions(c *gin.Context) {
	suspensions, err := a.settle.ListSuspensions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, suspensions)
}

// CanDeleteUser reports the first deletion guard that blocks the user, if any.
func (a Api) CanDeleteUser(c *gin.Context) {
	err := a.settle.CanDeleteUser(c.Request.Context(), c.Param("id"))
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"deletable": true})
		return
	}
	apiErr, ok := apierror.As(err)
	if !ok || (apiErr.Category != apierror.CategoryGuard && apiErr.Category != apierror.CategoryAuthz) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deletable": false, "code": apiErr.Code, "reason": apiErr.Message})
}

func (a Api) DeleteUser(c *gin.Context) {
	if err := a.settle.DeleteUser(c.Request.Context(), c.Param("id"), middleware.Actor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a Api) ReactivateDeal(c *gin.Context) {
	var req model2.Reason
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateReason(); err != nil {
		badRequest(c, err)
		return
	}

	deal, err := a.settle.ReactivateDeal(c.Request.Context(), c.Param("id"), middleware.Actor(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

func (a Api) DeleteDeal(c *gin.Context) {
	var req model2.Reason
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateReason(); err != nil {
		badRequest(c, err)
		return
	}

	if err := a.settle.DeleteDeal(c.Request.Context(), c.Param("id"), middleware.Actor(c), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
