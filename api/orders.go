package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealport/settle/api/middleware"
	model2 "github.com/dealport/settle/api/model"
)

func (a Api) CreateOrder(c *gin.Context) {
	var newOrder model2.CreateOrder
	if err := c.ShouldBindJSON(&newOrder); err != nil {
		badRequest(c, err)
		return
	}
	if err := newOrder.ValidateCreateOrder(); err != nil {
		badRequest(c, err)
		return
	}

	order, err := a.settle.CreateOrder(c.Request.Context(), newOrder.ToOrder(), middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (a Api) GetOrder(c *gin.Context) {
	order, err := a.settle.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a Api) GetOrderHistory(c *gin.Context) {
	history, err := a.settle.GetOrderHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (a Api) UpdateAffiliateStatus(c *gin.Context) {
	var req model2.UpdateAffiliateStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateUpdateAffiliateStatus(); err != nil {
		badRequest(c, err)
		return
	}

	order, err := a.settle.TransitionAffiliateStatus(c.Request.Context(), c.Param("id"), req.Status, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a Api) UpdatePaymentStatus(c *gin.Context) {
	var req model2.UpdatePaymentStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateUpdatePaymentStatus(); err != nil {
		badRequest(c, err)
		return
	}

	order, err := a.settle.UpdatePaymentStatus(c.Request.Context(), c.Param("id"), req.Status, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a Api) ReactivateOrder(c *gin.Context) {
	var req model2.Reason
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateReason(); err != nil {
		badRequest(c, err)
		return
	}

	order, err := a.settle.ReactivateOrder(c.Request.Context(), c.Param("id"), middleware.Actor(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a Api) FreezeOrders(c *gin.Context) {
	var req model2.FreezeOrders
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateFreezeOrders(); err != nil {
		badRequest(c, err)
		return
	}

	ids, err := a.settle.FreezeOrders(c.Request.Context(), req.Selector(), req.Reason, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"frozen_order_ids": ids, "count": len(ids)})
}
