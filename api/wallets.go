package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealport/settle/api/middleware"
	model2 "github.com/dealport/settle/api/model"
	"github.com/dealport/settle/model"
)

func (a Api) GetWallet(c *gin.Context) {
	wallet, err := a.settle.GetWallet(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (a Api) CreditWallet(c *gin.Context) {
	a.adjustWallet(c, a.settle.Credit)
}

func (a Api) DebitWallet(c *gin.Context) {
	a.adjustWallet(c, a.settle.Debit)
}

func (a Api) adjustWallet(c *gin.Context, apply func(ctx context.Context, walletID string, bucket model.Bucket, amountPaise int64, actor string) (*model.Wallet, error)) {
	var req model2.WalletAdjustment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateWalletAdjustment(); err != nil {
		badRequest(c, err)
		return
	}

	wallet, err := apply(c.Request.Context(), c.Param("id"), req.Bucket, req.AmountPaise, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (a Api) CanDeleteWallet(c *gin.Context) {
	ok, err := a.settle.CanDeleteWallet(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deletable": ok})
}

func (a Api) DeleteWallet(c *gin.Context) {
	if err := a.settle.DeleteWallet(c.Request.Context(), c.Param("id"), middleware.Actor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a Api) RequestPayout(c *gin.Context) {
	var req model2.RequestPayout
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateRequestPayout(); err != nil {
		badRequest(c, err)
		return
	}

	payout, err := a.settle.RequestPayout(c.Request.Context(), req.UserID, req.AmountPaise, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

func (a Api) GetPayout(c *gin.Context) {
	payout, err := a.settle.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (a Api) MarkPayoutProcessing(c *gin.Context) {
	a.movePayout(c, a.settle.MarkPayoutProcessing)
}

func (a Api) CompletePayout(c *gin.Context) {
	a.movePayout(c, a.settle.CompletePayout)
}

func (a Api) FailPayout(c *gin.Context) {
	a.movePayout(c, a.settle.FailPayout)
}

func (a Api) CancelPayout(c *gin.Context) {
	a.movePayout(c, a.settle.CancelPayout)
}

func (a Api) movePayout(c *gin.Context, move func(ctx context.Context, payoutID, actor string) (*model.Payout, error)) {
	payout, err := move(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}
