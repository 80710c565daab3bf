package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealport/settle/api/middleware"
	model2 "github.com/dealport/settle/api/model"
	"github.com/dealport/settle/model"
)

func proofType(c *gin.Context) model.ProofType {
	return model.ProofType(c.Param("type"))
}

func (a Api) SubmitProof(c *gin.Context) {
	var req model2.SubmitProof
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateSubmitProof(); err != nil {
		badRequest(c, err)
		return
	}

	result, err := a.settle.SubmitProof(c.Request.Context(), c.Param("id"), proofType(c), req.Image, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a Api) ExtractProof(c *gin.Context) {
	var req model2.ExtractProof
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	outcome, err := a.settle.GetOrExtract(c.Request.Context(), c.Param("id"), proofType(c), req.Image, req.Expectations, req.ForceReExtract)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (a Api) VerifyProof(c *gin.Context) {
	var req model2.VerifyProof
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateVerifyProof(); err != nil {
		badRequest(c, err)
		return
	}

	order, err := a.settle.VerifyProof(c.Request.Context(), c.Param("id"), proofType(c), *req.Verified, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a Api) ClearExtraction(c *gin.Context) {
	if err := a.settle.ClearExtraction(c.Request.Context(), c.Param("id"), proofType(c), middleware.Actor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a Api) GetExtractionStatus(c *gin.Context) {
	status, err := a.settle.ExtractionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// PrewarmProofs fills the extraction cache for a batch of proofs, inline or,
// with async set, on the workers.
func (a Api) PrewarmProofs(c *gin.Context) {
	var req model2.PrewarmProofs
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidatePrewarmProofs(); err != nil {
		badRequest(c, err)
		return
	}

	if req.Async {
		taskID, err := a.settle.QueuePrewarm(req.Keys)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
		return
	}
	c.JSON(http.StatusOK, a.settle.PrewarmExtractions(c.Request.Context(), req.Keys))
}
