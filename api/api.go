package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dealport/settle"
	"github.com/dealport/settle/api/middleware"
	"github.com/dealport/settle/config"
	"github.com/dealport/settle/internal/apierror"
)

type Api struct {
	settle *settle.Settle
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/orders", a.CreateOrder)
	router.POST("/orders/freeze", a.FreezeOrders)
	router.GET("/orders/:id", a.GetOrder)
	router.GET("/orders/:id/history", a.GetOrderHistory)
	router.POST("/orders/:id/affiliate-status", a.UpdateAffiliateStatus)
	router.POST("/orders/:id/payment-status", a.UpdatePaymentStatus)
	router.POST("/orders/:id/reactivate", a.ReactivateOrder)

	router.GET("/orders/:id/proofs", a.GetExtractionStatus)
	router.POST("/orders/:id/proofs/:type", a.SubmitProof)
	router.POST("/orders/:id/proofs/:type/extract", a.ExtractProof)
	router.POST("/orders/:id/proofs/:type/verify", a.VerifyProof)
	router.DELETE("/orders/:id/proofs/:type", a.ClearExtraction)
	router.POST("/proofs/prewarm", a.PrewarmProofs)

	router.GET("/users/:id", a.GetUser)
	router.POST("/users/:id/status", a.UpdateUserStatus)
	router.GET("/users/:id/suspensions", a.GetSuspensions)
	router.GET("/users/:id/deletable", a.CanDeleteUser)
	router.DELETE("/users/:id", a.DeleteUser)

	router.GET("/wallets/:id", a.GetWallet)
	router.GET("/wallets/:id/deletable", a.CanDeleteWallet)
	router.POST("/wallets/:id/credit", a.CreditWallet)
	router.POST("/wallets/:id/debit", a.DebitWallet)
	router.DELETE("/wallets/:id", a.DeleteWallet)

	router.POST("/payouts", a.RequestPayout)
	router.GET("/payouts/:id", a.GetPayout)
	router.POST("/payouts/:id/processing", a.MarkPayoutProcessing)
	router.POST("/payouts/:id/complete", a.CompletePayout)
	router.POST("/payouts/:id/fail", a.FailPayout)
	router.POST("/payouts/:id/cancel", a.CancelPayout)

	router.POST("/deals/:id/reactivate", a.ReactivateDeal)
	router.DELETE("/deals/:id", a.DeleteDeal)
	return a.router
}

func NewAPI(s *settle.Settle) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.ActorMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{settle: s, router: r}
}

// respondError writes err with the status its code maps to. Errors without a
// code are reported as internal errors.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	apiErr, ok := apierror.As(err)
	if !ok {
		c.JSON(status, gin.H{"error": err.Error(), "code": apierror.ErrInternalServer})
		return
	}
	body := gin.H{"error": apiErr.Message, "code": apiErr.Code}
	if apiErr.Details != nil {
		if detailErr, isErr := apiErr.Details.(error); isErr {
			body["details"] = detailErr.Error()
		} else {
			body["details"] = apiErr.Details
		}
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apierror.ErrInvalidInput})
}
