package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/iapsync/internal/purchase"
)

// CheckoutRequest is the body of POST /v1/checkout.
type CheckoutRequest struct {
	User   string                  `json:"user"`
	Offers []purchase.OfferRequest `json:"offers"`
}

// QueryRequest is the body of POST /v1/receipts/query.
type QueryRequest struct {
	User    string `json:"user"`
	Restore bool   `json:"restore"`
}

// FinalizeRequest is the body of POST /v1/purchases/:transaction_id/finalize.
type FinalizeRequest struct {
	User string `json:"user"`
}

type checkoutReply struct {
	err     error
	receipt purchase.Receipt
}

func (s *Server) checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	// Buffered so a callback firing after the wait never blocks the engine.
	done := make(chan checkoutReply, 1)
	err := s.engine.Checkout(purchase.UserKey(req.User), purchase.CheckoutRequest{Offers: req.Offers},
		func(err error, receipt purchase.Receipt) {
			done <- checkoutReply{err: err, receipt: receipt}
		})
	if err != nil {
		engineUnavailable(c, err)
		return
	}

	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case rep := <-done:
		c.JSON(checkoutStatus(rep.err), gin.H{
			"status":  "complete",
			"result":  purchase.ResultOf(rep.err),
			"receipt": rep.receipt,
		})
	case <-timer.C:
		c.JSON(http.StatusAccepted, gin.H{
			"status": "pending",
			"result": purchase.Result{},
		})
	case <-c.Request.Context().Done():
		// Client went away; the checkout continues inside the engine.
	}
}

// checkoutStatus picks the HTTP status for a delivered checkout result.
// Precondition failures get client error statuses; other outcomes are
// delivered in the body with a 200.
func checkoutStatus(err error) int {
	switch purchase.KindOf(err) {
	case purchase.KindNoOffersSpecified:
		return http.StatusBadRequest
	case purchase.KindConcurrentCheckout:
		return http.StatusConflict
	case purchase.KindNotAllowed:
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}

func (s *Server) finalize(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	txid := c.Param("transaction_id")
	if err := s.engine.FinalizePurchase(purchase.UserKey(req.User), txid); err != nil {
		engineUnavailable(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":        true,
		"transaction_id": txid,
	})
}

func (s *Server) queryReceipts(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	done := make(chan error, 1)
	err := s.engine.QueryReceipts(purchase.UserKey(req.User), req.Restore, func(err error) {
		done <- err
	})
	if err != nil {
		engineUnavailable(c, err)
		return
	}

	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case err := <-done:
		status := http.StatusOK
		if purchase.IsKind(err, purchase.KindQueryInProgress) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"status": "complete",
			"result": purchase.ResultOf(err),
		})
	case <-timer.C:
		c.JSON(http.StatusAccepted, gin.H{
			"status": "pending",
			"result": purchase.Result{},
		})
	case <-c.Request.Context().Done():
	}
}

func (s *Server) receipts(c *gin.Context) {
	user := purchase.UserKey(c.Query("user"))
	receipts, err := s.engine.GetReceipts(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to read receipts: " + err.Error(),
		})
		return
	}
	if receipts == nil {
		receipts = []purchase.Receipt{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"user":     string(user),
		"receipts": receipts,
	})
}

func (s *Server) allowed(c *gin.Context) {
	user := purchase.UserKey(c.Query("user"))
	allowed, err := s.engine.IsAllowedToPurchase(c.Request.Context(), user)
	if err != nil {
		engineUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"allowed": allowed,
	})
}
