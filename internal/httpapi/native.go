package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/iapsync/internal/backend"
)

// GooglePlayPurchaseRequest is one onPurchasesUpdated callback.
type GooglePlayPurchaseRequest struct {
	ResponseCode int                        `json:"response_code"`
	Purchase     backend.GooglePlayPurchase `json:"purchase"`
}

// BatchRequest ends a query or restore. Google Play fills ResponseCode and
// Purchases; StoreKit fills Failed, ErrorCode and Transactions.
type BatchRequest struct {
	ResponseCode int                           `json:"response_code"`
	Purchases    []backend.GooglePlayPurchase  `json:"purchases"`
	Failed       bool                          `json:"failed"`
	ErrorCode    int                           `json:"error_code"`
	Transactions []backend.StoreKitTransaction `json:"transactions"`
}

func (s *Server) commands(c *gin.Context) {
	if s.outbox == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "native command outbox not configured",
		})
		return
	}
	max := 0
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, fmt.Errorf("max must be a non-negative integer"))
			return
		}
		max = n
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"commands": s.outbox.Drain(max),
	})
}

// requireBackend rejects callbacks in the other backend's format; the engine
// would run their codes through the wrong mapper.
func (s *Server) requireBackend(c *gin.Context, name string) bool {
	if s.backend == name {
		return true
	}
	c.JSON(http.StatusConflict, gin.H{
		"success": false,
		"message": fmt.Sprintf("configured backend is %q, not %q", s.backend, name),
	})
	return false
}

func (s *Server) googlePlayPurchase(c *gin.Context) {
	if !s.requireBackend(c, backend.NameGooglePlay) {
		return
	}
	var req GooglePlayPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := backend.HandleGooglePlayPurchase(s.engine, req.ResponseCode, req.Purchase); err != nil {
		engineUnavailable(c, err)
		return
	}
	accepted(c)
}

func (s *Server) storeKitTransaction(c *gin.Context) {
	if !s.requireBackend(c, backend.NameStoreKit) {
		return
	}
	var req backend.StoreKitTransaction
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, _, err := req.Outcome(); err != nil {
		badRequest(c, err)
		return
	}
	if err := backend.HandleStoreKitTransaction(s.engine, req); err != nil {
		engineUnavailable(c, err)
		return
	}
	accepted(c)
}

func (s *Server) batchComplete(restore bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		var err error
		switch s.backend {
		case backend.NameGooglePlay:
			err = backend.HandleGooglePlayQuery(s.engine, req.ResponseCode, req.Purchases, restore)
		case backend.NameStoreKit:
			err = backend.HandleStoreKitBatch(s.engine, backend.StoreKitBatch{
				Restore:      restore,
				Failed:       req.Failed,
				ErrorCode:    req.ErrorCode,
				Transactions: req.Transactions,
			})
		default:
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"message": fmt.Sprintf("unknown backend %q", s.backend),
			})
			return
		}
		if err != nil {
			engineUnavailable(c, err)
			return
		}
		accepted(c)
	}
}

func accepted(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}
