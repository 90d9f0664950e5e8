package httpapi

import (
	"github.com/gin-gonic/gin"
)

// NewRouter wires the §6 endpoints onto a gin engine. Admin endpoints live
// under /api; the LNURL-facing endpoints are top-level, matching the paths
// an NFC programmer and wallet app expect.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.POST("/api/createboltcard", h.CreateBoltCard)
	r.GET("/api/cards/:id", h.GetCard)
	r.GET("/api/cards", h.ListCards)
	r.GET("/new", h.FetchProvisioning)
	r.GET("/ln", h.Withdraw)
	r.GET("/ln/callback", h.WithdrawCallback)

	return r
}
