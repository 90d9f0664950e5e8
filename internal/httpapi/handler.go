// Package httpapi exposes the four HTTP endpoints a Bolt Card withdraw
// server must serve: admin card creation, one-time provisioning fetch, the
// LNURL-withdraw tap entrypoint, and its callback.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"boltcard-withdraw-server/internal/apierr"
	"boltcard-withdraw-server/internal/lnd"
	"boltcard-withdraw-server/internal/lnurlw"
	"boltcard-withdraw-server/internal/queue"
	"boltcard-withdraw-server/internal/store"
	"boltcard-withdraw-server/internal/tap"
	"boltcard-withdraw-server/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const tapEventStream = "tap_events"
const settlementStream = "settlements"

// CardStore is the subset of store.CardRepository the HTTP layer drives
// directly, for card lifecycle and read-only admin introspection.
type CardStore interface {
	Create(ctx context.Context, p store.CreateCardParams) (*store.CreateCardResult, error)
	FetchProvisioning(ctx context.Context, code string) (*store.ProvisioningMaterial, error)
	GetByID(ctx context.Context, cardID int64) (*store.Card, error)
	List(ctx context.Context) ([]*store.Card, error)
}

// Publisher is the subset of pkg/queue.StreamQueue the HTTP layer uses to
// emit best-effort audit events. A publish failure never fails the request.
type Publisher interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

// Handler wires the router to the card store, tap authenticator, and
// withdraw session manager.
type Handler struct {
	cards    CardStore
	tapAuth  *tap.Authenticator
	sessions *lnurlw.SessionManager
	queue    Publisher

	domain          string
	defaultTxLimit  int64
	defaultDayLimit int64
	provisioningTTL time.Duration
}

func NewHandler(
	cards CardStore,
	tapAuth *tap.Authenticator,
	sessions *lnurlw.SessionManager,
	q Publisher,
	domain string,
	defaultTxLimitSats int64,
	defaultDayLimitSats int64,
	provisioningTTL time.Duration,
) *Handler {
	return &Handler{
		cards:           cards,
		tapAuth:         tapAuth,
		sessions:        sessions,
		queue:           q,
		domain:          domain,
		defaultTxLimit:  defaultTxLimitSats,
		defaultDayLimit: defaultDayLimitSats,
		provisioningTTL: provisioningTTL,
	}
}

func errorEnvelope(reason string) gin.H {
	return gin.H{"status": "ERROR", "reason": reason}
}

// reasonOf extracts the wire-safe reason from err, falling back to a vague
// internal-error message (and server-side logging) for anything not already
// an *apierr.Error.
func reasonOf(err error) string {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	logger.Error("unclassified error reached the HTTP layer", zap.Error(err))
	return "internal error"
}

// createCardRequest is the admin creation request of §6. Limits and the
// enabled flag are optional; the handler falls back to the server's
// configured defaults (and enabled=true) when omitted.
type createCardRequest struct {
	CardName     string `json:"card_name" binding:"required"`
	TxLimitSats  *int64 `json:"tx_limit_sats"`
	DayLimitSats *int64 `json:"day_limit_sats"`
	Enabled      *bool  `json:"enabled"`
}

// CreateBoltCard handles POST /api/createboltcard.
func (h *Handler) CreateBoltCard(c *gin.Context) {
	var req createCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope("malformed request: "+err.Error()))
		return
	}

	params := store.CreateCardParams{
		CardName:        req.CardName,
		TxLimitSats:     h.defaultTxLimit,
		DayLimitSats:    h.defaultDayLimit,
		Enabled:         true,
		ProvisioningTTL: h.provisioningTTL,
	}
	if req.TxLimitSats != nil {
		params.TxLimitSats = *req.TxLimitSats
	}
	if req.DayLimitSats != nil {
		params.DayLimitSats = *req.DayLimitSats
	}
	if req.Enabled != nil {
		params.Enabled = *req.Enabled
	}

	result, err := h.cards.Create(c.Request.Context(), params)
	if err != nil {
		logger.Error("failed to create card", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorEnvelope("internal error"))
		return
	}

	url := fmt.Sprintf("https://%s/new?a=%s", h.domain, result.OneTimeCode)
	c.JSON(http.StatusOK, gin.H{"status": "OK", "url": url})
}

// provisioningResponse is the bit-exact NFC programmer payload of §6.
type provisioningResponse struct {
	ProtocolName    string `json:"protocol_name"`
	ProtocolVersion int    `json:"protocol_version"`
	CardName        string `json:"card_name"`
	LnurlwBase      string `json:"lnurlw_base"`
	K0              string `json:"k0"`
	K1              string `json:"k1"`
	K2              string `json:"k2"`
	K3              string `json:"k3"`
	K4              string `json:"k4"`
}

// FetchProvisioning handles GET /new. A one-time code succeeds exactly once.
func (h *Handler) FetchProvisioning(c *gin.Context) {
	code := c.Query("a")
	if code == "" {
		c.JSON(http.StatusOK, errorEnvelope("missing provisioning code"))
		return
	}

	material, err := h.cards.FetchProvisioning(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusOK, errorEnvelope(provisioningErrReason(err)))
		return
	}

	c.JSON(http.StatusOK, provisioningResponse{
		ProtocolName:    "create_bolt_card_response",
		ProtocolVersion: 2,
		CardName:        material.CardName,
		LnurlwBase:      fmt.Sprintf("lnurlw://%s/ln", h.domain),
		K0:              material.K0,
		K1:              material.K1,
		K2:              material.K2,
		K3:              material.K3,
		K4:              material.K4,
	})
}

func provisioningErrReason(err error) string {
	switch {
	case errors.Is(err, store.ErrCodeNotFound):
		return "provisioning code not found"
	case errors.Is(err, store.ErrCodeExpired):
		return "provisioning code expired"
	case errors.Is(err, store.ErrCodeAlreadyUsed):
		return "provisioning code already used"
	default:
		logger.Error("provisioning fetch failed", zap.Error(err))
		return "internal error"
	}
}

// GetCard handles GET /api/cards/:id, a read-only admin view of a single
// card's operational state. store.Card's key fields are tagged json:"-",
// so no key material ever reaches the response.
func (h *Handler) GetCard(c *gin.Context) {
	cardID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || cardID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}

	card, err := h.cards.GetByID(c.Request.Context(), cardID)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
			return
		}
		logger.Error("failed to get card", zap.Int64("card_id", cardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, card)
}

// ListCards handles GET /api/cards, a read-only admin view of every
// provisioned card.
func (h *Handler) ListCards(c *gin.Context) {
	cards, err := h.cards.List(c.Request.Context())
	if err != nil {
		logger.Error("failed to list cards", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

// Withdraw handles GET /ln: the tap entrypoint. A validated tap opens a
// fresh LNURL-withdraw session; anything else returns the LNURL error
// envelope with HTTP 200, per the propagation policy.
func (h *Handler) Withdraw(c *gin.Context) {
	ctx := c.Request.Context()

	cardID, err := strconv.ParseInt(c.Query("card_id"), 10, 64)
	if err != nil || cardID <= 0 {
		c.JSON(http.StatusOK, errorEnvelope("card_id must be a positive integer"))
		return
	}
	p := c.Query("p")
	cHex := c.Query("c")

	auth, err := h.tapAuth.AuthenticateTap(ctx, cardID, p, cHex)
	if err != nil {
		c.JSON(http.StatusOK, errorEnvelope(reasonOf(err)))
		return
	}
	h.publishTapEvent(ctx, cardID, auth.UID, auth.Counter, apierr.Kind("OK"))

	req, err := h.sessions.CreateSession(ctx, auth)
	if err != nil {
		c.JSON(http.StatusOK, errorEnvelope(reasonOf(err)))
		return
	}

	c.JSON(http.StatusOK, req)
}

// withdrawCallbackQuery is the §6 request shape for GET /ln/callback.
type withdrawCallbackQuery struct {
	K1 string `form:"k1" binding:"required"`
	PR string `form:"pr" binding:"required"`
}

// WithdrawCallback handles GET /ln/callback: the terminal presents the
// invoice it wants paid against an already-issued session.
func (h *Handler) WithdrawCallback(c *gin.Context) {
	ctx := c.Request.Context()

	var q withdrawCallbackQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusOK, errorEnvelope("k1 and pr are required"))
		return
	}

	result, err := h.sessions.CompleteWithdraw(ctx, q.K1, q.PR)
	if err != nil {
		h.publishSettlement(ctx, result, reasonOf(err))
		c.JSON(http.StatusOK, errorEnvelope(reasonOf(err)))
		return
	}

	h.publishSettlement(ctx, result, string(lnd.PaymentSucceeded))
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (h *Handler) publishTapEvent(ctx context.Context, cardID int64, uid string, counter uint32, kind apierr.Kind) {
	if h.queue == nil {
		return
	}
	msg := &queue.TapEventMessage{CardID: cardID, UID: uid, Counter: counter, Kind: string(kind)}
	data, err := msg.ToJSON()
	if err != nil {
		logger.Error("failed to serialize tap event", zap.Error(err))
		return
	}
	if _, err := h.queue.Publish(ctx, tapEventStream, data); err != nil {
		logger.Error("failed to publish tap event", zap.Int64("card_id", cardID), zap.Error(err))
	}
}

// publishSettlement emits an audit record for a completed callback. result
// is nil whenever the callback failed before an invoice was bound to the
// session (unknown or expired k1, a rejected invoice or limit, a held
// settlement lock, or a lost bind); there is nothing to audit in that case.
func (h *Handler) publishSettlement(ctx context.Context, result *lnurlw.SettlementResult, status string) {
	if h.queue == nil || result == nil {
		return
	}
	msg := &queue.SettlementMessage{
		CardID:      result.CardID,
		PaymentID:   result.PaymentID,
		AmountMsats: result.AmountMsats,
		Status:      status,
	}
	if result.Payment != nil {
		msg.Preimage = result.Payment.Preimage
	}
	data, err := msg.ToJSON()
	if err != nil {
		logger.Error("failed to serialize settlement", zap.Error(err))
		return
	}
	if _, err := h.queue.Publish(ctx, settlementStream, data); err != nil {
		logger.Error("failed to publish settlement", zap.Int64("payment_id", result.PaymentID), zap.Error(err))
	}
}
