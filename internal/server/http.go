// Package server exposes the trade engine over HTTP (gin) and a gRPC
// health endpoint. All amounts travel as integer base units; responses
// carry display-precision strings alongside.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"CurveDesk/internal/accumulator"
	"CurveDesk/internal/engine"
	"CurveDesk/internal/fees"
	fpmath "CurveDesk/internal/math"
	"CurveDesk/internal/observability"
	"CurveDesk/internal/persistence"
	"CurveDesk/internal/state"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPServer wires the engine, accumulator and settlement history into a
// gin router. History may be nil when the service runs without Postgres.
type HTTPServer struct {
	eng     *engine.Engine
	burner  *accumulator.Accumulator
	history *persistence.HistoryService
	feeCfg  *fees.Manager
	health  *observability.HealthChecker
	log     zerolog.Logger
}

func NewHTTPServer(
	eng *engine.Engine,
	burner *accumulator.Accumulator,
	history *persistence.HistoryService,
	feeCfg *fees.Manager,
	health *observability.HealthChecker,
	log zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		eng:     eng,
		burner:  burner,
		history: history,
		feeCfg:  feeCfg,
		health:  health,
		log:     log,
	}
}

func (s *HTTPServer) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))

	v1 := r.Group("/v1")

	v1.POST("/buy", s.handleBuy)
	v1.POST("/sell", s.handleSell)
	v1.POST("/deposit", s.handleDeposit)
	v1.POST("/harvest", s.handleHarvest)
	v1.POST("/burn/flush", s.handleBurnFlush)

	v1.GET("/quote/buy", s.handleQuote(false))
	v1.GET("/quote/sell", s.handleQuote(true))
	v1.GET("/burn/pending", s.handleBurnPending)
	v1.GET("/fees", s.handleFeeConfig)
	v1.GET("/balance/:user/:symbol", s.handleBalance)
	v1.GET("/settlements", s.handleSettlements)
	v1.GET("/settlements/:ref", s.handleSettlementByRef)

	return r
}

// Run serves the router until ctx is cancelled, then drains in-flight
// requests with a bounded grace period.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type tradeBody struct {
	Trader     string `json:"trader" binding:"required"`
	Recipient  string `json:"recipient"`
	Referrer   string `json:"referrer"`
	Amount     int64  `json:"amount" binding:"required"`
	MinOutput  int64  `json:"min_output"`
	PriceLimit int64  `json:"price_limit"`
	Harvest    bool   `json:"harvest"`
}

type settlementResponse struct {
	TradeID        string       `json:"trade_id"`
	Sequence       int64        `json:"sequence"`
	Side           string       `json:"side"`
	GrossInput     int64        `json:"gross_input"`
	Fee            int64        `json:"fee"`
	NetInput       int64        `json:"net_input"`
	Output         int64        `json:"output"`
	OutputDisplay  string       `json:"output_display"`
	FeeDisplay     string       `json:"fee_display"`
	Redirected     int64        `json:"redirected,omitempty"`
	BurnDeposited  bool         `json:"burn_deposited"`
	PrePrice       string       `json:"pre_price"`
	PostPrice      string       `json:"post_price"`
	EffectivePrice string       `json:"effective_price"`
	Harvest        *harvestBody `json:"harvest,omitempty"`
}

type harvestBody struct {
	HarvestID   string `json:"harvest_id"`
	Sequence    int64  `json:"sequence,omitempty"`
	Accrued     int64  `json:"accrued"`
	CreatorFee  int64  `json:"creator_fee"`
	ProtocolFee int64  `json:"protocol_fee"`
}

func (s *HTTPServer) handleBuy(c *gin.Context)  { s.handleTrade(c, false) }
func (s *HTTPServer) handleSell(c *gin.Context) { s.handleTrade(c, true) }

func (s *HTTPServer) handleTrade(c *gin.Context, sell bool) {
	var body tradeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := body.toRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		stl     *engine.Settlement
		outcome *engine.HarvestOutcome
	)
	switch {
	case body.Harvest && sell:
		stl, outcome, err = s.eng.SellAndHarvest(c.Request.Context(), req)
	case body.Harvest:
		stl, outcome, err = s.eng.BuyAndHarvest(c.Request.Context(), req)
	case sell:
		stl, err = s.eng.Sell(c.Request.Context(), req)
	default:
		stl, err = s.eng.Buy(c.Request.Context(), req)
	}
	if err != nil && stl == nil {
		c.JSON(tradeStatus(err), gin.H{"error": err.Error()})
		return
	}

	resp := toSettlementResponse(stl)
	if outcome != nil {
		resp.Harvest = toHarvestBody(outcome)
	}
	if err != nil {
		// Trade settled but the attached harvest failed.
		c.JSON(http.StatusOK, gin.H{"settlement": resp, "harvest_error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (b tradeBody) toRequest() (engine.TradeRequest, error) {
	trader, err := uuid.Parse(b.Trader)
	if err != nil {
		return engine.TradeRequest{}, errors.New("invalid trader id")
	}
	recipient := trader
	if b.Recipient != "" {
		if recipient, err = uuid.Parse(b.Recipient); err != nil {
			return engine.TradeRequest{}, errors.New("invalid recipient id")
		}
	}
	req := engine.TradeRequest{
		Trader:     trader,
		Recipient:  recipient,
		Amount:     b.Amount,
		MinOutput:  b.MinOutput,
		PriceLimit: b.PriceLimit,
	}
	if b.Referrer != "" {
		ref, err := uuid.Parse(b.Referrer)
		if err != nil {
			return engine.TradeRequest{}, errors.New("invalid referrer id")
		}
		req.Referrer = &ref
	}
	return req, nil
}

func tradeStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrSlippage):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrAmountZero),
		errors.Is(err, engine.ErrBelowMinimum),
		errors.Is(err, engine.ErrZeroRecipient):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func toSettlementResponse(stl *engine.Settlement) settlementResponse {
	side := "buy"
	if stl.Sell {
		side = "sell"
	}
	return settlementResponse{
		TradeID:        stl.TradeID.String(),
		Sequence:       stl.Sequence,
		Side:           side,
		GrossInput:     stl.GrossInput,
		Fee:            stl.Fee,
		NetInput:       stl.NetInput,
		Output:         stl.Output,
		OutputDisplay:  displayAmount(stl.Output),
		FeeDisplay:     displayAmount(stl.Fee),
		Redirected:     stl.Redirected,
		BurnDeposited:  stl.BurnDeposited,
		PrePrice:       displayPrice(stl.PrePrice),
		PostPrice:      displayPrice(stl.PostPrice),
		EffectivePrice: displayPrice(stl.EffectivePrice),
	}
}

func toHarvestBody(h *engine.HarvestOutcome) *harvestBody {
	return &harvestBody{
		HarvestID:   h.HarvestID.String(),
		Sequence:    h.Sequence,
		Accrued:     h.Accrued,
		CreatorFee:  h.CreatorFee,
		ProtocolFee: h.ProtocolFee,
	}
}

type depositBody struct {
	User   string `json:"user" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
}

func (s *HTTPServer) handleDeposit(c *gin.Context) {
	var body depositBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := uuid.Parse(body.User)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := s.eng.Deposit(user, body.Symbol, body.Amount); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":         s.eng.Balance(user, body.Symbol),
		"balance_display": displayAmount(s.eng.Balance(user, body.Symbol)),
	})
}

func (s *HTTPServer) handleHarvest(c *gin.Context) {
	outcome, err := s.eng.Harvest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toHarvestBody(outcome))
}

func (s *HTTPServer) handleBurnFlush(c *gin.Context) {
	if s.burner == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "burn accumulator not configured"})
		return
	}
	err := s.burner.Flush(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"pending": s.burner.PendingBalance()})
	case errors.Is(err, accumulator.ErrSlippageFloor):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "pending": s.burner.PendingBalance()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (s *HTTPServer) handleQuote(sell bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
		if err != nil || amount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive integer"})
			return
		}
		var q *engine.Quote
		if sell {
			q, err = s.eng.QuoteSell(c.Request.Context(), amount)
		} else {
			q, err = s.eng.QuoteBuy(c.Request.Context(), amount)
		}
		if err != nil {
			c.JSON(tradeStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"fee_rate_bps":             q.FeeRateBps,
			"fee":                      q.Fee,
			"net":                      q.Net,
			"estimated_output":         q.EstimatedOutput,
			"estimated_output_display": displayAmount(q.EstimatedOutput),
			"estimated_post_price":     displayPrice(q.EstimatedPostPrice),
		})
	}
}

func (s *HTTPServer) handleBurnPending(c *gin.Context) {
	if s.burner == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "burn accumulator not configured"})
		return
	}
	pending := s.burner.PendingBalance()
	c.JSON(http.StatusOK, gin.H{
		"pending":         pending,
		"pending_display": displayAmount(pending),
	})
}

func (s *HTTPServer) handleFeeConfig(c *gin.Context) {
	cfg := s.feeCfg.Current()
	c.JSON(http.StatusOK, gin.H{
		"total_fee_bps":        cfg.TotalFeeBps,
		"creator_share_bps":    cfg.CreatorShareBps,
		"burn_share_bps":       cfg.BurnShareBps,
		"protocol_share_bps":   cfg.ProtocolShareBps,
		"referrer_share_bps":   cfg.ReferrerShareBps,
		"min_order_size":       cfg.MinOrderSize,
		"slippage_ceiling_bps": cfg.SlippageCeilingBps,
		"auto_flush_threshold": cfg.AutoFlushThreshold,
	})
}

func (s *HTTPServer) handleBalance(c *gin.Context) {
	user, err := uuid.Parse(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	balance := s.eng.Balance(user, c.Param("symbol"))
	c.JSON(http.StatusOK, gin.H{
		"balance":         balance,
		"balance_display": displayAmount(balance),
	})
}

func (s *HTTPServer) handleSettlements(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement history not available"})
		return
	}
	var beforeSeq int64
	if v := c.Query("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		beforeSeq = n
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(c.Request.Context(), c.Query("event_type"), beforeSeq, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("settlement history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": entries})
}

func (s *HTTPServer) handleSettlementByRef(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement history not available"})
		return
	}
	entry, err := s.history.ByRef(c.Request.Context(), c.Param("ref"))
	if err != nil {
		s.log.Error().Err(err).Msg("settlement lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// displayAmount renders base units at token precision, e.g. 1_500_000_000
// as "1.5".
func displayAmount(v int64) string {
	return decimal.New(v, -int32(fpmath.AmountConfig.DecimalPrecision)).String()
}

func displayPrice(v int64) string {
	return decimal.New(v, -int32(fpmath.PriceConfig.DecimalPrecision)).String()
}
