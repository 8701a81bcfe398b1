package api

import (
	"net/http"

	models "PricePulse/internal/domain/models"
	"PricePulse/internal/service/ratelimit"
	"PricePulse/internal/usecase"
	xhttp "PricePulse/pkg/http"
	xlogger "PricePulse/pkg/logger"
	xutil "PricePulse/pkg/util"

	"github.com/labstack/echo/v4"
)

var errRateLimited = xhttp.NewAppError("ERR_RATE_LIMITED", "", "rate limited", http.StatusTooManyRequests)

// PricingEchoHandler exposes the pipeline's read surface and the run trigger.
type PricingEchoHandler struct {
	logger *xlogger.Logger
	recos  *usecase.RecoUseCase
	rl     *ratelimit.Limiter
}

func NewPricingEchoHandler(logger *xlogger.Logger, recos *usecase.RecoUseCase) *PricingEchoHandler {
	return &PricingEchoHandler{logger: logger, recos: recos, rl: ratelimit.New()}
}

func (h *PricingEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/price-reco/:sku", h.Reco)
	g.GET("/alerts", h.Alerts)
	g.GET("/runs/:date", h.Run)
	g.POST("/runs", h.TriggerRun)
}

// RecoResponse is the recommendation row as stored, surfaced unchanged.
type RecoResponse struct {
	SKU            string  `json:"sku"`
	Date           string  `json:"date"`
	Price          float64 `json:"price"`
	ExpectedQty    float64 `json:"expected_qty"`
	ExpectedProfit float64 `json:"expected_profit"`
	Explain        string  `json:"explain"`
	ModelVer       string  `json:"model_ver"`
}

func (h *PricingEchoHandler) Reco(c echo.Context) error {
	req := &models.RecoRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":reco", 20, 10) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	reco, err := h.recos.GetReco(c.Request().Context(), req.SKU)
	if err != nil {
		h.logger.Error("reco usecase error", xlogger.String("sku", req.SKU), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if reco == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no recommendation for sku %s", req.SKU))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, &RecoResponse{
		SKU:            reco.SKU,
		Date:           xutil.FormatDate(reco.Date),
		Price:          reco.Price,
		ExpectedQty:    reco.ExpectedQty,
		ExpectedProfit: reco.ExpectedProfit,
		Explain:        reco.Explain,
		ModelVer:       reco.ModelVer,
	})
}

func (h *PricingEchoHandler) Alerts(c echo.Context) error {
	req := &models.AlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":alerts", 20, 10) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	alerts, err := h.recos.GetAlerts(c.Request().Context(), req.SKU, req.Limit)
	if err != nil {
		h.logger.Error("alerts usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, alerts, int64(len(alerts)))
}

func (h *PricingEchoHandler) Run(c echo.Context) error {
	req := &models.RunSummaryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, err := xutil.ParseDate(req.Date)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("date must be YYYY-MM-DD"))
	}

	summary, err := h.recos.GetRun(c.Request().Context(), date)
	if err != nil {
		h.logger.Error("run usecase error", xlogger.String("date", req.Date), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if summary == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no run for date %s", req.Date))
	}
	return xhttp.SuccessResponse(c, summary)
}

func (h *PricingEchoHandler) TriggerRun(c echo.Context) error {
	req := &models.RunTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":trigger", 3, 1) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	runReq := &models.RunRequest{SKUs: req.SKUs}
	if req.Date != "" {
		date, err := xutil.ParseDate(req.Date)
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("date must be YYYY-MM-DD"))
		}
		runReq.Date = date
	}

	if err := h.recos.TriggerRun(c.Request().Context(), runReq); err != nil {
		h.logger.Error("trigger run error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, map[string]interface{}{
		"enqueued": true,
		"date":     req.Date,
		"skus":     len(req.SKUs),
	})
}
