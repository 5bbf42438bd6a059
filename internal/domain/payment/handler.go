package payment

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

const maxWebhookBody = 64 << 10

type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes mounts the payment API on api. The gateway webhook and the
// browser redirects go on public, which must not carry authentication
// middleware: the gateway sends the customer back without a token.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RolePatient))
	readGroup.POST("/transactions/create-payment/:bill_id", h.CreatePaymentLink)
	readGroup.GET("/transactions/payment-info/:order_code", h.GetPaymentInfo)
	readGroup.GET("/bills/:id/transactions", h.ListTransactions)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	writeGroup.POST("/transactions/cash-payment/:bill_id", h.CashPayment)
	writeGroup.POST("/transactions/cancel-payment/:order_code", h.CancelPayment)

	public.POST("/transactions/webhook", h.Webhook, echomw.BodyLimit("64K"))
	public.GET("/transactions/:order_code/success", h.PaymentSuccess)
	public.GET("/transactions/:order_code/cancel", h.PaymentCancel)
}

func parseInt64Param(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) CreatePaymentLink(c echo.Context) error {
	billID, err := parseInt64Param(c, "bill_id")
	if err != nil {
		return err
	}
	link, err := h.orch.CreatePaymentLink(c.Request().Context(), billID, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, link)
}

func (h *Handler) CashPayment(c echo.Context) error {
	billID, err := parseInt64Param(c, "bill_id")
	if err != nil {
		return err
	}
	txn, err := h.orch.ProcessCashPayment(c.Request().Context(), billID, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "cash payment recorded",
		"transaction": txn,
	})
}

func (h *Handler) GetPaymentInfo(c echo.Context) error {
	code, err := parseInt64Param(c, "order_code")
	if err != nil {
		return err
	}
	info, err := h.orch.GetPaymentInfo(c.Request().Context(), code)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) CancelPayment(c echo.Context) error {
	code, err := parseInt64Param(c, "order_code")
	if err != nil {
		return err
	}
	info, err := h.orch.CancelPayment(c.Request().Context(), code, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) PaymentSuccess(c echo.Context) error {
	code, err := parseInt64Param(c, "order_code")
	if err != nil {
		return err
	}
	out, err := h.orch.HandlePaymentSuccess(c.Request().Context(), code, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) PaymentCancel(c echo.Context) error {
	code, err := parseInt64Param(c, "order_code")
	if err != nil {
		return err
	}
	out, err := h.orch.HandlePaymentCancel(c.Request().Context(), code, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	billID, err := parseInt64Param(c, "id")
	if err != nil {
		return err
	}
	txns, err := h.orch.ListTransactions(c.Request().Context(), billID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, txns)
}

// Webhook receives gateway notifications. Any 2xx stops the gateway from
// retrying, so only authentication and storage failures return an error.
func (h *Handler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	out, err := h.orch.HandlePaymentCallback(c.Request().Context(), payload)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"applied": out.Applied,
	})
}
