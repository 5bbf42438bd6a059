package billing

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("/bills", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RoleDoctor, auth.RolePatient))
	readGroup.GET("/patient/:patient_id", h.ListBillsByPatient)
	readGroup.GET("/:id", h.GetBill)
	readGroup.GET("/:id/details", h.GetBillDetails)

	writeGroup := api.Group("/bills", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	writeGroup.GET("", h.ListBills)
	writeGroup.POST("", h.CreateBill)
	writeGroup.PATCH("/:id", h.UpdateBill)
	writeGroup.DELETE("/:id", h.DeleteBill)
	writeGroup.POST("/:id/details", h.AddBillDetails)
	writeGroup.PUT("/:id/details", h.ReplaceBillDetails)
}

func parseID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

type detailsRequest struct {
	Details []DetailInput `json:"bill_details"`
}

func (h *Handler) CreateBill(c echo.Context) error {
	var in CreateBillInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.CreateBill(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.GetBillView(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateBill(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var upd BillUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.UpdateBill(c.Request().Context(), id, upd)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBill(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBill(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListBills(c echo.Context) error {
	pg, err := pagination.FromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bills, total, pg, err := h.svc.ListBills(c.Request().Context(), pg.Page, pg.PageSize)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, pg))
}

func (h *Handler) ListBillsByPatient(c echo.Context) error {
	patientID, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	views, err := h.svc.ListBillsByPatient(c.Request().Context(), patientID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) GetBillDetails(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	details, err := h.svc.GetBillDetails(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, details)
}

func (h *Handler) AddBillDetails(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req detailsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.AddBillDetails(c.Request().Context(), id, req.Details)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ReplaceBillDetails(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req detailsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.ReplaceBillDetails(c.Request().Context(), id, req.Details)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}
