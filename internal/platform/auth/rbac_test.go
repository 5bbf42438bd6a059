package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runRequireRole(userRoles []string, required ...string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(context.Background(), "u", userRoles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := RequireRole(required...)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return rec, err
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runRequireRole([]string{RoleDoctor}, RoleDoctor, RoleReceptionist)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminPassesEverything(t *testing.T) {
	if _, err := runRequireRole([]string{RoleAdmin}, RoleReceptionist); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	_, err := runRequireRole([]string{RolePatient}, RoleReceptionist)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	if _, err := runRequireRole(nil, RolePatient); err == nil {
		t.Error("expected error without roles")
	}
}
