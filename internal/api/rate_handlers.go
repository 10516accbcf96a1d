package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"pisowifi-backend/internal/models"
)

// listRatesHandler handles GET /api/rates
func listRatesHandler(c echo.Context) error {
	rates, err := rateRepo.List()
	if err != nil {
		c.Logger().Error("list rates error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list rates"})
	}
	if rates == nil {
		rates = []*models.Rate{}
	}
	return c.JSON(http.StatusOK, rates)
}

// createRateHandler handles POST /api/rates
func createRateHandler(c echo.Context) error {
	var rate models.Rate
	if err := c.Bind(&rate); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if rate.Pesos <= 0 || rate.Minutes <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "pesos and minutes must be positive"})
	}

	if err := rateRepo.Create(&rate); err != nil {
		c.Logger().Error("create rate error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create rate"})
	}

	logAdminRateChange(c, "create", &rate)
	return c.JSON(http.StatusCreated, rate)
}

// updateRateHandler handles PUT /api/rates/:id
func updateRateHandler(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid rate id"})
	}

	var rate models.Rate
	if err := c.Bind(&rate); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if rate.Pesos <= 0 || rate.Minutes <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "pesos and minutes must be positive"})
	}
	rate.ID = id

	if err := rateRepo.Update(&rate); err != nil {
		if rateRepoNotFound(err) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "rate not found"})
		}
		c.Logger().Error("update rate error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update rate"})
	}

	logAdminRateChange(c, "update", &rate)
	return c.JSON(http.StatusOK, rate)
}

// deleteRateHandler handles DELETE /api/rates/:id
func deleteRateHandler(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid rate id"})
	}

	if err := rateRepo.Delete(id); err != nil {
		if rateRepoNotFound(err) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "rate not found"})
		}
		c.Logger().Error("delete rate error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete rate"})
	}

	auditRepo.Log(models.AuditRateChange, "", "", c.RealIP(), map[string]interface{}{
		"op": "delete", "id": id,
	})
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func logAdminRateChange(c echo.Context, op string, rate *models.Rate) {
	details := map[string]interface{}{
		"op":      op,
		"pesos":   rate.Pesos,
		"minutes": rate.Minutes,
	}
	if admin := adminFromContext(c); admin != nil {
		details["admin"] = admin.Username
	}
	auditRepo.Log(models.AuditRateChange, "", "", c.RealIP(), details)
}
