package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetSchema returns the schema snapshot of a database, or of the active one.
// GET /v1/schema?database=
func (h *Handler) GetSchema(c echo.Context) error {
	snapshot, err := h.service.GetSchema(c.Request().Context(), c.QueryParam("database"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// ListDatabases lists the registered databases.
// GET /v1/databases
func (h *Handler) ListDatabases(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"databases": h.service.ListDatabases(c.Request().Context()),
	})
}

// ConnectDatabase connects a database and describes it.
// POST /v1/databases/:key/connect
func (h *Handler) ConnectDatabase(c echo.Context) error {
	info, err := h.service.ConnectDatabase(c.Request().Context(), c.Param("key"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// DisconnectDatabase closes a database connection.
// POST /v1/databases/:key/disconnect
func (h *Handler) DisconnectDatabase(c echo.Context) error {
	key := c.Param("key")
	if err := h.service.DisconnectDatabase(c.Request().Context(), key); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"key":    key,
		"status": "disconnected",
	})
}

// SampleData renders the first rows of a table.
// GET /v1/databases/:key/tables/:table/sample?limit=
func (h *Handler) SampleData(c echo.Context) error {
	key, table := c.Param("key"), c.Param("table")
	sample, err := h.service.SampleData(c.Request().Context(), key, table, queryInt(c, "limit", 3))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"database": key,
		"table":    table,
		"sample":   sample,
	})
}
