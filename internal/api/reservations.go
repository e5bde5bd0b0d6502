package api

import (
	"net/http"
	"strconv"

	"counseling-service/internal/apperror"
	"counseling-service/internal/service"

	"github.com/gin-gonic/gin"
)

// createReservation handles POST /reservations
func (h *Handler) createReservation(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req service.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.BadRequest("invalid request body: %v", err))
		return
	}

	reservation, err := h.reservations.Create(c.Request.Context(), caller, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) getReservation(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	reservation, err := h.reservations.Get(c.Request.Context(), caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) listMyReservations(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	reservations, err := h.reservations.ListMine(c.Request.Context(), caller, c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

// listCounselorReservations handles GET /reservations/counselor. Admins pass
// providerId; counselors see their own bookings.
func (h *Handler) listCounselorReservations(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var providerID int64
	if raw := c.Query("providerId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(c, apperror.BadRequest("invalid providerId %q", raw))
			return
		}
		providerID = id
	}

	reservations, err := h.reservations.ListForProvider(c.Request.Context(), caller, providerID, c.Query("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

func (h *Handler) cancelReservation(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	reservation, err := h.reservations.Cancel(c.Request.Context(), caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) updateReservationStatus(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	status := c.Query("status")
	if status == "" {
		writeError(c, apperror.BadRequest("status is required"))
		return
	}

	reservation, err := h.reservations.UpdateStatus(c.Request.Context(), caller, id, status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}
