package api

import (
	"net/http"
	"strconv"

	"counseling-service/internal/apperror"
	"counseling-service/internal/service"

	"github.com/gin-gonic/gin"
)

// createSlot handles POST /slots
func (h *Handler) createSlot(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req service.CreateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.BadRequest("invalid request body: %v", err))
		return
	}

	slot, err := h.slots.Create(c.Request.Context(), caller, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (h *Handler) getSlot(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	slot, err := h.slots.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

// listCounselorSlots handles GET /counselors/:id/slots?available=true
func (h *Handler) listCounselorSlots(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	availableOnly := false
	if raw := c.Query("available"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(c, apperror.BadRequest("invalid available flag %q", raw))
			return
		}
		availableOnly = v
	}

	slots, err := h.slots.ListByProvider(c.Request.Context(), id, availableOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slots)
}

func (h *Handler) deleteSlot(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	if err := h.slots.Delete(c.Request.Context(), caller, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
