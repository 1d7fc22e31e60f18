package api

import (
	"errors"
	"io"
	"net/http"

	"tool-rental-service/internal/models"
	"tool-rental-service/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// quote prices a rental for the calendar widget
func (h *Handler) quote(c *gin.Context) {
	start, end, ok := h.dateRange(c)
	if !ok {
		return
	}
	q, err := h.bookings.QuoteBooking(c.Request.Context(), c.Param("slug"), start, end)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// checkAvailability handles GET /availability/:toolId?start=&end=
func (h *Handler) checkAvailability(c *gin.Context) {
	start, end, ok := h.dateRange(c)
	if !ok {
		return
	}
	available, err := h.availability.CheckAvailability(c.Request.Context(), c.Param("toolId"), start, end)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available})
}

// bookedDates returns live ranges for calendar display
func (h *Handler) bookedDates(c *gin.Context) {
	ranges, err := h.availability.BookedRanges(c.Request.Context(), c.Param("toolId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranges": ranges})
}

// createBooking handles booking creation
func (h *Handler) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
			"code":    "invalid_request",
		})
		return
	}
	if req.Customer.Name == "" || req.Customer.Email == "" || req.Customer.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Customer name, email and phone are required",
			"code":  "invalid_request",
		})
		return
	}

	resp, err := h.bookings.CreateBookingAndPaymentIntent(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// getBookingStatus handles GET /bookings/:id/status
func (h *Handler) getBookingStatus(c *gin.Context) {
	status, err := h.bookings.GetBookingStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// myBookings lists the caller's bookings
func (h *Handler) myBookings(c *gin.Context) {
	bookings, err := h.bookings.ListMyBookings(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

// paymentWebhook verifies and applies a payment provider event. Only a bad
// signature or a transient failure is reported back as an error.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large", "code": "payload_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body", "code": "invalid_request"})
		return
	}

	if err := h.bookings.HandlePaymentWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.bookings.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) listBookings(c *gin.Context) {
	var status *models.BookingStatus
	if v := c.Query("status"); v != "" {
		st, err := models.ParseBookingStatus(v)
		if err != nil {
			h.writeError(c, err)
			return
		}
		status = &st
	}

	bookings, err := h.bookings.ListBookings(c.Request.Context(), status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *Handler) getBooking(c *gin.Context) {
	booking, err := h.bookings.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) cancelBooking(c *gin.Context) {
	booking, err := h.bookings.CancelBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) completeBooking(c *gin.Context) {
	booking, err := h.bookings.CompleteBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) resendConfirmation(c *gin.Context) {
	if err := h.bookings.ResendConfirmation(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

func (h *Handler) retryAccessCode(c *gin.Context) {
	booking, err := h.bookings.RetryAccessCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}
