package api

import (
	"net/http"

	"tool-rental-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// listTools handles GET /tools?category=slug
func (h *Handler) listTools(c *gin.Context) {
	tools, err := h.catalog.ListTools(c.Request.Context(), c.Query("category"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

func (h *Handler) featuredTools(c *gin.Context) {
	tools, err := h.catalog.FeaturedTools(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

func (h *Handler) getTool(c *gin.Context) {
	tool, err := h.catalog.GetTool(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tool)
}

func (h *Handler) adminGetTool(c *gin.Context) {
	tool, err := h.catalog.GetToolByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tool)
}

func (h *Handler) createTool(c *gin.Context) {
	var in service.ToolInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
			"code":    "invalid_request",
		})
		return
	}

	tool, err := h.catalog.CreateTool(c.Request.Context(), &in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tool)
}

func (h *Handler) updateTool(c *gin.Context) {
	var in service.ToolInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
			"code":    "invalid_request",
		})
		return
	}

	tool, err := h.catalog.UpdateTool(c.Request.Context(), c.Param("id"), &in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tool)
}

func (h *Handler) setFeatured(c *gin.Context) {
	var body struct {
		Featured *bool `json:"featured" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
			"code":    "invalid_request",
		})
		return
	}

	if err := h.catalog.SetFeatured(c.Request.Context(), c.Param("id"), *body.Featured); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"featured": *body.Featured})
}

// deleteTool soft deletes; tools with active bookings return 409
func (h *Handler) deleteTool(c *gin.Context) {
	if err := h.catalog.DeleteTool(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
