package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/matcher"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/models"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.LoginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		token, user, err := models.Login(c.Request.Context(), input)
		if err != nil {
			if errors.Is(err, models.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

func listDetectionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := models.DetectionStatus(c.DefaultQuery("status", string(models.DetectionStatusPending)))
		switch status {
		case models.DetectionStatusPending, models.DetectionStatusVerified, models.DetectionStatusIgnored:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		detections, err := models.GetDetectionsByStatus(c.Request.Context(), status, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"detections": detections})
	}
}

func createDetectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPaymentDetection
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		detection, err := models.CreatePaymentDetection(c.Request.Context(), input)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"detection": detection})
	}
}

func detectionCandidatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		detection, err := models.GetPaymentDetection(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "detection not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		orders, err := models.GetCandidateOrders(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		candidates := matcher.Match(detection, orders)
		c.JSON(http.StatusOK, gin.H{
			"detection":  detection,
			"candidates": candidates,
		})
	}
}

type verifyDetectionRequest struct {
	OrderId string `json:"orderId" binding:"required"`
}

func verifyDetectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if autoWorker == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service starting"})
			return
		}
		var req verifyDetectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
			return
		}
		actor, _ := utils.GetUserNameFromContext(c.Request.Context())
		if actor == "" {
			actor = "operator"
		}

		ctx, span := tracer.Start(c.Request.Context(), "detection.verify")
		defer span.End()

		result, err := autoWorker.ExecuteManual(ctx, c.Param("id"), req.OrderId, actor)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDetectionAlreadyDecided):
				c.JSON(http.StatusConflict, gin.H{"error": "detection already decided"})
			case errors.Is(err, utils.ErrorRecordNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result})
	}
}

type ignoreDetectionRequest struct {
	Reason string `json:"reason"`
}

func ignoreDetectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ignoreDetectionRequest
		_ = c.ShouldBindJSON(&req)
		actor, _ := utils.GetUserNameFromContext(c.Request.Context())

		detection, err := models.IgnoreDetection(c.Request.Context(), c.Param("id"), actor, req.Reason)
		if err != nil {
			if errors.Is(err, models.ErrDetectionAlreadyDecided) {
				c.JSON(http.StatusConflict, gin.H{"error": "detection already decided"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"detection": detection})
	}
}

func getSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := models.GetSettings(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": settings})
	}
}

func updateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.UpdateSettingsInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor, _ := utils.GetUserNameFromContext(c.Request.Context())

		settings, err := models.UpdateSettings(c.Request.Context(), input, actor)
		if err != nil {
			var verr validator.ValidationErrors
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": settings})
	}
}

func listLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.LogStatus
		if s := c.Query("status"); s != "" {
			parsed := models.LogStatus(s)
			switch parsed {
			case models.LogStatusSuccess, models.LogStatusFailed, models.LogStatusDryRun:
				status = &parsed
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		logs, err := models.GetLogs(c.Request.Context(), status, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}

func todayLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := models.GetTodayLogs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}

func logStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := models.GetLogStats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": stats})
	}
}

func exportLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := models.ExportLogsExcel(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		fileName := models.ExportFileName(time.Now())
		c.Header("Content-Description", "File Transfer")
		c.Header("Content-Disposition", "attachment; filename="+fileName)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "exportLogsHandler", "write workbook", nil, err)
		}
	}
}

func deleteLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log id"})
			return
		}
		if err := models.DeleteLog(c.Request.Context(), uint(id)); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "log not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}

func deleteAllLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := models.DeleteAllLogs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": count})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}
