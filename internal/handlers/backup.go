package handlers

import (
	"errors"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/stocklot/backend/internal/models"
	"github.com/stocklot/backend/internal/services"
	"go.uber.org/zap"
)

// maskedPassword is what the API shows instead of the stored FTP password.
const maskedPassword = "********"

// BackupHandler exposes the backup engine to the admin UI. Authentication is
// the host application's concern; these routes are mounted behind it.
type BackupHandler struct {
	store     *services.ScheduleStore
	ledger    *services.HistoryLedger
	executor  *services.Executor
	scheduler *services.Scheduler
	artifacts *services.DumpStore
	logger    *zap.Logger
}

func NewBackupHandler(store *services.ScheduleStore, ledger *services.HistoryLedger, executor *services.Executor, scheduler *services.Scheduler, artifacts *services.DumpStore, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{
		store:     store,
		ledger:    ledger,
		executor:  executor,
		scheduler: scheduler,
		artifacts: artifacts,
		logger:    logger,
	}
}

// Register mounts the backup routes on the given router group.
func (h *BackupHandler) Register(r fiber.Router) {
	r.Get("/schedule", h.GetSchedule)
	r.Put("/schedule", h.UpdateSchedule)
	r.Get("/history", h.ListHistory)
	r.Post("/run", h.RunNow)
	r.Get("/files", h.ListBackups)
	r.Get("/files/:filename/download", h.Download)
	r.Delete("/files/:filename", h.Delete)
	r.Post("/files/:filename/restore", h.Restore)
	r.Post("/ftp/test", h.TestFTP)
}

func maskSchedule(s *models.BackupSchedule) *models.BackupSchedule {
	out := *s
	if out.FTPPassword != "" {
		out.FTPPassword = maskedPassword
	}
	return &out
}

// GetSchedule returns the singleton backup schedule.
func (h *BackupHandler) GetSchedule(c *fiber.Ctx) error {
	schedule, err := h.store.Config(c.Context())
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Backup schedule not configured",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    maskSchedule(schedule),
		"running": h.scheduler.Running(),
	})
}

// UpdateSchedule applies a partial update to the schedule. Only provided
// fields change; the scheduler is stopped or restarted as needed.
func (h *BackupHandler) UpdateSchedule(c *fiber.Ctx) error {
	var update services.ScheduleUpdate
	if err := c.BodyParser(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	// A masked password means "keep the stored one"
	if update.FTPPassword != nil && *update.FTPPassword == maskedPassword {
		update.FTPPassword = nil
	}

	schedule, changed, err := h.store.Update(c.Context(), update)
	if err != nil {
		if errors.Is(err, services.ErrNoSchedule) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Backup schedule not configured",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to update schedule",
		})
	}
	if !changed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "No recognized fields supplied",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Schedule updated successfully",
		"data":    maskSchedule(schedule),
	})
}

// ListHistory returns the most recent backup attempts, newest first.
func (h *BackupHandler) ListHistory(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	entries := h.ledger.Recent(c.Context(), limit)
	return c.JSON(fiber.Map{
		"success": true,
		"data":    entries,
	})
}

// RunNowRequest is the manual backup request body.
type RunNowRequest struct {
	CreatedBy   string `json:"created_by"`
	Description string `json:"description"`
}

// RunNow triggers a manual backup cycle and reports its outcome
// synchronously, unlike the automatic path.
func (h *BackupHandler) RunNow(c *fiber.Ctx) error {
	var req RunNowRequest
	if err := c.BodyParser(&req); err != nil {
		req = RunNowRequest{}
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "admin"
	}
	if req.Description == "" {
		req.Description = "manual backup"
	}

	entry, err := h.executor.RunCycle(c.Context(), models.BackupTypeManual, req.CreatedBy, req.Description)
	if err != nil {
		if errors.Is(err, services.ErrCycleInFlight) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"message": "A backup is already running",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Backup failed: " + err.Error(),
			"data":    entry,
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backup completed successfully",
		"data":    entry,
	})
}

// ListBackups returns all backup artifacts, newest first.
func (h *BackupHandler) ListBackups(c *fiber.Ctx) error {
	artifacts, err := h.artifacts.List(c.Context())
	if err != nil {
		return c.JSON(fiber.Map{
			"success": true,
			"data":    []services.ArtifactInfo{},
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    artifacts,
	})
}

// Download streams a backup artifact.
func (h *BackupHandler) Download(c *fiber.Ctx) error {
	filename := c.Params("filename")
	if filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Filename is required",
		})
	}

	path := h.artifacts.Path(filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Backup not found",
		})
	}
	return c.Download(path, filename)
}

// Delete removes a backup artifact.
func (h *BackupHandler) Delete(c *fiber.Ctx) error {
	filename := c.Params("filename")
	if filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Filename is required",
		})
	}

	if err := h.artifacts.Delete(c.Context(), filename); err != nil {
		if errors.Is(err, services.ErrNoArtifact) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Backup not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to delete backup",
		})
	}

	h.logger.Info("backup deleted via admin API", zap.String("filename", filename))
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backup deleted successfully",
	})
}

// Restore restores the database from a backup artifact.
func (h *BackupHandler) Restore(c *fiber.Ctx) error {
	filename := c.Params("filename")
	if filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Filename is required",
		})
	}

	if err := h.artifacts.Restore(c.Context(), filename); err != nil {
		if errors.Is(err, services.ErrNoArtifact) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Backup not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to restore backup: " + err.Error(),
		})
	}

	h.logger.Info("database restored from backup", zap.String("filename", filename))
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backup restored successfully",
	})
}

// TestFTPRequest is the FTP connection test body.
type TestFTPRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Path     string `json:"path"`
}

// TestFTP verifies FTP mirror credentials without saving them.
func (h *BackupHandler) TestFTP(c *fiber.Ctx) error {
	var req TestFTPRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request",
		})
	}
	if req.Port == 0 {
		req.Port = 21
	}

	if err := services.TestFTPConnection(req.Host, req.Port, req.Username, req.Password, req.Path); err != nil {
		return c.JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "FTP connection successful",
	})
}
