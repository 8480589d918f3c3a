package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinicore/internal/audit"
	"clinicore/internal/config"
	"clinicore/internal/metrics"
	"clinicore/internal/records"
	"clinicore/internal/snapshot"
	"clinicore/internal/upstream"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Server exposes the record store to the dashboard over HTTP.
type Server struct {
	app       *fiber.App
	config    *config.Config
	store     *records.Store
	upstream  *upstream.Client
	auditor   *audit.Recorder
	snapshots *snapshot.Runner
	logger    *zap.Logger
}

// New creates the API server. auditor and snapshots may be nil; their
// routes answer 503 then.
func New(cfg *config.Config, store *records.Store, up *upstream.Client, auditor *audit.Recorder, snapshots *snapshot.Runner, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	s := &Server{
		app:       app,
		config:    cfg,
		store:     store,
		upstream:  up,
		auditor:   auditor,
		snapshots: snapshots,
		logger:    log,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Middleware
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Server.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.requestMetrics())

	// Health and observability
	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/api/metrics", s.handleMetrics)
	s.app.Get("/api/status", s.handleStatus)

	api := s.app.Group("/api")

	// Patients
	api.Get("/patients", s.handleListPatients)
	api.Post("/patients", s.handleAddPatient)
	api.Get("/patients/search", s.handleSearchPatients)
	api.Get("/patients/:id", s.handleGetPatient)
	api.Put("/patients/:id", s.handleUpdatePatient)
	api.Get("/patients/:id/summary", s.handlePatientSummary)

	// Vital signs
	api.Get("/vitals", s.handleListVitals)
	api.Post("/vitals", s.handleAddVitals)

	// Care plans
	api.Get("/careplans", s.handleListCarePlans)
	api.Post("/careplans", s.handleAddCarePlan)
	api.Put("/careplans/:id", s.handleUpdateCarePlan)
	api.Put("/careplans/:id/tasks/:taskId", s.handleUpdateCarePlanTask)

	// Medications
	api.Get("/medications", s.handleListMedications)
	api.Post("/medications", s.handleAddMedication)

	// Medical history
	api.Get("/history", s.handleListHistory)
	api.Post("/history", s.handleAddHistory)

	// Lab results
	api.Get("/labresults", s.handleListLabResults)
	api.Post("/labresults", s.handleAddLabResult)

	// Audit trail
	api.Get("/audit", s.handleListAudit)

	// Snapshots
	api.Post("/snapshot", s.handleSnapshot)

	// Pass-through to the remote clinical API
	s.app.All("/api/v1/*", s.handleProxy)
}

// requestMetrics records outcome and latency per request and tags each
// response with a request id.
func (s *Server) requestMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Request-Id", uuid.NewString())
		start := time.Now()
		err := c.Next()
		metrics.RecordResponseTime(time.Since(start))
		metrics.RecordHTTPRequest(err == nil && c.Response().StatusCode() < 500)
		return err
	}
}

// Start starts the server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// ==================== Handlers ====================

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   "0.1.0",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/plain; version=0.0.4")
	return c.SendString(metrics.Prometheus())
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"collections": s.store.Counts(),
		"metrics":     metrics.Default().Snapshot(),
	})
}

func (s *Server) handleListPatients(c *fiber.Ctx) error {
	return c.JSON(s.store.Patients())
}

func (s *Server) handleAddPatient(c *fiber.Ctx) error {
	var p records.Patient
	if err := c.BodyParser(&p); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	return c.Status(201).JSON(s.store.AddPatient(p))
}

func (s *Server) handleSearchPatients(c *fiber.Ctx) error {
	return c.JSON(s.store.SearchPatients(c.Query("q")))
}

func (s *Server) handleGetPatient(c *fiber.Ctx) error {
	p := s.store.PatientByID(c.Params("id"))
	if p == nil {
		return c.Status(404).JSON(fiber.Map{"error": "patient not found"})
	}
	return c.JSON(p)
}

func (s *Server) handleUpdatePatient(c *fiber.Ctx) error {
	patch, ok := parsePatch(c)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	id := c.Params("id")
	if s.store.PatientByID(id) == nil {
		return c.Status(404).JSON(fiber.Map{"error": "patient not found"})
	}
	p := s.store.UpdatePatient(id, patch)
	if p == nil {
		// The id exists, so the merge itself rejected the patch.
		return c.Status(400).JSON(fiber.Map{"error": "invalid patch"})
	}
	return c.JSON(p)
}

func (s *Server) handlePatientSummary(c *fiber.Ctx) error {
	summary := s.store.PatientSummary(c.Params("id"))
	if summary == nil {
		return c.Status(404).JSON(fiber.Map{"error": "patient not found"})
	}
	return c.JSON(summary)
}

func (s *Server) handleListVitals(c *fiber.Ctx) error {
	return c.JSON(s.store.VitalSigns(c.Query("patient_id")))
}

func (s *Server) handleAddVitals(c *fiber.Ctx) error {
	var v records.VitalSigns
	if err := c.BodyParser(&v); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	return c.Status(201).JSON(s.store.AddVitalSigns(v))
}

func (s *Server) handleListCarePlans(c *fiber.Ctx) error {
	return c.JSON(s.store.CarePlans(c.Query("patient_id")))
}

func (s *Server) handleAddCarePlan(c *fiber.Ctx) error {
	var p records.CarePlan
	if err := c.BodyParser(&p); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	return c.Status(201).JSON(s.store.AddCarePlan(p))
}

func (s *Server) handleUpdateCarePlan(c *fiber.Ctx) error {
	patch, ok := parsePatch(c)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	id := c.Params("id")
	if s.store.CarePlanByID(id) == nil {
		return c.Status(404).JSON(fiber.Map{"error": "care plan not found"})
	}
	p := s.store.UpdateCarePlan(id, patch)
	if p == nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid patch"})
	}
	return c.JSON(p)
}

func (s *Server) handleUpdateCarePlanTask(c *fiber.Ctx) error {
	patch, ok := parsePatch(c)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	plan := s.store.CarePlanByID(c.Params("id"))
	if plan == nil {
		return c.Status(404).JSON(fiber.Map{"error": "care plan not found"})
	}
	taskID := c.Params("taskId")
	known := false
	for _, task := range plan.Tasks {
		if task.ID == taskID {
			known = true
			break
		}
	}
	if !known {
		return c.Status(404).JSON(fiber.Map{"error": "task not found"})
	}
	p := s.store.UpdateCarePlanTask(c.Params("id"), taskID, patch)
	if p == nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid patch"})
	}
	return c.JSON(p)
}

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	return c.JSON(s.store.Medications(c.Query("patient_id")))
}

func (s *Server) handleAddMedication(c *fiber.Ctx) error {
	var m records.Medication
	if err := c.BodyParser(&m); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	return c.Status(201).JSON(s.store.AddMedication(m))
}

func (s *Server) handleListHistory(c *fiber.Ctx) error {
	return c.JSON(s.store.MedicalHistory(c.Query("patient_id")))
}

func (s *Server) handleAddHistory(c *fiber.Ctx) error {
	var h records.HistoryEntry
	if err := c.BodyParser(&h); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	return c.Status(201).JSON(s.store.AddMedicalHistory(h))
}

func (s *Server) handleListLabResults(c *fiber.Ctx) error {
	return c.JSON(s.store.LabResults(c.Query("patient_id")))
}

func (s *Server) handleAddLabResult(c *fiber.Ctx) error {
	var l records.LabResult
	if err := c.BodyParser(&l); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	return c.Status(201).JSON(s.store.AddLabResult(l))
}

func (s *Server) handleListAudit(c *fiber.Ctx) error {
	if s.auditor == nil {
		return c.Status(503).JSON(fiber.Map{"error": "audit trail not configured"})
	}
	events, err := s.auditor.Events(c.Query("collection"), c.Query("record_id"), c.QueryInt("limit", 50))
	if err != nil {
		s.logger.Error("Failed to list audit events", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to list audit events"})
	}
	return c.JSON(events)
}

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	if s.snapshots == nil {
		return c.Status(503).JSON(fiber.Map{"error": "snapshots not configured"})
	}
	path, err := s.snapshots.Run()
	if err != nil {
		s.logger.Error("Snapshot failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "snapshot failed"})
	}
	return c.Status(201).JSON(fiber.Map{"path": path})
}

// handleProxy forwards /api/v1/* to the remote clinical API. The
// Authorization header passes through untouched.
func (s *Server) handleProxy(c *fiber.Ctx) error {
	if s.upstream == nil {
		return c.Status(503).JSON(fiber.Map{"error": "clinical API not configured"})
	}

	resp, err := s.upstream.Do(c.Context(), c.Method(), c.OriginalURL(), c.Get("Authorization"), c.Body())
	if err != nil {
		s.logger.Warn("Upstream request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.Status(502).JSON(fiber.Map{"error": err.Error()})
	}

	if resp.ContentType != "" {
		c.Set("Content-Type", resp.ContentType)
	}
	return c.Status(resp.Status).Send(resp.Body)
}

// parsePatch reads the request body as a shallow JSON patch object.
func parsePatch(c *fiber.Ctx) (map[string]any, bool) {
	patch := map[string]any{}
	if err := c.BodyParser(&patch); err != nil {
		return nil, false
	}
	return patch, true
}
