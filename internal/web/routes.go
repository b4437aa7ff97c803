package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.svc.Arbitrator())
	recognizeHandler := handlers.NewRecognizeHandler(s.svc, s.log)
	identitiesHandler := handlers.NewIdentitiesHandler(s.svc, s.log)
	galleryHandler := handlers.NewGalleryHandler(s.svc, s.log)
	attendanceHandler := handlers.NewAttendanceHandler(s.svc, s.log)
	statisticsHandler := handlers.NewStatisticsHandler(s.svc)
	comparisonHandler := handlers.NewComparisonHandler(s.svc, handlers.ComparisonSettings{
		Thresholds:       s.thresholds,
		ResultsDir:       s.config.ResultsDir,
		AccurateDetector: s.config.Accurate.Detector,
	}, s.log)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)

		// Recognition
		r.Post("/recognize", recognizeHandler.Recognize)
		r.Post("/recognize/test", recognizeHandler.TestModes)
		r.Get("/statistics", statisticsHandler.Get)

		// Identities, groups and enrollment
		r.Get("/identities", identitiesHandler.List)
		r.Post("/identities", identitiesHandler.Create)
		r.Get("/identities/{id}", identitiesHandler.Get)
		r.Put("/identities/{id}", identitiesHandler.Update)
		r.Delete("/identities/{id}", identitiesHandler.Delete)
		r.Post("/identities/{id}/faces", identitiesHandler.AddFace)
		r.Delete("/identities/{id}/faces", identitiesHandler.DeleteFaces)
		r.Get("/groups", identitiesHandler.ListGroups)
		r.Post("/groups", identitiesHandler.CreateGroup)
		r.Delete("/groups/{id}", identitiesHandler.DeleteGroup)

		// Gallery
		r.Post("/gallery/nearest", galleryHandler.Nearest)

		// Attendance
		r.Get("/attendance", attendanceHandler.List)
		r.Get("/attendance/{id}", attendanceHandler.Get)
		r.Post("/attendance/{id}/review", attendanceHandler.Review)

		// Comparison (long-running batch runs stream events)
		r.Post("/comparison/test-single", comparisonHandler.TestSingle)
		r.Post("/comparison/batch", comparisonHandler.StartBatch)
		r.Get("/comparison/jobs", comparisonHandler.ListJobs)
		r.Get("/comparison/jobs/{jobId}", comparisonHandler.GetJob)
		r.Get("/comparison/jobs/{jobId}/events", comparisonHandler.Events)
		r.Get("/comparison/jobs/{jobId}/report", comparisonHandler.Report)
		r.Post("/comparison/jobs/{jobId}/report", comparisonHandler.SaveReport)
		r.Delete("/comparison/jobs/{jobId}", comparisonHandler.DeleteJob)
		r.Get("/comparison/models", comparisonHandler.Models)
		r.Get("/comparison/dataset/validate", comparisonHandler.ValidateDataset)
	})
}
