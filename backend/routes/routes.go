package routes

import (
	"log"

	"openexam/backend/config"
	"openexam/backend/controllers"
	"openexam/backend/middleware"
	"openexam/backend/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, cfg *config.Config, logger *log.Logger) {
	paperService := services.NewPaperService(db, logger)
	participantService := services.NewParticipantService(db, logger, paperService)
	attemptService := services.NewAttemptService(db, logger, participantService)
	answerService := services.NewAnswerService(db, logger, attemptService)
	gradingService := services.NewGradingService(db, logger)
	resultService := services.NewResultService(db, logger)

	// Auth routes
	authController := controllers.NewAuthController(db, cfg)
	app.Post("/api/auth/register", authController.Register)
	app.Post("/api/auth/login", authController.Login)

	// Middleware
	authMiddleware := middleware.AuthMiddleware(db, cfg)
	manageQuestions := middleware.RequirePermission(db, "manage_questions")
	manageExams := middleware.RequirePermission(db, "manage_exams")
	gradeExams := middleware.RequirePermission(db, "grade_exams")
	viewAllResults := middleware.RequirePermission(db, "view_all_results")

	app.Get("/api/auth/me", authMiddleware, authController.Me)

	// Question catalog routes
	questionsController := controllers.NewQuestionsController(db)
	libs := app.Group("/api/question-libs", authMiddleware, manageQuestions)
	libs.Post("/", questionsController.CreateLib)
	libs.Get("/", questionsController.ListLibs)
	libs.Get("/:id", questionsController.GetLib)
	libs.Put("/:id", questionsController.UpdateLib)
	libs.Delete("/:id", questionsController.DeleteLib)
	libs.Get("/:libId/chapters", questionsController.ListChapters)

	chapters := app.Group("/api/chapters", authMiddleware, manageQuestions)
	chapters.Post("/", questionsController.CreateChapter)
	chapters.Delete("/:id", questionsController.DeleteChapter)

	questions := app.Group("/api/questions", authMiddleware, manageQuestions)
	questions.Post("/", questionsController.CreateQuestion)
	questions.Get("/", questionsController.ListQuestions)
	questions.Get("/:id", questionsController.GetQuestion)
	questions.Put("/:id", questionsController.UpdateQuestion)
	questions.Delete("/:id", questionsController.DeleteQuestion)

	// Exam administration routes
	examsController := controllers.NewExamsController(db, paperService, participantService, gradingService)
	exams := app.Group("/api/exams", authMiddleware, manageExams)
	exams.Post("/", examsController.Create)
	exams.Get("/", examsController.List)
	exams.Get("/:id", examsController.Get)
	exams.Put("/:id", examsController.Update)
	exams.Delete("/:id", examsController.Delete)
	exams.Put("/:id/questions", examsController.SetManualQuestions)
	exams.Put("/:id/participants", examsController.SetParticipants)
	exams.Post("/:id/publish", examsController.Publish)
	exams.Put("/:id/status", examsController.SetStatus)
	exams.Get("/:id/statistics", examsController.Statistics)

	// Student attempt routes
	attemptsController := controllers.NewAttemptsController(db, attemptService, answerService)
	app.Get("/api/student/exams", authMiddleware, attemptsController.AvailableExams)
	app.Post("/api/student/exams/:examId/start", authMiddleware, attemptsController.Start)
	attempts := app.Group("/api/student/attempts", authMiddleware)
	attempts.Get("/:id/paper", attemptsController.Paper)
	attempts.Post("/:id/answers", attemptsController.SaveAnswer)
	attempts.Post("/:id/heartbeat", attemptsController.Heartbeat)
	attempts.Post("/:id/submit", attemptsController.Submit)

	// Grading routes
	gradingController := controllers.NewGradingController(db, gradingService, answerService, attemptService)
	grading := app.Group("/api/grading", authMiddleware, gradeExams)
	grading.Get("/pending", gradingController.PendingQueue)
	grading.Post("/attempts/:id/auto", gradingController.AutoGrade)
	grading.Put("/answers/:id", gradingController.GradeAnswer)
	grading.Post("/attempts/:id/finalize", gradingController.Finalize)
	grading.Put("/attempts/:id/status", gradingController.SetAttemptStatus)

	// Result routes
	resultsController := controllers.NewResultsController(db, resultService)
	app.Get("/api/student/results", authMiddleware, resultsController.MyResults)
	app.Get("/api/student/results/:id", authMiddleware, resultsController.MyAttemptDetail)
	results := app.Group("/api/results", authMiddleware, viewAllResults)
	results.Get("/exams/:examId", resultsController.ExamResults)
	results.Get("/attempts/:id", resultsController.AttemptDetail)
}
