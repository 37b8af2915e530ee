package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/internal/handler"
	"github.com/noah-isme/peer-eval-api/internal/middleware"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/internal/service"
	"github.com/noah-isme/peer-eval-api/pkg/config"
	"github.com/noah-isme/peer-eval-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/peer-eval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/peer-eval-api/pkg/middleware/requestid"
	securemiddleware "github.com/noah-isme/peer-eval-api/pkg/middleware/secure"
)

type routeDeps struct {
	sessions    middleware.SessionValidator
	metrics     *service.MetricsService
	cookies     handler.Cookies
	auth        *handler.AuthHandler
	join        *handler.JoinHandler
	classes     *handler.ClassHandler
	assignments *handler.AssignmentHandler
	evaluations *handler.EvaluationHandler
	student     *handler.StudentHandler
	observe     *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(securemiddleware.Headers(cfg.Env == config.EnvProduction))
	r.Use(middleware.Metrics(deps.metrics, "/health", "/ready", "/metrics"))

	r.GET("/health", deps.observe.Health)
	r.GET("/ready", deps.observe.Ready)
	r.GET("/metrics", deps.observe.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	session := middleware.Session(deps.sessions, deps.cookies.Session)
	teacherOnly := middleware.RequireRoles(models.RoleTeacher)
	studentOnly := middleware.RequireRoles(models.RoleStudent)

	auth := api.Group("/auth")
	auth.POST("/teacher/login", deps.auth.TeacherLogin)
	auth.POST("/student/login", deps.auth.StudentLogin)
	auth.POST("/guest/login", deps.auth.GuestLogin)
	auth.POST("/select", deps.auth.SelectClass)
	auth.POST("/register/code", deps.auth.RequestRegistrationCode)
	auth.POST("/register", middleware.Audit(logr, "register", "teacher"), deps.auth.Register)
	auth.POST("/logout", session, deps.auth.Logout)
	auth.GET("/me", session, deps.auth.Me)

	api.GET("/join/:token", deps.join.Info)
	api.POST("/join/:token", middleware.Audit(logr, "join", "class"), deps.join.Join)

	teacher := api.Group("", session, teacherOnly)
	teacher.POST("/classes", middleware.Audit(logr, "create", "class"), deps.classes.Create)
	teacher.GET("/classes", deps.classes.List)
	teacher.POST("/classes/:classId/join-links", middleware.Audit(logr, "issue", "join_link"), deps.join.IssueLink)
	teacher.POST("/classes/:classId/teams", middleware.Audit(logr, "create", "team"), deps.classes.CreateTeam)
	teacher.GET("/classes/:classId/teams", deps.classes.ListTeams)
	teacher.GET("/classes/:classId/teams/:teamId/members", deps.classes.ListTeamMembers)
	teacher.DELETE("/classes/:classId/teams/:teamId", middleware.Audit(logr, "delete", "team"), deps.classes.DeleteTeam)
	teacher.GET("/classes/:classId/students", deps.classes.ListStudents)
	teacher.DELETE("/classes/:classId/students/:studentId", middleware.Audit(logr, "delete", "student"), deps.classes.DeleteStudent)
	teacher.POST("/teams/:teamId/students", middleware.Audit(logr, "add", "students"), deps.classes.AddStudents)
	teacher.POST("/classes/:classId/assignments", middleware.Audit(logr, "create", "assignment"), deps.assignments.Create)
	teacher.GET("/classes/:classId/assignments", deps.assignments.List)
	teacher.PUT("/assignments/:assignmentId", middleware.Audit(logr, "update", "assignment"), deps.assignments.Update)
	teacher.DELETE("/assignments/:assignmentId", middleware.Audit(logr, "delete", "assignment"), deps.assignments.Delete)
	teacher.GET("/assignments/:assignmentId/evaluations", deps.evaluations.ListByAssignment)
	teacher.GET("/assignments/:assignmentId/students/:studentId/report", deps.evaluations.StudentReport)
	teacher.GET("/assignments/:assignmentId/students/:studentId/report/export", deps.evaluations.ExportReport)
	teacher.GET("/metrics/summary", deps.observe.Summary)

	evaluations := api.Group("/evaluations", session)
	evaluations.POST("", middleware.Audit(logr, "submit", "evaluation"), deps.evaluations.Submit)
	evaluations.GET("/exists", deps.evaluations.Exists)

	student := api.Group("/student", session, studentOnly)
	student.GET("/teams", deps.student.Teams)
	student.GET("/assignments", deps.student.Assignments)
	student.GET("/assignments/:assignmentId/report", deps.evaluations.StudentReport)
	student.GET("/assignments/:assignmentId/report/export", deps.evaluations.ExportReport)

	return r
}
