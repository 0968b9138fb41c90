package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuscore/course-api/internal/handler"
	"github.com/campuscore/course-api/internal/middleware"
	"github.com/campuscore/course-api/internal/models"
	"github.com/campuscore/course-api/internal/repository"
	"github.com/campuscore/course-api/internal/service"
	"github.com/campuscore/course-api/pkg/cache"
	"github.com/campuscore/course-api/pkg/config"
	"github.com/campuscore/course-api/pkg/database"
	"github.com/campuscore/course-api/pkg/logger"
	corsmiddleware "github.com/campuscore/course-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campuscore/course-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	offeringRepo := repository.NewOfferingRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	attendanceCodeRepo := repository.NewAttendanceCodeRepository(redisClient, logr)
	attendanceRecordRepo := repository.NewAttendanceRecordRepository(db)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret}, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, waitlistRepo, offeringRepo, nil, logr, metricsSvc)
	attendanceSvc := service.NewAttendanceService(
		attendanceCodeRepo, scheduleRepo, attendanceRecordRepo, enrollmentRepo,
		service.AttendanceOptions{
			CodeTTL:              cfg.Attendance.CodeTTL,
			PresentWindowMinutes: cfg.Attendance.PresentWindowMinutes,
			LateWindowMinutes:    cfg.Attendance.LateWindowMinutes,
		},
		nil, logr, metricsSvc)

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Scrape)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))

	enrollments := api.Group("/enrollments")
	{
		enrollments.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.Enroll)
		enrollments.POST("/by-code", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.EnrollByCode)
		enrollments.POST("/drop", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.Drop)
		enrollments.POST("/grade", middleware.RequireRoles(models.RoleLecturer, models.RoleAdmin), enrollmentHandler.FinalizeGrade)
	}

	offerings := api.Group("/offerings")
	{
		offerings.GET("/:id/waitlist", middleware.RequireRoles(models.RoleLecturer, models.RoleAdmin), enrollmentHandler.Waitlist)
		offerings.DELETE("/:id/waitlist", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.LeaveWaitlist)
	}

	schedules := api.Group("/schedules")
	{
		schedules.POST("/:id/attendance-code", middleware.RequireRoles(models.RoleLecturer, models.RoleAdmin), attendanceHandler.GenerateCode)
		schedules.GET("/:id/attendance-code", middleware.RequireRoles(models.RoleLecturer, models.RoleAdmin), attendanceHandler.GetCode)
		schedules.DELETE("/:id/attendance-code", middleware.RequireRoles(models.RoleLecturer, models.RoleAdmin), attendanceHandler.RevokeCode)
		schedules.GET("/:id/attendance", middleware.RequireRoles(models.RoleLecturer, models.RoleAdmin), attendanceHandler.SessionReport)
	}

	attendance := api.Group("/attendance")
	{
		attendance.POST("/check-in", middleware.RequireRoles(models.RoleStudent), attendanceHandler.CheckIn)
		attendance.POST("/mark", middleware.RequireRoles(models.RoleLecturer, models.RoleAdmin), attendanceHandler.Mark)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
