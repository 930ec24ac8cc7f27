package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"journal-review-api/config"
	"journal-review-api/controllers"
	"journal-review-api/middleware"
	"journal-review-api/routes"
	"journal-review-api/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	settings, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load settings")
	}

	logFile, logger := config.InitLogging(settings.Log)
	if logFile != nil {
		defer logFile.Close()
	}

	if settings.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	repo, err := services.OpenRepository(settings, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open repository")
	}

	notifier := services.NewNotifier(settings, repo, logger)
	workflow := services.NewWorkflowFromSettings(settings, repo, notifier, prometheus.DefaultRegisterer, logger)

	if settings.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID(logger))
	router.Use(gin.Recovery())

	// Add security headers middleware
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})
	router.Use(middleware.RateLimitMiddleware(settings.RateLimit.PerMinute, settings.RateLimit.Burst))

	routes.SetupRoutes(router, routes.Dependencies{
		Reviews:   controllers.NewReviewController(workflow, logger),
		JWTSecret: settings.JWT.Secret,
		Users:     repo,
	})

	var g run.Group
	{
		ln, err := net.Listen("tcp", ":"+settings.Server.Port)
		if err != nil {
			logger.WithError(err).Fatal("Failed to listen")
		}
		srv := &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			logger.WithFields(logrus.Fields{
				"addr":        ln.Addr().String(),
				"environment": settings.Environment,
				"db_driver":   settings.Database.Driver,
			}).Info("Server starting")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
			if err := services.WaitForNotifications(ctx, notifier); err != nil {
				logger.WithError(err).Warn("Pending notifications dropped")
			}
		})
	}
	if settings.Reminder.Schedule != "" {
		job := services.NewDeadlineReminderJob(repo, notifier, logger)
		scheduler, err := services.NewReminderScheduler(settings.Reminder.Schedule, job)
		if err != nil {
			logger.WithError(err).Fatal("Failed to schedule deadline reminders")
		}
		done := make(chan struct{})
		g.Add(func() error {
			logger.WithField("schedule", settings.Reminder.Schedule).Info("Deadline reminders scheduled")
			scheduler.Start()
			<-done
			return nil
		}, func(error) {
			<-scheduler.Stop().Done()
			close(done)
		})
	}
	{
		cancel := make(chan struct{})
		g.Add(func() error {
			return interrupt(cancel)
		}, func(error) {
			close(cancel)
		})
	}

	if err := g.Run(); err != nil {
		logger.WithError(err).Warn("Server stopped")
	}
	logger.Info("Shutting down...")
}

type signalError struct {
	sig os.Signal
}

func (e signalError) Error() string {
	return "received signal " + e.sig.String()
}

func interrupt(cancel <-chan struct{}) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		return signalError{sig: sig}
	case <-cancel:
		return nil
	}
}
