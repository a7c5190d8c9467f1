package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/marron15/gym-api/config"
	"github.com/marron15/gym-api/models"
	"github.com/marron15/gym-api/utils"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

type updateReservationStatusRequest struct {
	Status      string `json:"status" binding:"required,reservationstatus"`
	DeclineNote string `json:"decline_note"`
}

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("reservationstatus", func(fl validator.FieldLevel) bool {
			_, err := models.ParseReservationStatus(fl.Field().String())
			return err == nil
		})
	}
}

// reservationErrorStatus maps engine errors to HTTP statuses. Unrecognized
// errors are infrastructure failures: 500, retryable by the caller.
func reservationErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrProductNotFound), errors.Is(err, models.ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidStatus), errors.Is(err, models.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func abortWithReservationError(c *gin.Context, err error) {
	status := reservationErrorStatus(err)
	if status == http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "server.go", "abortWithReservationError", c.FullPath(), nil, err)
		c.JSON(status, gin.H{"success": false, "message": "internal error"})
		return
	}
	c.JSON(status, gin.H{"success": false, "message": err.Error()})
}

func createReservationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewReservation
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}

		reservation, err := models.CreateReservation(c.Request.Context(), &input)
		if err != nil {
			abortWithReservationError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success":        true,
			"reservation_id": reservation.ID,
			"reservation":    reservation,
		})
	}
}

func updateReservationStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reservationId, err := strconv.Atoi(c.Param("id"))
		if err != nil || reservationId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid reservation id"})
			return
		}
		var req updateReservationStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}

		change, err := models.UpdateReservationStatus(c.Request.Context(), reservationId, req.Status, req.DeclineNote)
		if err != nil {
			abortWithReservationError(c, err)
			return
		}
		message := "status updated"
		if !change.Changed {
			message = "status unchanged"
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "result": change})
	}
}

func listReservationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		views, err := models.GetReservations(c.Request.Context(), c.Query("status"))
		if err != nil {
			abortWithReservationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
	}
}

func listCustomerReservationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerId, err := strconv.Atoi(c.Param("id"))
		if err != nil || customerId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid customer id"})
			return
		}
		ctx := utils.SetCustomerIdInContext(c.Request.Context(), customerId)
		views, err := models.GetReservationsByCustomer(ctx, customerId, c.Query("status"))
		if err != nil {
			abortWithReservationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := models.GetProducts(c.Request.Context())
		if err != nil {
			abortWithReservationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": products})
	}
}

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		productId, err := strconv.Atoi(c.Param("id"))
		if err != nil || productId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid product id"})
			return
		}
		product, err := models.GetProductById(c.Request.Context(), productId)
		if err != nil {
			abortWithReservationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": product})
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination: SIGTERM from the platform, SIGINT locally.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	registerValidations()

	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS: explicit allowlist via CORS_ALLOWED_ORIGINS in
	// production, allow-all everywhere else.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())

	r.POST("/reservations", createReservationHandler())
	r.PATCH("/reservations/:id/status", updateReservationStatusHandler())
	r.GET("/reservations", listReservationsHandler())
	r.GET("/customers/:id/reservations", listCustomerReservationsHandler())
	r.GET("/products", listProductsHandler())
	r.GET("/products/:id", getProductHandler())

	// Start listening immediately; the readiness gate returns 503 until the
	// database is connected.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Correctness rests on the exclusive row locks, not snapshot reads.
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	log.Println("Server started successfully on port " + port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
