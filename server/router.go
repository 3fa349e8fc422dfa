package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
	"transcribe-api/dto"
	"transcribe-api/repository"
	"transcribe-api/service"
	"transcribe-api/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultPageLimit = 100

type api struct {
	jobs           service.JobService
	maxUploadBytes int64
}

func newRouter(ctx context.Context, jobs service.JobService, maxUploadBytes int64) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(zerolog.Ctx(ctx)), cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	addHealth(r)

	a := &api{jobs: jobs, maxUploadBytes: maxUploadBytes}
	r.POST("/upload", a.upload)
	r.GET("/jobs", a.listJobs)
	r.GET("/jobs/:id", a.getJob)
	r.DELETE("/jobs/:id", a.deleteJob)
	r.GET("/download/:id/:format", a.download)
	return r
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger puts a request scoped logger in the request context and writes one
// access line per request.
func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := logger.With().Str("request_id", uuid.NewString()).Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))

		c.Next()

		reqLogger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func abortWithDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Detail: detail})
}

// abortWithError maps service and store errors onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		abortWithDetail(c, http.StatusNotFound, "Job not found")
	case errors.Is(err, storage.ErrArtifactNotFound):
		abortWithDetail(c, http.StatusNotFound, "Transcript file not found")
	case errors.Is(err, service.ErrUnsupportedFormat),
		errors.Is(err, service.ErrInvalidLanguage),
		errors.Is(err, service.ErrInvalidDownloadFormat):
		abortWithDetail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrJobNotCompleted):
		abortWithDetail(c, http.StatusBadRequest, "Transcription not yet completed")
	case errors.Is(err, service.ErrDispatch):
		abortWithDetail(c, http.StatusServiceUnavailable, "Transcription queue unavailable, try again later")
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
		abortWithDetail(c, http.StatusInternalServerError, "Internal server error")
	}
}

func (a *api) upload(c *gin.Context) {
	if a.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadBytes)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithDetail(c, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		abortWithDetail(c, http.StatusBadRequest, "No file uploaded")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer file.Close()

	job, err := a.jobs.Submit(c.Request.Context(), fileHeader.Filename, c.PostForm("language"), file)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (a *api) listJobs(c *gin.Context) {
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		abortWithDetail(c, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(c, "limit", defaultPageLimit)
	if err != nil {
		abortWithDetail(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	jobs, err := a.jobs.List(c.Request.Context(), skip, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (a *api) getJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := a.jobs.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *api) deleteJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	if err := a.jobs.Delete(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) download(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	file, err := a.jobs.Download(c.Request.Context(), id, c.Param("format"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Content-Type", file.ContentType)
	c.FileAttachment(file.Path, file.FileName)
}

// jobID parses the :id path parameter. Ids that cannot name a job are reported as
// not found.
func jobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		abortWithDetail(c, http.StatusNotFound, "Job not found")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
