package externalsim

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/steward/internal/external"
)

// Config scripts the simulator's behavior so integration runs can exercise
// every workflow branch without a real backend.
type Config struct {
	// PollsUntilDone is how many status polls a job answers Inprogress
	// before settling.
	PollsUntilDone int
	// Outcome is the settled status for ordinary jobs.
	Outcome external.JobStatus
	// RetryEvery makes every Nth created job settle FailCanRetry instead,
	// 0 disables it.
	RetryEvery int
}

func ConfigFromEnv() Config {
	cfg := Config{
		PollsUntilDone: 2,
		Outcome:        external.StatusPass,
		RetryEvery:     0,
	}

	if v := os.Getenv("SIM_POLLS_UNTIL_DONE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.PollsUntilDone = n
		}
	}
	if v := os.Getenv("SIM_OUTCOME"); v != "" {
		if s := external.JobStatus(v); s.Settled() {
			cfg.Outcome = s
		}
	}
	if v := os.Getenv("SIM_RETRY_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetryEvery = n
		}
	}

	return cfg
}

type simJob struct {
	id         string
	polls      int
	retryFirst bool
}

// Sim is an in-memory stand-in for the remote job service. Submissions are
// idempotent on the X-Idempotency-Key header: the same key always returns
// the same job.
type Sim struct {
	mu    sync.Mutex
	cfg   Config
	byKey map[string]*simJob
	byID  map[string]*simJob
	seq   int
	log   *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Sim {
	return &Sim{
		cfg:   cfg,
		byKey: make(map[string]*simJob),
		byID:  make(map[string]*simJob),
		log:   log,
	}
}

func (s *Sim) Router() *gin.Engine {
	if os.Getenv("APP_ENV") != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/jobs", s.createJob)
	r.GET("/jobs/:id", s.getJob)

	return r
}

func (s *Sim) createJob(ctx *gin.Context) {
	var req external.CreateJobRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_request", "message": err.Error()}})
		return
	}

	key := ctx.GetHeader("X-Idempotency-Key")
	if key == "" {
		key = external.IdempotencyKeyFor(req.RequestID, req.Attempt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if j, exists := s.byKey[key]; exists {
		// same submission, same job
		ctx.JSON(http.StatusOK, external.Job{JobID: j.id, Status: s.statusOf(j)})
		return
	}

	s.seq++

	j := &simJob{
		id:         fmt.Sprintf("J-%06d", s.seq),
		retryFirst: s.cfg.RetryEvery > 0 && s.seq%s.cfg.RetryEvery == 0,
	}

	s.byKey[key] = j
	s.byID[j.id] = j

	s.log.Info("sim.job_created", "job_id", j.id, "key", key, "retry_first", j.retryFirst)

	ctx.JSON(http.StatusCreated, external.Job{JobID: j.id, Status: external.StatusCreated})
}

func (s *Sim) getJob(ctx *gin.Context) {
	id := ctx.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "no such job"}})
		return
	}

	j.polls++

	ctx.JSON(http.StatusOK, external.Job{JobID: j.id, Status: s.statusOf(j)})
}

// statusOf computes the job's current answer. Callers hold the mutex.
func (s *Sim) statusOf(j *simJob) external.JobStatus {
	if j.polls < s.cfg.PollsUntilDone {
		if j.polls == 0 {
			return external.StatusCreated
		}
		return external.StatusInprogress
	}

	if j.retryFirst {
		return external.StatusFailCanRetry
	}

	return s.cfg.Outcome
}
