package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	checkTimeout = 2 * time.Second
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type check struct {
	name string
	ping func(ctx context.Context) error
}

type health struct {
	checks []check
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	h := &health{}
	if p.DB != nil {
		db := p.DB
		h.checks = append(h.checks, check{
			name: "database:" + db.Name(),
			ping: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		})
	}
	if p.Redis != nil {
		rdb := p.Redis
		h.checks = append(h.checks, check{
			name: "redis",
			ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return h
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
		Deps:    []Dependency{},
	})
}

// Readiness pings every configured dependency and answers 503 when any fails.
func (h *health) Readiness(c *gin.Context) {
	res := &Health{
		Status:  statusHealthy,
		Message: "OK",
		Deps:    make([]Dependency, 0, len(h.checks)),
	}

	code := http.StatusOK
	for _, chk := range h.checks {
		dep := Dependency{Name: chk.name, Status: statusHealthy, Message: "OK"}

		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		err := chk.ping(ctx)
		cancel()
		if err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
			res.Status = statusUnhealthy
			res.Message = "dependency unavailable"
			code = http.StatusServiceUnavailable
		}

		res.Deps = append(res.Deps, dep)
	}

	c.JSON(code, res)
}
