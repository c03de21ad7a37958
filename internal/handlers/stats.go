package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"gachalab/internal/models"
)

type statKey struct {
	gachaID string
	result  models.Result
}

// bumpSpinStat counts in memory; runStatsFlusher moves the counts to Redis.
func (s *Server) bumpSpinStat(gachaID string, result models.Result) {
	if s == nil || s.Redis == nil {
		return
	}
	val, _ := s.spinCounters.LoadOrStore(statKey{gachaID: gachaID, result: result}, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

func (s *Server) runStatsFlusher(ctx context.Context) {
	if s == nil || s.Redis == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flushSpinStats(context.Background())
			return
		case <-ticker.C:
			s.flushSpinStats(ctx)
		}
	}
}

func (s *Server) flushSpinStats(ctx context.Context) {
	if s == nil || s.Redis == nil {
		return
	}
	pipe := s.Redis.Pipeline()
	has := false
	s.spinCounters.Range(func(key, value any) bool {
		k, ok := key.(statKey)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Int64)
		if !ok {
			return true
		}
		n := counter.Swap(0)
		if n <= 0 {
			return true
		}
		has = true
		pipe.HIncrBy(ctx, gachaStatsKey(k.gachaID), string(k.result), n)
		return true
	})
	if has {
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("stats flush failed: %v", err)
		}
	}
}

func (s *Server) GetGachaStats(c *gin.Context) {
	gachaID := c.Param("id")
	stats := gin.H{"gacha_id": gachaID, "win": int64(0), "lose": int64(0)}
	if s.Redis == nil {
		c.JSON(http.StatusOK, stats)
		return
	}
	vals, err := s.Redis.HGetAll(c.Request.Context(), gachaStatsKey(gachaID)).Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STATS_LOOKUP_FAILED"})
		return
	}
	win, _ := strconv.ParseInt(vals[string(models.ResultWin)], 10, 64)
	lose, _ := strconv.ParseInt(vals[string(models.ResultLose)], 10, 64)
	stats["win"] = win
	stats["lose"] = lose
	c.JSON(http.StatusOK, stats)
}
