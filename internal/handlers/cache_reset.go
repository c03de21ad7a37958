package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CacheReset drops derived Redis state. The store is never touched.
func (s *Server) CacheReset(c *gin.Context) {
	if s.Redis == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "deleted": 0})
		return
	}
	ctx := c.Request.Context()
	patterns := []string{"spin:last:*", "spin:rate:*", "gacha:*:stats"}
	deleted := int64(0)
	for _, pattern := range patterns {
		var cursor uint64
		for {
			keys, next, err := s.Redis.Scan(ctx, cursor, pattern, 1000).Result()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "REDIS_SCAN_FAILED"})
				return
			}
			if len(keys) > 0 {
				n, _ := s.Redis.Del(ctx, keys...).Result()
				deleted += n
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "deleted": deleted})
}
