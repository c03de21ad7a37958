package handlers

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gachalab/internal/models"
	"gachalab/internal/store"
)

type adminLoginRequest struct {
	Password string `json:"password"`
}

func (s *Server) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	_ = c.ShouldBindJSON(&req)
	if req.Password == "" {
		req.Password = strings.TrimSpace(c.PostForm("password"))
	}
	if req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PASSWORD_REQUIRED"})
		return
	}
	if strings.TrimSpace(s.Cfg.AdminPassword) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ADMIN_PASSWORD_NOT_CONFIGURED"})
		return
	}
	if !s.Cfg.AdminJWTEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "JWT_SECRET_NOT_CONFIGURED"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(s.Cfg.AdminPassword), []byte(req.Password)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
		return
	}
	token, err := s.SignAdminToken(c.Request.Context())
	if err != nil {
		log.Printf("admin token error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TOKEN_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) GetGachaAdmin(c *gin.Context) {
	g, err := s.Store.GetGacha(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "GACHA_LOOKUP_FAILED"})
		return
	}
	c.JSON(http.StatusOK, g)
}

// readPatch decodes a JSON object keeping track of which keys were sent.
func readPatch(c *gin.Context) (map[string]json.RawMessage, bool) {
	raw, _ := c.GetRawData()
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fields, true
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func patchField[T any](fields map[string]json.RawMessage, key string, dst **T) error {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func (s *Server) PatchGacha(c *gin.Context) {
	fields, ok := readPatch(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_JSON"})
		return
	}
	var patch store.GachaPatch
	if err := errors.Join(
		patchField(fields, "win_rate", &patch.WinRate),
		patchField(fields, "is_active", &patch.IsActive),
	); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_JSON"})
		return
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "NO_FIELDS"})
		return
	}
	g, err := s.Store.UpdateGacha(c.Request.Context(), c.Param("id"), patch)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
		return
	}
	if err != nil {
		log.Printf("gacha update failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "GACHA_UPDATE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) ListPrizesAdmin(c *gin.Context) {
	prizes, err := s.Store.ListPrizes(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "PRIZES_LOOKUP_FAILED"})
		return
	}
	if prizes == nil {
		prizes = []models.Prize{}
	}
	c.JSON(http.StatusOK, gin.H{"items": prizes})
}

func (s *Server) PatchPrize(c *gin.Context) {
	fields, ok := readPatch(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_JSON"})
		return
	}
	var patch store.PrizePatch
	if err := errors.Join(
		patchField(fields, "name", &patch.Name),
		patchField(fields, "stock", &patch.Stock),
		patchField(fields, "weight", &patch.Weight),
		patchField(fields, "is_active", &patch.IsActive),
		patchField(fields, "image_url", &patch.ImageURL),
	); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_JSON"})
		return
	}
	// an explicit null clears the image
	if raw, ok := fields["image_url"]; ok && string(raw) == "null" {
		empty := ""
		patch.ImageURL = &empty
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "NO_FIELDS"})
		return
	}
	if (patch.Stock != nil && *patch.Stock < 0) || (patch.Weight != nil && *patch.Weight < 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_FIELDS"})
		return
	}
	p, err := s.Store.UpdatePrize(c.Request.Context(), c.Param("id"), patch)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
		return
	}
	if err != nil {
		log.Printf("prize update failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "PRIZE_UPDATE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, p)
}
