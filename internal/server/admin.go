// Package server — admin.go: админские эндпоинты управления настройками.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/features/settings"
)

// handleAdminSettings — GET /api/admin/settings: все настройки.
func (s *Server) handleAdminSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		log.WithError(err).Error("Ошибка чтения настроек")
		respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}
	respondJSON(w, http.StatusOK, all)
}

// handleAdminSetSetting — POST /api/admin/settings/{key}: запись настройки.
// Числовые настройки валидируются до записи: битое значение в settings
// уронит котировки и начисления.
func (s *Server) handleAdminSetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, known := settings.Defaults[key]; !known {
		respondError(w, http.StatusNotFound, "неизвестная настройка")
		return
	}

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		respondError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}

	if key != settings.KeyReferralPrefix {
		if _, err := strconv.ParseFloat(req.Value, 64); err != nil {
			respondError(w, http.StatusBadRequest, "значение должно быть числом")
			return
		}
	}

	if err := s.settings.Set(r.Context(), key, req.Value); err != nil {
		log.WithError(err).Error("Ошибка записи настройки")
		respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	// Наценка или fallback могли измениться — пересчитываем цену сразу
	if key == settings.KeyTonMarkupPercentage || key == settings.KeyTonFallbackPrice {
		s.prices.ForceRefresh(r.Context())
	}

	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
