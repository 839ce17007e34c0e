// Package server — handlers.go: обработчики публичного API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/common"
	"starshop.ru/stars-shop/internal/features/ledger"
	"starshop.ru/stars-shop/internal/features/payments"
)

// respondJSON пишет JSON-ответ с указанным статусом.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Ошибка сериализации ответа")
	}
}

// respondError пишет JSON-ошибку.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// createPaymentRequest — тело POST /api/payment/create.
// Все поля валидируются явно: запрос приходит из мини-аппа и не
// заслуживает доверия.
type createPaymentRequest struct {
	UserID        string          `json:"user_id"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	RubAmount     decimal.Decimal `json:"rub_amount"`
	PaymentSystem string          `json:"payment_system"`
	Email         string          `json:"email"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "не указан user_id")
		return
	}

	result, err := s.engine.CreatePurchase(r.Context(), payments.CreateRequest{
		UserID:        req.UserID,
		Currency:      req.Currency,
		Amount:        req.Amount,
		RubAmount:     req.RubAmount,
		PaymentSystem: req.PaymentSystem,
		Email:         req.Email,
	})
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInvalidCurrency), errors.Is(err, common.ErrInvalidAmount),
			errors.Is(err, common.ErrUnknownGateway):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, common.ErrPriceMismatch):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, common.ErrUserNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		default:
			log.WithError(err).Error("Ошибка создания покупки")
			respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"transaction_id": result.TransactionID,
		"invoice_id":     result.InvoiceID,
		"payment_url":    result.PaymentURL,
		"rub_amount":     result.RubAmount.StringFixed(2),
	})
}

// handleWebhook принимает уведомление платёжной системы.
// Тело подтверждения зависит от провайдера (FreeKassa ждёт "YES",
// остальные — JSON), поэтому ответ отдаёт адаптер.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayKey := chi.URLParam(r, "gateway")

	fields, err := parseWebhookFields(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "некорректный payload")
		return
	}

	ct, body, err := s.engine.ReceiveWebhook(r.Context(), gatewayKey, fields, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrUnknownGateway):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, common.ErrTransactionNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, common.ErrInvalidSignature), errors.Is(err, common.ErrAmountMismatch):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			log.WithError(err).Error("Ошибка обработки webhook")
			respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		}
		return
	}

	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		log.WithError(err).Error("Ошибка записи подтверждения webhook")
	}
}

// parseWebhookFields разбирает payload webhook'а в плоскую таблицу строк.
// FreeKassa и Robokassa шлют form-данные, Fragment — JSON.
func parseWebhookFields(r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case json.Number:
				fields[k] = val.String()
			case bool:
				fields[k] = fmt.Sprintf("%t", val)
			case nil:
				fields[k] = ""
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
		return fields, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k, v := range r.Form {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}

// transactionResponse — транзакция в API-ответе.
type transactionResponse struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Currency      string     `json:"currency"`
	Amount        string     `json:"amount"`
	RubAmount     string     `json:"rub_amount"`
	Status        string     `json:"status"`
	Description   string     `json:"description"`
	PaymentSystem string     `json:"payment_system,omitempty"`
	PaymentURL    string     `json:"payment_url,omitempty"`
	InvoiceID     string     `json:"invoice_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

func toTransactionResponse(t *ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		Type:          t.Type,
		Currency:      t.Currency,
		Amount:        t.Amount.String(),
		RubAmount:     t.RubAmount.StringFixed(2),
		Status:        t.Status,
		Description:   t.Description,
		PaymentSystem: t.PaymentSystem,
		PaymentURL:    t.PaymentURL,
		InvoiceID:     t.InvoiceID,
		CreatedAt:     t.CreatedAt,
		PaidAt:        t.PaidAt,
	}
}

// handlePaymentStatus — GET /api/payment/status/{id}.
// Для pending-покупок дополнительно опрашивается платёжная система.
func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.engine.CheckStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrTransactionNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.WithError(err).Error("Ошибка запроса статуса")
		respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	respondJSON(w, http.StatusOK, toTransactionResponse(t))
}

// handlePrices — GET /api/prices: витринные цены в рублях.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	starsPrice, err := s.prices.GetPrice(r.Context(), ledger.CurrencyStars)
	if err != nil {
		log.WithError(err).Error("Ошибка получения цены звезды")
		respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}
	tonPrice, err := s.prices.GetPrice(r.Context(), ledger.CurrencyTon)
	if err != nil {
		log.WithError(err).Error("Ошибка получения цены TON")
		respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"stars": starsPrice.StringFixed(2),
		"ton":   tonPrice.StringFixed(2),
	})
}

// handleTransactions — GET /api/transactions/{userID}: история операций.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txs, err := s.ledger.ListByUser(r.Context(), userID, 50)
	if err != nil {
		log.WithError(err).Error("Ошибка получения истории транзакций")
		respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"transactions": out})
}

// handleReferrals — GET /api/referrals/{userID}: сводка реферальной программы.
func (s *Server) handleReferrals(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stats, err := s.referrals.Stats(r.Context(), userID)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.WithError(err).Error("Ошибка получения реферальной сводки")
		respondError(w, http.StatusInternalServerError, "внутренняя ошибка")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
