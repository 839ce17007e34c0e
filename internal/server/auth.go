// Package server — auth.go: проверка админского пароля.
// Пароль хранится только как Argon2id-хеш в конфигурации.
package server

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"starshop.ru/stars-shop/internal/common"
)

// verifyArgon2id сверяет пароль с хешем в формате
// $argon2id$v=19$m=...,t=...,p=...$salt$hash.
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Сравнение в постоянном времени (защита от timing attack)
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}

// requireAdmin пропускает запрос дальше, только если заголовок
// X-Admin-Password совпадает с настроенным хешем.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		password := r.Header.Get("X-Admin-Password")
		if password == "" || !verifyArgon2id(password, s.adminPasswordHash) {
			log.WithField("ip", clientIP(r)).Warn("Неудачная попытка входа в админку")
			respondError(w, http.StatusForbidden, common.ErrNotAdmin.Error())
			return
		}
		next(w, r)
	}
}
