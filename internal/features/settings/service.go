// Package settings — service.go содержит кэширующий слой над таблицей settings.
// Настройки читаются часто (каждая котировка, каждый webhook), а меняются
// редко, поэтому держим их в памяти и сбрасываем кэш при записи.
package settings

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Store — операции хранилища, нужные сервису.
// *Repository реализует этот интерфейс; в тестах подставляется фейк.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
	Seed(ctx context.Context, defaults map[string]string) error
}

// Service отдаёт настройки из кэша, при промахе читает из БД.
type Service struct {
	store Store

	mu    sync.RWMutex
	cache map[string]string
}

// NewService создаёт сервис настроек с пустым кэшем.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		cache: make(map[string]string),
	}
}

// Seed засеивает значения по умолчанию (вызывается при старте).
func (s *Service) Seed(ctx context.Context) error {
	return s.store.Seed(ctx, Defaults)
}

// Get возвращает значение настройки: сперва из кэша, при промахе — из БД.
// Если ключа нет и в БД — возвращается значение из Defaults.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	v, err := s.store.Get(ctx, key)
	if err != nil {
		if def, ok := Defaults[key]; ok {
			return def, nil
		}
		return "", err
	}

	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v, nil
}

// GetDecimal возвращает настройку как decimal (цены, проценты).
func (s *Service) GetDecimal(ctx context.Context, key string) (decimal.Decimal, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(v)
}

// GetInt возвращает настройку как целое число.
func (s *Service) GetInt(ctx context.Context, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	// Значения вроде "25.0" тоже принимаем — исторически админка писала дробные
	if i, err := strconv.Atoi(v); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Set записывает настройку и сбрасывает кэш.
// Кэш сбрасывается целиком: записи редкие, а согласованность важнее.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if err := s.store.Set(ctx, key, value); err != nil {
		return err
	}
	s.Invalidate()
	log.WithFields(log.Fields{"key": key, "value": value}).Info("Настройка обновлена")
	return nil
}

// All возвращает все настройки (для админки), мимо кэша.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	return s.store.All(ctx)
}

// Invalidate сбрасывает кэш настроек.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}
