package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"starshop.ru/stars-shop/internal/common"
)

func TestOracleTonUSD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"TONUSDT","price":"5.123"}`))
	}))
	defer srv.Close()

	o := NewOracle(srv.URL, "", 5*time.Second)
	price, err := o.TonUSD(context.Background())
	if err != nil {
		t.Fatalf("TonUSD: %v", err)
	}
	if !price.Equal(dec("5.123")) {
		t.Errorf("цена = %s, ожидалось 5.123", price)
	}
}

func TestOracleUsdRub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rates":{"RUB":95.5,"EUR":0.9}}`))
	}))
	defer srv.Close()

	o := NewOracle("", srv.URL, 5*time.Second)
	rate, err := o.UsdRub(context.Background())
	if err != nil {
		t.Fatalf("UsdRub: %v", err)
	}
	if !rate.Equal(dec("95.5")) {
		t.Errorf("курс = %s, ожидалось 95.5", rate)
	}
}

func TestOracleUpstreamErrors(t *testing.T) {
	t.Run("статус 500", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		o := NewOracle(srv.URL, srv.URL, 5*time.Second)
		if _, err := o.TonUSD(context.Background()); !errors.Is(err, common.ErrUpstreamUnavailable) {
			t.Errorf("ожидался ErrUpstreamUnavailable, получено %v", err)
		}
	})

	t.Run("битый JSON", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`не json`))
		}))
		defer srv.Close()

		o := NewOracle(srv.URL, srv.URL, 5*time.Second)
		if _, err := o.TonUSD(context.Background()); !errors.Is(err, common.ErrUpstreamUnavailable) {
			t.Errorf("ожидался ErrUpstreamUnavailable, получено %v", err)
		}
	})

	t.Run("нет курса RUB в ответе", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"rates":{"EUR":0.9}}`))
		}))
		defer srv.Close()

		o := NewOracle(srv.URL, srv.URL, 5*time.Second)
		if _, err := o.UsdRub(context.Background()); !errors.Is(err, common.ErrUpstreamUnavailable) {
			t.Errorf("ожидался ErrUpstreamUnavailable, получено %v", err)
		}
	})
}
