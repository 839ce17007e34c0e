package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

// fragmentSign считает эталонную подпись независимо от адаптера:
// HMAC-SHA256 токеном бота от пар "ключ=значение", отсортированных
// по ключу и склеенных через "|".
func fragmentSign(token string, pairs ...string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestFragmentVerifyWebhook(t *testing.T) {
	f := NewFragment("bot-token", "")

	valid := map[string]string{
		"payment_id": "inv-1",
		"stars":      "100",
		"amount":     "230.00",
		"status":     "completed",
	}
	valid["signature"] = fragmentSign("bot-token",
		"amount=230.00", "payment_id=inv-1", "stars=100", "status=completed")

	t.Run("валидная подпись принимается", func(t *testing.T) {
		if !f.VerifyWebhook(valid, "") {
			t.Error("валидный webhook отклонён")
		}
	})

	t.Run("подмена каждого поля ломает подпись", func(t *testing.T) {
		for _, key := range []string{"payment_id", "stars", "amount", "status"} {
			fields := cloneFields(valid)
			fields[key] = fields[key] + "x"
			if f.VerifyWebhook(fields, "") {
				t.Errorf("webhook с подменённым %s принят", key)
			}
		}
	})

	t.Run("без подписи отклоняется", func(t *testing.T) {
		fields := cloneFields(valid)
		delete(fields, "signature")
		if f.VerifyWebhook(fields, "") {
			t.Error("webhook без подписи принят")
		}
	})

	t.Run("чужой токен отклоняется", func(t *testing.T) {
		other := NewFragment("other-token", "")
		if other.VerifyWebhook(valid, "") {
			t.Error("подпись чужим токеном принята")
		}
	})
}

func TestFragmentParseNotification(t *testing.T) {
	f := NewFragment("bot-token", "")

	n, err := f.ParseNotification(map[string]string{
		"payment_id": "inv-1",
		"amount":     "230.00",
		"status":     "failed",
	})
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if n.InvoiceID != "inv-1" || n.Status != "failed" || !n.Amount.Equal(dec("230.00")) {
		t.Errorf("разобрано %q / %q / %s", n.InvoiceID, n.Status, n.Amount)
	}
}

func TestFragmentBuildPaymentURL(t *testing.T) {
	f := NewFragment("bot-token", "https://fragment.example/pay")

	link, err := f.BuildPaymentURL(PaymentParams{
		InvoiceID: "inv-1",
		Amount:    dec("230.00"),
		Stars:     100,
	})
	if err != nil {
		t.Fatalf("BuildPaymentURL: %v", err)
	}
	for _, part := range []string{"stars=100", "amount=230.00", "invoice=inv-1"} {
		if !strings.Contains(link, part) {
			t.Errorf("в ссылке нет %q: %s", part, link)
		}
	}

	empty := NewFragment("", "")
	if _, err := empty.BuildPaymentURL(PaymentParams{}); err == nil {
		t.Error("ожидалась ошибка без токена")
	}
}

func TestFragmentCheckStatusUnsupported(t *testing.T) {
	f := NewFragment("bot-token", "")
	if _, err := f.CheckStatus(context.Background(), "inv-1"); err == nil {
		t.Error("Fragment не поддерживает опрос статуса, ожидалась ошибка")
	}
}
