package gateway

import (
	"net/url"
	"strings"
	"testing"
)

func rkTestAdapter(testMode bool) *Robokassa {
	return NewRobokassa("shop", "pass1", "pass2", testMode)
}

func TestRobokassaBuildPaymentURL(t *testing.T) {
	r := rkTestAdapter(true)

	link, err := r.BuildPaymentURL(PaymentParams{
		InvoiceID:   "42",
		Amount:      dec("230.00"),
		Description: "Покупка 100 звёзд",
		Email:       "user@example.com",
	})
	if err != nil {
		t.Fatalf("BuildPaymentURL: %v", err)
	}

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("некорректный URL: %v", err)
	}
	if u.Host != "auth.robokassa.ru" {
		t.Errorf("host = %q, тестовый режим должен вести на auth.robokassa.ru", u.Host)
	}

	q := u.Query()
	if q.Get("MerchantLogin") != "shop" {
		t.Errorf("MerchantLogin = %q", q.Get("MerchantLogin"))
	}
	if q.Get("OutSum") != "230.00" {
		t.Errorf("OutSum = %q", q.Get("OutSum"))
	}
	if q.Get("InvId") != "42" {
		t.Errorf("InvId = %q", q.Get("InvId"))
	}
	if q.Get("IsTest") != "1" {
		t.Error("в тестовом режиме ожидался IsTest=1")
	}

	// Подпись: md5("login:outsum:invid:password1")
	want := md5of("shop:230.00:42:pass1")
	if q.Get("SignatureValue") != want {
		t.Errorf("SignatureValue = %q, ожидалось %q", q.Get("SignatureValue"), want)
	}
}

func TestRobokassaProductionURL(t *testing.T) {
	r := rkTestAdapter(false)
	link, err := r.BuildPaymentURL(PaymentParams{InvoiceID: "1", Amount: dec("10")})
	if err != nil {
		t.Fatalf("BuildPaymentURL: %v", err)
	}
	if strings.Contains(link, "IsTest") {
		t.Error("в боевом режиме IsTest не передаётся")
	}
	if !strings.Contains(link, "merchant.roboxchange.com") {
		t.Errorf("боевой режим должен вести на merchant.roboxchange.com: %s", link)
	}
}

func TestRobokassaVerifyWebhook(t *testing.T) {
	r := rkTestAdapter(true)

	// Подпись результата: md5("outsum:invid:password2")
	valid := map[string]string{
		"OutSum":         "230.00",
		"InvId":          "42",
		"SignatureValue": md5of("230.00:42:pass2"),
	}

	t.Run("валидная подпись принимается", func(t *testing.T) {
		if !r.VerifyWebhook(valid, "") {
			t.Error("валидный webhook отклонён")
		}
	})

	t.Run("подпись в верхнем регистре принимается", func(t *testing.T) {
		fields := cloneFields(valid)
		fields["SignatureValue"] = strings.ToUpper(fields["SignatureValue"])
		if !r.VerifyWebhook(fields, "") {
			t.Error("Robokassa шлёт подпись в произвольном регистре")
		}
	})

	t.Run("подмена суммы ломает подпись", func(t *testing.T) {
		fields := cloneFields(valid)
		fields["OutSum"] = "999.00"
		if r.VerifyWebhook(fields, "") {
			t.Error("webhook с подменённой суммой принят")
		}
	})

	t.Run("подпись паролём от ссылок отклоняется", func(t *testing.T) {
		fields := cloneFields(valid)
		fields["SignatureValue"] = md5of("230.00:42:pass1")
		if r.VerifyWebhook(fields, "") {
			t.Error("webhook, подписанный password1, принят")
		}
	})

	t.Run("пустые поля отклоняются", func(t *testing.T) {
		if r.VerifyWebhook(map[string]string{}, "") {
			t.Error("пустой webhook принят")
		}
	})
}

func TestRobokassaParseNotification(t *testing.T) {
	r := rkTestAdapter(true)

	n, err := r.ParseNotification(map[string]string{"OutSum": "230.00", "InvId": "42"})
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if n.InvoiceID != "42" || !n.Amount.Equal(dec("230.00")) {
		t.Errorf("разобрано %q / %s", n.InvoiceID, n.Amount)
	}
}
