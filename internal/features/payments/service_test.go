package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"starshop.ru/stars-shop/internal/common"
	"starshop.ru/stars-shop/internal/features/ledger"
	"starshop.ru/stars-shop/internal/features/users"
	"starshop.ru/stars-shop/internal/gateway"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// fakeLedger — журнал в памяти, фиксирующий вызовы движка.
type fakeLedger struct {
	byID        map[string]*ledger.Transaction
	byInvoice   map[string]*ledger.Transaction
	nextID      int
	completions int
	lastBonus   int64
	failed      []string
	cancelled   []string
	attachedURL map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		byID:        make(map[string]*ledger.Transaction),
		byInvoice:   make(map[string]*ledger.Transaction),
		attachedURL: make(map[string]string),
	}
}

func (f *fakeLedger) CreateIntent(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error) {
	f.nextID++
	t.ID = fmt.Sprintf("tx-%d", f.nextID)
	t.InvoiceID = fmt.Sprintf("inv-%d", f.nextID)
	t.Status = ledger.StatusPending
	f.byID[t.ID] = t
	f.byInvoice[t.InvoiceID] = t
	return t, nil
}

func (f *fakeLedger) AttachPaymentURL(ctx context.Context, id, url string) error {
	f.attachedURL[id] = url
	if t, ok := f.byID[id]; ok {
		t.PaymentURL = url
	}
	return nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id string) (*ledger.Transaction, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, common.ErrTransactionNotFound
	}
	return t, nil
}

func (f *fakeLedger) GetByInvoiceID(ctx context.Context, invoiceID string) (*ledger.Transaction, error) {
	t, ok := f.byInvoice[invoiceID]
	if !ok {
		return nil, common.ErrTransactionNotFound
	}
	return t, nil
}

func (f *fakeLedger) CompletePurchase(ctx context.Context, id, rawPayload string, bonusPercent int64) (bool, error) {
	t, ok := f.byID[id]
	if !ok {
		return false, common.ErrTransactionNotFound
	}
	if t.Status != ledger.StatusPending {
		return false, nil
	}
	t.Status = ledger.StatusCompleted
	t.PaymentData = rawPayload
	f.completions++
	f.lastBonus = bonusPercent
	return true, nil
}

func (f *fakeLedger) MarkFailed(ctx context.Context, id, rawPayload string) (bool, error) {
	f.failed = append(f.failed, id)
	f.byID[id].Status = ledger.StatusFailed
	return true, nil
}

func (f *fakeLedger) MarkCancelled(ctx context.Context, id, rawPayload string) (bool, error) {
	f.cancelled = append(f.cancelled, id)
	f.byID[id].Status = ledger.StatusCancelled
	return true, nil
}

func (f *fakeLedger) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	for _, t := range f.byID {
		if t.Status == ledger.StatusPending {
			out = append(out, t)
		}
	}
	return out, nil
}

// fakeDir — каталог пользователей в памяти.
type fakeDir struct {
	users map[string]*users.User
}

func (f *fakeDir) GetByID(ctx context.Context, id string) (*users.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return u, nil
}

// fakePrices — фиксированные цены.
type fakePrices struct {
	stars decimal.Decimal
	ton   decimal.Decimal
}

func (f *fakePrices) GetPrice(ctx context.Context, currency string) (decimal.Decimal, error) {
	switch currency {
	case ledger.CurrencyStars:
		return f.stars, nil
	case ledger.CurrencyTon:
		return f.ton, nil
	default:
		return decimal.Zero, common.ErrInvalidCurrency
	}
}

// fakeEngineSettings — процент бонуса.
type fakeEngineSettings struct{ bonusPercent int }

func (f *fakeEngineSettings) GetInt(ctx context.Context, key string) (int, error) {
	return f.bonusPercent, nil
}

// fakeAdapter — управляемый платёжный адаптер.
type fakeAdapter struct {
	key       string
	verify    bool
	notif     *gateway.Notification
	status    gateway.Status
	statusErr error
}

func (a *fakeAdapter) Key() string { return a.key }

func (a *fakeAdapter) BuildPaymentURL(p gateway.PaymentParams) (string, error) {
	return "https://pay.example/" + p.InvoiceID, nil
}

func (a *fakeAdapter) VerifyWebhook(fields map[string]string, sourceIP string) bool {
	return a.verify
}

func (a *fakeAdapter) ParseNotification(fields map[string]string) (*gateway.Notification, error) {
	if a.notif == nil {
		return nil, errors.New("нет уведомления")
	}
	return a.notif, nil
}

func (a *fakeAdapter) CheckStatus(ctx context.Context, invoiceID string) (gateway.Status, error) {
	return a.status, a.statusErr
}

func (a *fakeAdapter) Ack() (string, string) { return "text/plain", "OK" }

func testEngine(adapter *fakeAdapter) (*Engine, *fakeLedger) {
	l := newFakeLedger()
	dir := &fakeDir{users: map[string]*users.User{
		"user-1": {ID: "user-1", TelegramID: 100},
	}}
	prices := &fakePrices{stars: dec("2.30"), ton: dec("420")}
	e := NewEngine(l, dir, prices, &fakeEngineSettings{bonusPercent: 10},
		gateway.NewRegistry(adapter))
	return e, l
}

func TestCreatePurchaseStars(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa}
	e, l := testEngine(adapter)

	res, err := e.CreatePurchase(context.Background(), CreateRequest{
		UserID:   "user-1",
		Currency: ledger.CurrencyStars,
		Amount:   dec("100"),
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	// 100 звёзд × 2.30 = 230.00
	if !res.RubAmount.Equal(dec("230.00")) {
		t.Errorf("RubAmount = %s, ожидалось 230.00", res.RubAmount)
	}
	if res.PaymentURL != "https://pay.example/"+res.InvoiceID {
		t.Errorf("PaymentURL = %q", res.PaymentURL)
	}

	created := l.byID[res.TransactionID]
	if created == nil {
		t.Fatal("транзакция не создана")
	}
	if created.Status != ledger.StatusPending {
		t.Errorf("статус = %q, ожидался pending", created.Status)
	}
	if created.PaymentSystem != gateway.KeyFreekassa {
		t.Errorf("payment_system = %q", created.PaymentSystem)
	}
	if l.attachedURL[res.TransactionID] == "" {
		t.Error("ссылка на оплату не сохранена")
	}
}

func TestCreatePurchaseTonSnapshotsPrice(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa}
	e, l := testEngine(adapter)

	res, err := e.CreatePurchase(context.Background(), CreateRequest{
		UserID:   "user-1",
		Currency: ledger.CurrencyTon,
		Amount:   dec("0.5"),
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	created := l.byID[res.TransactionID]
	if created.TonPriceAtPurchase == nil {
		t.Fatal("цена TON не зафиксирована на транзакции")
	}
	if !created.TonPriceAtPurchase.Equal(dec("420")) {
		t.Errorf("снимок цены = %s, ожидалось 420", created.TonPriceAtPurchase)
	}
	if !res.RubAmount.Equal(dec("210.00")) {
		t.Errorf("RubAmount = %s, ожидалось 210.00", res.RubAmount)
	}
}

func TestCreatePurchaseValidation(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa}
	e, _ := testEngine(adapter)
	ctx := context.Background()

	cases := []struct {
		name    string
		req     CreateRequest
		wantErr error
	}{
		{"меньше минимума звёзд", CreateRequest{UserID: "user-1", Currency: "stars", Amount: dec("49")}, common.ErrInvalidAmount},
		{"дробные звёзды", CreateRequest{UserID: "user-1", Currency: "stars", Amount: dec("50.5")}, common.ErrInvalidAmount},
		{"меньше минимума TON", CreateRequest{UserID: "user-1", Currency: "ton", Amount: dec("0.05")}, common.ErrInvalidAmount},
		{"неизвестная валюта", CreateRequest{UserID: "user-1", Currency: "eur", Amount: dec("10")}, common.ErrInvalidCurrency},
		{"неизвестный пользователь", CreateRequest{UserID: "ghost", Currency: "stars", Amount: dec("100")}, common.ErrUserNotFound},
		{"неизвестный шлюз", CreateRequest{UserID: "user-1", Currency: "stars", Amount: dec("100"), PaymentSystem: "paypal"}, common.ErrUnknownGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.CreatePurchase(ctx, tc.req); !errors.Is(err, tc.wantErr) {
				t.Errorf("ожидалось %v, получено %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreatePurchaseQuoteTolerance(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa}
	e, _ := testEngine(adapter)
	ctx := context.Background()

	// Сервер насчитает 230.00. Расхождение в 1 рубль допустимо.
	if _, err := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"), RubAmount: dec("229.50"),
	}); err != nil {
		t.Errorf("расхождение в пределах допуска отклонено: %v", err)
	}

	if _, err := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"), RubAmount: dec("228.00"),
	}); !errors.Is(err, common.ErrPriceMismatch) {
		t.Errorf("ожидался ErrPriceMismatch, получено %v", err)
	}
}

func TestReceiveWebhookCompletes(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa, verify: true}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, err := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"),
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	adapter.notif = &gateway.Notification{InvoiceID: res.InvoiceID, Amount: dec("230.00")}

	ct, body, err := e.ReceiveWebhook(ctx, gateway.KeyFreekassa, map[string]string{"SIGN": "x"}, "")
	if err != nil {
		t.Fatalf("ReceiveWebhook: %v", err)
	}
	if ct != "text/plain" || body != "OK" {
		t.Errorf("ack = %q/%q", ct, body)
	}

	if l.byID[res.TransactionID].Status != ledger.StatusCompleted {
		t.Error("транзакция не завершена")
	}
	if l.completions != 1 {
		t.Errorf("начислений: %d, ожидалось 1", l.completions)
	}
	if l.lastBonus != 10 {
		t.Errorf("процент бонуса = %d, ожидалось 10 из настроек", l.lastBonus)
	}
}

func TestReceiveWebhookReplayIsNoop(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa, verify: true}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, _ := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"),
	})
	adapter.notif = &gateway.Notification{InvoiceID: res.InvoiceID, Amount: dec("230.00")}

	fields := map[string]string{"SIGN": "x"}
	if _, _, err := e.ReceiveWebhook(ctx, gateway.KeyFreekassa, fields, ""); err != nil {
		t.Fatalf("первый webhook: %v", err)
	}
	// Повтор должен подтвердиться, но ничего не начислить
	if _, _, err := e.ReceiveWebhook(ctx, gateway.KeyFreekassa, fields, ""); err != nil {
		t.Fatalf("повторный webhook: %v", err)
	}

	if l.completions != 1 {
		t.Errorf("начислений: %d, повтор не должен начислять второй раз", l.completions)
	}
}

func TestReceiveWebhookInvalidSignature(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa, verify: false}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, _ := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"),
	})
	adapter.notif = &gateway.Notification{InvoiceID: res.InvoiceID, Amount: dec("230.00")}

	_, _, err := e.ReceiveWebhook(ctx, gateway.KeyFreekassa, map[string]string{}, "")
	if !errors.Is(err, common.ErrInvalidSignature) {
		t.Fatalf("ожидался ErrInvalidSignature, получено %v", err)
	}
	if l.completions != 0 {
		t.Error("невалидная подпись не должна менять состояние")
	}
	if l.byID[res.TransactionID].Status != ledger.StatusPending {
		t.Error("транзакция должна остаться pending")
	}
}

func TestReceiveWebhookUnknownInvoice(t *testing.T) {
	adapter := &fakeAdapter{
		key: gateway.KeyFreekassa, verify: true,
		notif: &gateway.Notification{InvoiceID: "ghost", Amount: dec("230.00")},
	}
	e, l := testEngine(adapter)

	_, _, err := e.ReceiveWebhook(context.Background(), gateway.KeyFreekassa, map[string]string{}, "")
	if !errors.Is(err, common.ErrTransactionNotFound) {
		t.Fatalf("ожидался ErrTransactionNotFound, получено %v", err)
	}
	if l.completions != 0 {
		t.Error("подделанный invoice не должен ничего начислять")
	}
}

func TestReceiveWebhookAmountMismatch(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa, verify: true}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, _ := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"),
	})

	t.Run("расхождение больше копейки отклоняется", func(t *testing.T) {
		adapter.notif = &gateway.Notification{InvoiceID: res.InvoiceID, Amount: dec("229.98")}
		_, _, err := e.ReceiveWebhook(ctx, gateway.KeyFreekassa, map[string]string{}, "")
		if !errors.Is(err, common.ErrAmountMismatch) {
			t.Fatalf("ожидался ErrAmountMismatch, получено %v", err)
		}
		if l.completions != 0 {
			t.Error("заниженная сумма не должна начисляться")
		}
	})

	t.Run("расхождение в копейку допустимо", func(t *testing.T) {
		adapter.notif = &gateway.Notification{InvoiceID: res.InvoiceID, Amount: dec("230.01")}
		if _, _, err := e.ReceiveWebhook(ctx, gateway.KeyFreekassa, map[string]string{}, ""); err != nil {
			t.Fatalf("копеечное расхождение отклонено: %v", err)
		}
	})
}

func TestReceiveWebhookFailedStatus(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFragment, verify: true}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, _ := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"), PaymentSystem: gateway.KeyFragment,
	})
	adapter.notif = &gateway.Notification{InvoiceID: res.InvoiceID, Amount: dec("230.00"), Status: "failed"}

	if _, _, err := e.ReceiveWebhook(ctx, gateway.KeyFragment, map[string]string{}, ""); err != nil {
		t.Fatalf("ReceiveWebhook: %v", err)
	}
	if len(l.failed) != 1 || l.failed[0] != res.TransactionID {
		t.Error("транзакция не помечена failed")
	}
	if l.completions != 0 {
		t.Error("неуспешный исход не должен начислять")
	}
}

func TestReceiveWebhookUnknownGateway(t *testing.T) {
	e, _ := testEngine(&fakeAdapter{key: gateway.KeyFreekassa})
	_, _, err := e.ReceiveWebhook(context.Background(), "paypal", map[string]string{}, "")
	if !errors.Is(err, common.ErrUnknownGateway) {
		t.Errorf("ожидался ErrUnknownGateway, получено %v", err)
	}
}

func TestCheckStatusReconcilesPaid(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa, status: gateway.StatusPaid}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, _ := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"),
	})

	got, err := e.CheckStatus(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if got.Status != ledger.StatusCompleted {
		t.Errorf("статус = %q, опрос должен был завершить покупку", got.Status)
	}
	if l.completions != 1 {
		t.Errorf("начислений: %d", l.completions)
	}
}

func TestCheckStatusReconcilesCancelled(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa, status: gateway.StatusCancelled}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, _ := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"),
	})

	got, err := e.CheckStatus(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if got.Status != ledger.StatusCancelled {
		t.Errorf("статус = %q, ожидался cancelled", got.Status)
	}
	if len(l.cancelled) != 1 {
		t.Error("MarkCancelled не вызван")
	}
}

func TestCheckStatusTerminalUntouched(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa, status: gateway.StatusPaid, verify: true}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, _ := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"),
	})
	adapter.notif = &gateway.Notification{InvoiceID: res.InvoiceID, Amount: dec("230.00")}
	if _, _, err := e.ReceiveWebhook(ctx, gateway.KeyFreekassa, map[string]string{}, ""); err != nil {
		t.Fatalf("ReceiveWebhook: %v", err)
	}

	if _, err := e.CheckStatus(ctx, res.TransactionID); err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if l.completions != 1 {
		t.Errorf("повторный опрос завершённой покупки начислил ещё раз: %d", l.completions)
	}
}

func TestSweepPending(t *testing.T) {
	adapter := &fakeAdapter{key: gateway.KeyFreekassa, status: gateway.StatusPaid}
	e, l := testEngine(adapter)
	ctx := context.Background()

	res, _ := e.CreatePurchase(ctx, CreateRequest{
		UserID: "user-1", Currency: "stars", Amount: dec("100"),
	})

	checked := e.SweepPending(ctx, 10*time.Minute, 50)
	if checked != 1 {
		t.Errorf("проверено %d, ожидалась 1", checked)
	}
	if l.byID[res.TransactionID].Status != ledger.StatusCompleted {
		t.Error("досмотр не завершил оплаченную покупку")
	}
}
