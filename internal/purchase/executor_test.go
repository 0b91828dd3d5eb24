package purchase

import (
	"context"
	"errors"
	"testing"
	"time"

	"snipebot/internal/catalog"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

type fakeProvider struct {
	fn func(ctx context.Context, intent catalog.PurchaseIntent) (Result, error)
}

func (f *fakeProvider) AttemptPurchase(ctx context.Context, intent catalog.PurchaseIntent) (Result, error) {
	return f.fn(ctx, intent)
}

func testIntent() catalog.PurchaseIntent {
	return catalog.PurchaseIntent{PlanCode: "24sk202", Datacenter: "gra", Quantity: 1}
}

func TestAttemptSuccess(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{fn: func(context.Context, catalog.PurchaseIntent) (Result, error) {
		return Result{OrderID: "o-42", OrderURL: "https://x/o-42"}, nil
	}}
	e := NewExecutor(p, time.Second, logx.Nop())

	out := e.Attempt(context.Background(), testIntent())
	if out.Class != queue.OutcomeSuccess || out.OrderID != "o-42" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestAttemptClassifiesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want queue.OutcomeClass
	}{
		{"plain error is transient", errors.New("provider 500"), queue.OutcomeTransient},
		{"permanent mark sticks", Permanent(errors.New("plan retired")), queue.OutcomePermanent},
		{"wrapped permanent mark sticks", Permanent(errors.New("bad options")), queue.OutcomePermanent},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &fakeProvider{fn: func(context.Context, catalog.PurchaseIntent) (Result, error) {
				return Result{}, tc.err
			}}
			out := NewExecutor(p, time.Second, logx.Nop()).Attempt(context.Background(), testIntent())
			if out.Class != tc.want {
				t.Fatalf("class = %s, want %s", out.Class, tc.want)
			}
			if out.Message == "" {
				t.Fatal("failure outcome carries no message")
			}
		})
	}
}

func TestAttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{fn: func(ctx context.Context, _ catalog.PurchaseIntent) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}}
	e := NewExecutor(p, 20*time.Millisecond, logx.Nop())

	out := e.Attempt(context.Background(), testIntent())
	if out.Class != queue.OutcomeTransient {
		t.Fatalf("timeout class = %s, want transient", out.Class)
	}
}

func TestPermanentNilPassthrough(t *testing.T) {
	t.Parallel()

	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) != nil")
	}
	if IsPermanent(errors.New("x")) {
		t.Fatal("plain error reported permanent")
	}
}
