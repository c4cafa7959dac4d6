package guard

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/settlement_engine/internal/errors"
)

func TestEnterRejectsReentry(t *testing.T) {
	g := New()

	ctx, release, err := g.Enter(context.Background(), "buy")
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer release()

	if !Held(ctx) {
		t.Fatal("Held must report true inside an operation")
	}

	_, _, err = g.Enter(ctx, "buy")
	if !stderrors.Is(err, errors.Reentrancy("")) {
		t.Fatalf("re-entry = %v, want Reentrancy", err)
	}
}

func TestIndependentCallersSerialize(t *testing.T) {
	g := New()

	ctx1, release1, err := g.Enter(context.Background(), "list")
	if err != nil {
		t.Fatal(err)
	}
	_ = ctx1

	var order []int
	var mu sync.Mutex
	done := make(chan struct{})

	go func() {
		_, release2, err := g.Enter(context.Background(), "cancel")
		if err != nil {
			t.Errorf("second Enter: %v", err)
			close(done)
			return
		}
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		release2()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	release1()

	<-done
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want first holder to finish first", order)
	}
}

func TestHeldFalseOutside(t *testing.T) {
	if Held(context.Background()) {
		t.Fatal("Held on a fresh context must be false")
	}
}
