package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tourbook/internal/app"
	"tourbook/internal/domain"
)

func TestValidateTicket_RedeemsOnce(t *testing.T) {
	s := seededStore()
	putBooking(t, s, "b-1", testNow.Add(2*time.Hour), domain.BookingConfirmed)
	svc := app.NewTicketValidationService(s, fixedClock(testNow), nopLog())

	b, err := svc.ValidateTicket(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if b.TicketStatus != domain.TicketRedeemed || b.RedeemedAt == nil {
		t.Fatalf("ticket: %s %v", b.TicketStatus, b.RedeemedAt)
	}

	_, err = svc.ValidateTicket(context.Background(), "b-1")
	if !errors.Is(err, domain.ErrAlreadyRedeemed) {
		t.Fatalf("expected already redeemed, got %v", err)
	}
}

func TestValidateTicket_ExpiredAfterCancel(t *testing.T) {
	s := seededStore()
	putBooking(t, s, "b-1", testNow.Add(72*time.Hour), domain.BookingConfirmed)
	if _, err := s.CancelBooking(context.Background(), "b-1", testNow); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	svc := app.NewTicketValidationService(s, fixedClock(testNow), nopLog())

	_, err := svc.ValidateTicket(context.Background(), "b-1")
	if !errors.Is(err, domain.ErrTicketExpired) || domain.KindOf(err) != domain.KindExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestValidateTicket_NotFound(t *testing.T) {
	svc := app.NewTicketValidationService(seededStore(), fixedClock(testNow), nopLog())
	if _, err := svc.ValidateTicket(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidateTicket_ConcurrentScansOneWinner(t *testing.T) {
	s := seededStore()
	putBooking(t, s, "b-1", testNow.Add(time.Hour), domain.BookingConfirmed)
	svc := app.NewTicketValidationService(s, fixedClock(testNow), nopLog())

	const n = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		redeemed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ValidateTicket(context.Background(), "b-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyRedeemed):
				redeemed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || redeemed != n-1 {
		t.Fatalf("winners=%d already_redeemed=%d", ok, redeemed)
	}
}
