package tests

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"towing/internal/config"
	"towing/internal/domain"
	"towing/internal/service"
)

func TestReconciler_DirectedRequestWinsOverPool(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addProvider("provider-a", &saoPauloOrigin)
	env.addRequest("req-pool", domain.RequestStatusPending, "")
	env.addRequest("req-directed", domain.RequestStatusDirected, "provider-a")

	offer, err := env.dispatchService.NewReconciler("provider-a").Reevaluate(ctx)
	if err != nil {
		t.Fatalf("reevaluate failed: %v", err)
	}
	if offer == nil || offer.Request.ID != "req-directed" || !offer.Directed {
		t.Fatalf("expected directed offer, got %+v", offer)
	}
}

func TestReconciler_NearestPendingFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addProvider("provider-a", &saoPauloOrigin)

	far := env.addRequest("req-far", domain.RequestStatusPending, "")
	far.Origin = domain.Coordinates{Lat: -23.70, Lng: -46.80}
	env.requests.AddRequest(far)
	env.addRequest("req-near", domain.RequestStatusPending, "")

	offer, err := env.dispatchService.NewReconciler("provider-a").Reevaluate(ctx)
	if err != nil {
		t.Fatalf("reevaluate failed: %v", err)
	}
	if offer == nil || offer.Request.ID != "req-near" {
		t.Fatalf("expected nearest request, got %+v", offer)
	}
	if offer.Directed {
		t.Error("expected a pool offer")
	}
	if offer.DistanceKm > 0.1 {
		t.Errorf("expected near request at the provider position, got %.2f km", offer.DistanceKm)
	}
}

func TestReconciler_PoolRequiresOnlineIdleProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("offline", func(t *testing.T) {
		env := newTestEnv()
		env.providers.AddProvider(&domain.Provider{ID: "provider-a", Status: domain.ProviderStatusOffline, Position: &saoPauloOrigin})
		env.addRequest("req-1", domain.RequestStatusPending, "")

		offer, err := env.dispatchService.NewReconciler("provider-a").Reevaluate(ctx)
		if err != nil || offer != nil {
			t.Fatalf("expected no offer for an offline provider, got %+v, %v", offer, err)
		}
	})

	t.Run("no position", func(t *testing.T) {
		env := newTestEnv()
		env.addProvider("provider-a", nil)
		env.addRequest("req-1", domain.RequestStatusPending, "")

		offer, err := env.dispatchService.NewReconciler("provider-a").Reevaluate(ctx)
		if err != nil || offer != nil {
			t.Fatalf("expected no offer without a position, got %+v, %v", offer, err)
		}
	})

	t.Run("busy", func(t *testing.T) {
		env := newTestEnv()
		env.addProvider("provider-a", &saoPauloOrigin)
		env.addRequest("req-active", domain.RequestStatusOnSite, "provider-a")
		env.addRequest("req-1", domain.RequestStatusPending, "")

		offer, err := env.dispatchService.NewReconciler("provider-a").Reevaluate(ctx)
		if err != nil || offer != nil {
			t.Fatalf("expected no offer for a busy provider, got %+v, %v", offer, err)
		}
	})
}

func TestReconciler_DeduplicatesByIDAndStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addProvider("provider-a", &saoPauloOrigin)
	env.addRequest("req-1", domain.RequestStatusPending, "")

	r := env.dispatchService.NewReconciler("provider-a")

	first, err := r.Reevaluate(ctx)
	if err != nil || first == nil {
		t.Fatalf("expected first offer, got %+v, %v", first, err)
	}
	for i := 0; i < 3; i++ {
		again, err := r.Reevaluate(ctx)
		if err != nil {
			t.Fatalf("reevaluate failed: %v", err)
		}
		if again != nil {
			t.Fatalf("expected redundant reevaluation to surface nothing, got %+v", again)
		}
	}

	if _, err := env.dispatchService.AssignDirected(ctx, operatorActor, "req-1", "provider-a"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	directed, err := r.Reevaluate(ctx)
	if err != nil {
		t.Fatalf("reevaluate failed: %v", err)
	}
	if directed == nil || !directed.Directed || directed.Request.ID != "req-1" {
		t.Fatalf("expected the status change to resurface the request, got %+v", directed)
	}
}

func TestReconciler_DeclinedRequestNotOfferedAgain(t *testing.T) {
	ctx := context.Background()

	t.Run("declined directed request", func(t *testing.T) {
		env := newTestEnv()
		env.addProvider("provider-a", &saoPauloOrigin)
		env.addRequest("req-1", domain.RequestStatusDirected, "provider-a")

		r := env.dispatchService.NewReconciler("provider-a")
		offer, err := r.Reevaluate(ctx)
		if err != nil || offer == nil || !offer.Directed {
			t.Fatalf("expected directed offer, got %+v, %v", offer, err)
		}

		if _, err := env.dispatchService.Decline(ctx, "provider-a", "req-1"); err != nil {
			t.Fatalf("decline failed: %v", err)
		}
		again, err := r.Reevaluate(ctx)
		if err != nil {
			t.Fatalf("reevaluate failed: %v", err)
		}
		if again != nil {
			t.Fatalf("expected the declined request to stay away, got id=%s directed=%v", again.Request.ID, again.Directed)
		}
	})

	t.Run("expired offer", func(t *testing.T) {
		env := newTestEnv(func(d *config.DispatchConfig, _ *config.TrackingConfig) {
			d.OfferWindow = 20 * time.Millisecond
		})
		env.addProvider("provider-a", &saoPauloOrigin)
		env.addRequest("req-1", domain.RequestStatusDirected, "provider-a")

		r := env.dispatchService.NewReconciler("provider-a")
		if offer, err := r.Reevaluate(ctx); err != nil || offer == nil {
			t.Fatalf("expected directed offer, got %+v, %v", offer, err)
		}
		env.dispatchService.Offer("provider-a", "req-1")

		ok := waitFor(time.Second, func() bool {
			return env.requests.GetRequest("req-1").Status == domain.RequestStatusPending
		})
		if !ok {
			t.Fatal("expected the offer to expire")
		}
		if again, err := r.Reevaluate(ctx); err != nil || again != nil {
			t.Fatalf("expected the expired request to stay away, got %+v, %v", again, err)
		}
	})

	t.Run("next nearest surfaces instead", func(t *testing.T) {
		env := newTestEnv()
		env.addProvider("provider-a", &saoPauloOrigin)
		env.addRequest("req-near", domain.RequestStatusPending, "")
		far := env.addRequest("req-far", domain.RequestStatusPending, "")
		far.Origin = domain.Coordinates{Lat: -23.60, Lng: -46.70}
		env.requests.AddRequest(far)

		r := env.dispatchService.NewReconciler("provider-a")
		first, err := r.Reevaluate(ctx)
		if err != nil || first == nil || first.Request.ID != "req-near" {
			t.Fatalf("expected req-near first, got %+v, %v", first, err)
		}
		if _, err := env.dispatchService.Decline(ctx, "provider-a", "req-near"); err != nil {
			t.Fatalf("decline failed: %v", err)
		}
		next, err := r.Reevaluate(ctx)
		if err != nil || next == nil || next.Request.ID != "req-far" {
			t.Fatalf("expected req-far after declining req-near, got %+v, %v", next, err)
		}
	})

	t.Run("other providers still see it", func(t *testing.T) {
		env := newTestEnv()
		env.addProvider("provider-a", &saoPauloOrigin)
		env.addProvider("provider-b", &saoPauloOrigin)
		env.addRequest("req-1", domain.RequestStatusDirected, "provider-a")

		if _, err := env.dispatchService.Decline(ctx, "provider-a", "req-1"); err != nil {
			t.Fatalf("decline failed: %v", err)
		}
		offer, err := env.dispatchService.NewReconciler("provider-b").Reevaluate(ctx)
		if err != nil || offer == nil || offer.Request.ID != "req-1" {
			t.Fatalf("expected provider-b to be offered req-1, got %+v, %v", offer, err)
		}
	})
}

func TestReconciler_PollsWhenFeedUnavailable(t *testing.T) {
	env := newTestEnv()
	env.feed.SetSubscribeError(errors.New("redis: connection refused"))
	env.addProvider("provider-a", &saoPauloOrigin)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	offers := make(chan service.Offer, 4)
	done := make(chan error, 1)
	go func() {
		done <- env.dispatchService.NewReconciler("provider-a").Run(ctx, func(o service.Offer) {
			offers <- o
		})
	}()

	time.Sleep(20 * time.Millisecond)
	env.addRequest("req-1", domain.RequestStatusPending, "")

	select {
	case o := <-offers:
		if o.Request.ID != "req-1" {
			t.Errorf("expected req-1, got %s", o.Request.ID)
		}
	case <-ctx.Done():
		t.Fatal("expected the poll to surface the request without the feed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func TestReconciler_FeedTriggersReevaluation(t *testing.T) {
	env := newTestEnv(func(d *config.DispatchConfig, _ *config.TrackingConfig) {
		d.PollInterval = time.Hour
	})
	env.clients.AddClient(&domain.Client{ID: clientActor.ID})
	env.addProvider("provider-a", &saoPauloOrigin)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	offers := make(chan service.Offer, 4)
	go func() {
		_ = env.dispatchService.NewReconciler("provider-a").Run(ctx, func(o service.Offer) {
			offers <- o
		})
	}()

	if !waitFor(time.Second, func() bool { return env.feed.ActiveSubscriptions() > 0 }) {
		t.Fatal("expected the reconciler to subscribe to the feed")
	}

	dest := saoPauloDest
	created, err := env.requestService.Create(ctx, clientActor, service.CreateRequestInput{
		Origin:      saoPauloOrigin,
		Destination: &dest,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	select {
	case o := <-offers:
		if o.Request.ID != created.ID {
			t.Errorf("expected %s, got %s", created.ID, o.Request.ID)
		}
	case <-ctx.Done():
		t.Fatal("expected the feed event to surface the request before the next poll")
	}
}

func TestReconciler_ResubscribesAfterDrop(t *testing.T) {
	env := newTestEnv(func(d *config.DispatchConfig, _ *config.TrackingConfig) {
		d.PollInterval = 30 * time.Millisecond
	})
	env.addProvider("provider-a", &saoPauloOrigin)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = env.dispatchService.NewReconciler("provider-a").Run(ctx, func(service.Offer) {})
	}()

	if !waitFor(time.Second, func() bool { return env.feed.ActiveSubscriptions() > 0 }) {
		t.Fatal("expected an initial subscription")
	}
	env.feed.DropAll()

	if !waitFor(time.Second, func() bool { return env.feed.ActiveSubscriptions() > 0 }) {
		t.Fatal("expected the reconciler to resubscribe")
	}
	if n := atomic.LoadInt32(&env.feed.SubscribeCallCount); n < 2 {
		t.Errorf("expected at least two subscriptions, got %d", n)
	}
}

func TestTerminalObserver_FiresOncePerRequest(t *testing.T) {
	obs := service.NewTerminalObserver()
	req := &domain.Request{ID: "req-1", Status: domain.RequestStatusOnSite}

	if _, ok := obs.Observe(req); ok {
		t.Fatal("expected no signal for an active request")
	}

	req.Status = domain.RequestStatusFinalized
	signal, ok := obs.Observe(req)
	if !ok || signal != service.TerminalRating {
		t.Fatalf("expected rating signal, got %q %v", signal, ok)
	}
	if _, ok := obs.Observe(req); ok {
		t.Error("expected the terminal signal to fire only once")
	}

	cancelled := &domain.Request{ID: "req-2", Status: domain.RequestStatusCancelled}
	if signal, ok := obs.Observe(cancelled); !ok || signal != service.TerminalClosed {
		t.Errorf("expected closed signal, got %q %v", signal, ok)
	}
}

func TestRequestWatcher_EmitsChangesThenTerminalOnce(t *testing.T) {
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusPending, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events := make(chan service.StatusEvent, 16)
	done := make(chan error, 1)
	go func() {
		done <- env.requestService.NewRequestWatcher("req-1").Run(ctx, func(ev service.StatusEvent) {
			events <- ev
		})
	}()

	first := <-events
	if first.Request.Status != domain.RequestStatusPending || first.Terminal != "" {
		t.Fatalf("expected initial pending event, got %s %q", first.Request.Status, first.Terminal)
	}

	if _, err := env.dispatchService.Claim(ctx, "provider-a", "req-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	claimed := <-events
	if claimed.Request.Status != domain.RequestStatusInProgress {
		t.Fatalf("expected em_andamento event, got %s", claimed.Request.Status)
	}

	env.requests.SetStatus("req-1", domain.RequestStatusFinalized)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watcher failed: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("expected the watcher to stop after the terminal event")
	}
	close(events)

	terminals := 0
	for ev := range events {
		if ev.Terminal != "" {
			terminals++
			if ev.Terminal != service.TerminalRating {
				t.Errorf("expected rating signal, got %q", ev.Terminal)
			}
		}
	}
	if terminals != 1 {
		t.Errorf("expected exactly one terminal event, got %d", terminals)
	}
}

func TestRequestWatcher_CancelledRequestClosesStream(t *testing.T) {
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusCancelled, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []service.StatusEvent
	err := env.requestService.NewRequestWatcher("req-1").Run(ctx, func(ev service.StatusEvent) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	if len(got) != 1 || got[0].Terminal != service.TerminalClosed {
		t.Fatalf("expected a single closed event, got %+v", got)
	}
}
