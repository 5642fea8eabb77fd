package tests

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"towing/internal/domain"
	"towing/internal/service"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.001
}

func TestAdvance_ArrivesOnSite(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusInProgress, "provider-a")

	req, err := env.lifecycleService.Advance(ctx, "provider-a", "req-1")
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if req.Status != domain.RequestStatusOnSite {
		t.Errorf("expected no_local, got %s", req.Status)
	}
	if n := env.pusher.sentTo(clientActor.ID, service.NotificationStatusChanged); n != 1 {
		t.Errorf("expected client to be notified once, got %d", n)
	}
	if events := env.feed.PublishedFor(domain.TableRequests, "req-1"); len(events) != 1 || events[0].Status != domain.RequestStatusOnSite {
		t.Errorf("expected one update event, got %+v", events)
	}
}

func TestAdvance_GatedStepRequiresChecklist(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")

	_, err := env.lifecycleService.Advance(ctx, "provider-a", "req-1")
	var gate *service.GateError
	if !errors.As(err, &gate) {
		t.Fatalf("expected GateError, got %v", err)
	}
	if gate.Phase != domain.ChecklistPhaseStart {
		t.Errorf("expected phase inicio, got %s", gate.Phase)
	}
	if !errors.Is(err, service.ErrChecklistRequired) {
		t.Error("expected GateError to unwrap to ErrChecklistRequired")
	}
	if got := env.requests.GetRequest("req-1"); got.Status != domain.RequestStatusOnSite {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
}

func TestAdvance_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("not assigned", func(t *testing.T) {
		env := newTestEnv()
		env.addRequest("req-1", domain.RequestStatusInProgress, "provider-a")

		_, err := env.lifecycleService.Advance(ctx, "provider-b", "req-1")
		if !errors.Is(err, service.ErrNotAssignedProvider) {
			t.Fatalf("expected ErrNotAssignedProvider, got %v", err)
		}
	})

	t.Run("finalized", func(t *testing.T) {
		env := newTestEnv()
		env.addRequest("req-1", domain.RequestStatusFinalized, "provider-a")

		_, err := env.lifecycleService.Advance(ctx, "provider-a", "req-1")
		var conflict *service.ConflictError
		if !errors.As(err, &conflict) || !errors.Is(err, service.ErrTransitionNotApplicable) {
			t.Fatalf("expected transition conflict, got %v", err)
		}
		if conflict.Current.Status != domain.RequestStatusFinalized {
			t.Errorf("expected current status finalizado, got %s", conflict.Current.Status)
		}
	})

	t.Run("status moved underneath", func(t *testing.T) {
		env := newTestEnv()
		env.addRequest("req-1", domain.RequestStatusInProgress, "provider-a")
		env.requests.BeforeUpdate = func(id string) {
			env.requests.SetStatus(id, domain.RequestStatusOnSite)
		}

		_, err := env.lifecycleService.Advance(ctx, "provider-a", "req-1")
		var conflict *service.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if conflict.Current == nil || conflict.Current.Status != domain.RequestStatusOnSite {
			t.Errorf("expected authoritative no_local state, got %+v", conflict.Current)
		}
	})
}

func TestSubmitChecklist_IncompleteIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")

	in := completeChecklist("req-1", domain.ChecklistPhaseStart)
	in.FrontPhotoURL = "  "
	in.Items[0].Checked = false

	_, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", in)
	var gate *service.GateError
	if !errors.As(err, &gate) {
		t.Fatalf("expected GateError, got %v", err)
	}
	want := map[string]bool{
		"front_photo":                            true,
		"item:Veículo identificado corretamente": true,
	}
	if len(gate.Missing) != len(want) {
		t.Fatalf("expected %d missing entries, got %v", len(want), gate.Missing)
	}
	for _, m := range gate.Missing {
		if !want[m] {
			t.Errorf("unexpected missing entry %q", m)
		}
	}

	if env.checklists.CountChecklists() != 0 {
		t.Error("expected no checklist to be stored")
	}
	if got := env.requests.GetRequest("req-1"); got.Status != domain.RequestStatusOnSite {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
}

func TestSubmitChecklist_OptionalItemsMayStayUnchecked(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")

	in := completeChecklist("req-1", domain.ChecklistPhaseStart)
	for i := range in.Items {
		if !in.Items[i].Required {
			in.Items[i].Checked = false
		}
	}

	req, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", in)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if req.Status != domain.RequestStatusEnRoute {
		t.Errorf("expected em_viagem, got %s", req.Status)
	}
}

func TestSubmitChecklist_StartCommitsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")

	in := completeChecklist("req-1", domain.ChecklistPhaseStart)
	req, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", in)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if req.Status != domain.RequestStatusEnRoute {
		t.Fatalf("expected em_viagem, got %s", req.Status)
	}
	if env.checklists.CountChecklists() != 1 {
		t.Errorf("expected one stored checklist, got %d", env.checklists.CountChecklists())
	}
	if env.transactor.CommitCount != 1 {
		t.Errorf("expected one committed transaction, got %d", env.transactor.CommitCount)
	}

	again, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", in)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if again.Status != domain.RequestStatusEnRoute {
		t.Errorf("expected resubmit to return em_viagem, got %s", again.Status)
	}
	if env.checklists.CountChecklists() != 1 {
		t.Error("expected resubmit not to store a second checklist")
	}
	if env.transactor.CommitCount != 1 {
		t.Error("expected resubmit not to open a transaction")
	}
}

func TestSubmitChecklist_ReusesExistingChecklist(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")

	// checklist written earlier by a submission whose status write never landed
	earlier := completeChecklist("req-1", domain.ChecklistPhaseStart)
	env.checklists.AddChecklist(&domain.Checklist{
		ID:            "checklist-earlier",
		RequestID:     "req-1",
		ProviderID:    "provider-a",
		Phase:         domain.ChecklistPhaseStart,
		FrontPhotoURL: earlier.FrontPhotoURL,
		RearPhotoURL:  earlier.RearPhotoURL,
		Items:         earlier.Items,
		CreatedAt:     time.Now().Add(-time.Minute),
	})

	req, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", completeChecklist("req-1", domain.ChecklistPhaseStart))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if req.Status != domain.RequestStatusEnRoute {
		t.Fatalf("expected em_viagem, got %s", req.Status)
	}
	if env.transactor.CommitCount != 1 {
		t.Errorf("expected one committed transaction, got %d", env.transactor.CommitCount)
	}
	if env.checklists.CountChecklists() != 1 {
		t.Errorf("expected the existing checklist to be kept alone, got %d", env.checklists.CountChecklists())
	}
	stored, err := env.checklists.GetByRequestAndPhase(ctx, "req-1", domain.ChecklistPhaseStart)
	if err != nil {
		t.Fatalf("load checklist: %v", err)
	}
	if stored.ID != "checklist-earlier" {
		t.Errorf("expected the earlier checklist to be reused, got %s", stored.ID)
	}
}

func TestSubmitChecklist_WrongStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusInProgress, "provider-a")

	_, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", completeChecklist("req-1", domain.ChecklistPhaseEnd))
	if !errors.Is(err, service.ErrTransitionNotApplicable) {
		t.Fatalf("expected ErrTransitionNotApplicable, got %v", err)
	}

	_, err = env.lifecycleService.SubmitChecklist(ctx, "provider-a", service.ChecklistInput{RequestID: "req-1", Phase: "meio"})
	if !errors.Is(err, service.ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestSubmitChecklist_EndSettlesRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.settings.Set(service.SettingCommissionRate, "10")
	env.providers.AddProvider(&domain.Provider{
		ID:      "provider-a",
		Status:  domain.ProviderStatusOnline,
		Pricing: domain.Pricing{OffersSkates: true, SkatesPrice: 30},
	})
	env.addRequest("req-1", domain.RequestStatusEnRoute, "provider-a")

	in := completeChecklist("req-1", domain.ChecklistPhaseEnd)
	in.TollAmount = 12.5
	in.SkatesQty = 2

	req, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", in)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if req.Status != domain.RequestStatusFinalized {
		t.Fatalf("expected finalizado, got %s", req.Status)
	}
	if !req.SkatesUsed || req.SkatesQty != 2 || !approxEqual(req.SkatesAmount, 60) {
		t.Errorf("unexpected skates: used=%v qty=%d amount=%.2f", req.SkatesUsed, req.SkatesQty, req.SkatesAmount)
	}
	if !approxEqual(req.TollAmount, 12.5) {
		t.Errorf("expected toll 12.50, got %.2f", req.TollAmount)
	}
	if !approxEqual(req.FinalAmount, 222.5) {
		t.Errorf("expected final 222.50, got %.2f", req.FinalAmount)
	}
	if !approxEqual(req.CommissionRate, 10) || !approxEqual(req.CommissionAmount, 22.25) {
		t.Errorf("expected commission 10%% = 22.25, got %.2f%% = %.2f", req.CommissionRate, req.CommissionAmount)
	}

	summary, err := env.requestService.Summary(ctx, clientActor, "req-1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !approxEqual(summary.Total, 222.5) || !approxEqual(summary.NetAmount, 200.25) {
		t.Errorf("unexpected summary: total=%.2f net=%.2f", summary.Total, summary.NetAmount)
	}
	if summary.Covered {
		t.Error("expected a paid request not to be covered")
	}
}

func TestSubmitChecklist_EndUsesDefaultCommission(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusEnRoute, "provider-a")

	req, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", completeChecklist("req-1", domain.ChecklistPhaseEnd))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !approxEqual(req.CommissionRate, 15) || !approxEqual(req.CommissionAmount, 22.5) {
		t.Errorf("expected 15%% of 150 = 22.50, got %.2f%% = %.2f", req.CommissionRate, req.CommissionAmount)
	}
	if req.SkatesUsed {
		t.Error("expected no skates")
	}
}

func TestSubmitChecklist_EndRejectsBadExtras(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		pricing domain.Pricing
		toll    float64
		skates  int
		wantErr error
	}{
		{"skates not offered", domain.Pricing{}, 0, 1, service.ErrSkatesNotOffered},
		{"too many skates", domain.Pricing{OffersSkates: true, SkatesPrice: 30}, 0, 5, service.ErrInvalidSkatesQuantity},
		{"negative skates", domain.Pricing{OffersSkates: true, SkatesPrice: 30}, 0, -1, service.ErrInvalidSkatesQuantity},
		{"negative toll", domain.Pricing{}, -1, 0, service.ErrInvalidToll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.providers.AddProvider(&domain.Provider{ID: "provider-a", Status: domain.ProviderStatusOnline, Pricing: tt.pricing})
			env.addRequest("req-1", domain.RequestStatusEnRoute, "provider-a")

			in := completeChecklist("req-1", domain.ChecklistPhaseEnd)
			in.TollAmount = tt.toll
			in.SkatesQty = tt.skates

			_, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := env.requests.GetRequest("req-1"); got.Status != domain.RequestStatusEnRoute {
				t.Errorf("expected status unchanged, got %s", got.Status)
			}
			if env.checklists.CountChecklists() != 0 {
				t.Error("expected no checklist to be stored")
			}
		})
	}
}

func TestSubmitChecklist_FailedStatusWriteRollsBackChecklist(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")
	dbErr := errors.New("connection reset by peer")
	env.requests.ConditionalUpdateError = dbErr

	_, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", completeChecklist("req-1", domain.ChecklistPhaseStart))
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected the write error, got %v", err)
	}
	if env.transactor.RollbackCount != 1 {
		t.Errorf("expected one rollback, got %d", env.transactor.RollbackCount)
	}
	if env.checklists.CountChecklists() != 0 {
		t.Error("expected the checklist to be rolled back with the status write")
	}
	if got := env.requests.GetRequest("req-1"); got.Status != domain.RequestStatusOnSite {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
}

func TestRecoverGatedTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("without stored checklist", func(t *testing.T) {
		env := newTestEnv()
		env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")

		_, err := env.lifecycleService.RecoverGatedTransition(ctx, "provider-a", "req-1", domain.ChecklistPhaseStart)
		var gate *service.GateError
		if !errors.As(err, &gate) {
			t.Fatalf("expected GateError, got %v", err)
		}
	})

	t.Run("with stored checklist", func(t *testing.T) {
		env := newTestEnv()
		env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")
		env.checklists.AddChecklist(&domain.Checklist{
			ID:         "cl-1",
			RequestID:  "req-1",
			ProviderID: "provider-a",
			Phase:      domain.ChecklistPhaseStart,
		})

		req, err := env.lifecycleService.RecoverGatedTransition(ctx, "provider-a", "req-1", domain.ChecklistPhaseStart)
		if err != nil {
			t.Fatalf("recover failed: %v", err)
		}
		if req.Status != domain.RequestStatusEnRoute {
			t.Errorf("expected em_viagem, got %s", req.Status)
		}

		again, err := env.lifecycleService.RecoverGatedTransition(ctx, "provider-a", "req-1", domain.ChecklistPhaseStart)
		if err != nil || again.Status != domain.RequestStatusEnRoute {
			t.Errorf("expected recover to be a no-op once committed, got %v, %v", again, err)
		}
	})
}

func TestChecklistTemplate(t *testing.T) {
	ctx := context.Background()

	t.Run("configured template", func(t *testing.T) {
		env := newTestEnv()
		env.settings.Set(service.SettingChecklistStart, `[{"nome":"Cones posicionados","obrigatorio":true,"checked":true}]`)

		items, err := env.lifecycleService.ChecklistTemplate(ctx, domain.ChecklistPhaseStart)
		if err != nil {
			t.Fatalf("template failed: %v", err)
		}
		if len(items) != 1 || items[0].Name != "Cones posicionados" || !items[0].Required {
			t.Fatalf("unexpected template %+v", items)
		}
		if items[0].Checked {
			t.Error("expected template items to start unchecked")
		}
	})

	t.Run("malformed template falls back", func(t *testing.T) {
		env := newTestEnv()
		env.settings.Set(service.SettingChecklistEnd, "not json")

		items, err := env.lifecycleService.ChecklistTemplate(ctx, domain.ChecklistPhaseEnd)
		if err != nil {
			t.Fatalf("template failed: %v", err)
		}
		if len(items) != len(domain.DefaultChecklistItems(domain.ChecklistPhaseEnd)) {
			t.Errorf("expected default end template, got %+v", items)
		}
	})

	t.Run("invalid phase", func(t *testing.T) {
		env := newTestEnv()
		if _, err := env.lifecycleService.ChecklistTemplate(ctx, "meio"); !errors.Is(err, service.ErrInvalidPhase) {
			t.Fatalf("expected ErrInvalidPhase, got %v", err)
		}
	})

	t.Run("configured item gates submission", func(t *testing.T) {
		env := newTestEnv()
		env.settings.Set(service.SettingChecklistStart, `[{"nome":"Cones posicionados","obrigatorio":true}]`)
		env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")

		in := completeChecklist("req-1", domain.ChecklistPhaseStart)
		_, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", in)
		var gate *service.GateError
		if !errors.As(err, &gate) || len(gate.Missing) != 1 || gate.Missing[0] != "item:Cones posicionados" {
			t.Fatalf("expected configured item to be missing, got %v", err)
		}

		in.Items = append(in.Items, domain.ChecklistItem{Name: "Cones posicionados", Checked: true})
		if _, err := env.lifecycleService.SubmitChecklist(ctx, "provider-a", in); err != nil {
			t.Fatalf("expected submission with the configured item to pass, got %v", err)
		}
	})
}

func TestActiveForProvider(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addRequest("req-done", domain.RequestStatusFinalized, "provider-a")

	req, err := env.lifecycleService.ActiveForProvider(ctx, "provider-a")
	if err != nil {
		t.Fatalf("active failed: %v", err)
	}
	if req != nil {
		t.Fatalf("expected no active request, got %s", req.ID)
	}

	env.addRequest("req-1", domain.RequestStatusOnSite, "provider-a")
	req, err = env.lifecycleService.ActiveForProvider(ctx, "provider-a")
	if err != nil || req == nil || req.ID != "req-1" {
		t.Fatalf("expected req-1, got %+v, %v", req, err)
	}
}
