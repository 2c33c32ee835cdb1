package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// swapTimeLayout renders swap timestamps the way drivers say them.
const swapTimeLayout = "2006-01-02 15:04"

// expiryLayout renders plan dates in speakable form.
const expiryLayout = "2 January 2006"

// dispatch routes a gated, latched turn to its intent handler. The switch
// is exhaustive over the closed intent set; Unknown never reaches it.
func (o *Orchestrator) dispatch(ctx context.Context, st *dialog.State) (dialog.TurnResult, error) {
	switch st.CurrentIntent {
	case dialog.IntentFindNearestStation:
		return o.handleFindNearestStation(ctx, st)
	case dialog.IntentGetSwapHistory:
		return o.handleGetSwapHistory(ctx, st)
	case dialog.IntentCheckSubscription:
		return o.handleCheckSubscription(ctx, st)
	case dialog.IntentCheckAvailability:
		return o.handleCheckAvailability(ctx, st)
	case dialog.IntentRenewSubscription:
		return o.handleRenewSubscription(ctx, st)
	case dialog.IntentExplainInvoice:
		return o.handleExplainInvoice(ctx, st)
	case dialog.IntentFindDSK:
		return o.handleFindDSK(ctx, st)
	case dialog.IntentPricingInfo:
		return o.handleInfo(ctx, st, pricingReply)
	case dialog.IntentLeaveInfo:
		return o.handleInfo(ctx, st, leaveReply)
	default:
		return dialog.TurnResult{}, fmt.Errorf("%w: no handler for intent %q", dialog.ErrInternal, st.CurrentIntent)
	}
}

// handleFindNearestStation resolves the swap station nearest the collected
// location, asking for the location first when it is missing.
func (o *Orchestrator) handleFindNearestStation(ctx context.Context, st *dialog.State) (dialog.TurnResult, error) {
	loc, ok := st.Slots["location"]
	if !ok {
		return o.askSlot(st, PromptAskLocation), nil
	}

	station, err := callData(ctx, o, "find_nearest_station", func(ctx context.Context) (fleet.Station, error) {
		return o.data.FindNearestStation(ctx, loc)
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}

	st.CurrentIntent = ""
	return dialog.TurnResult{
		Reply:     stationReply(st.Language, station),
		ShouldEnd: true,
		Data:      map[string]any{"station": station},
	}, nil
}

// handleGetSwapHistory lists the driver's swaps for the collected date
// range, asking for the range first when it is missing.
func (o *Orchestrator) handleGetSwapHistory(ctx context.Context, st *dialog.State) (dialog.TurnResult, error) {
	dateRange, ok := st.Slots["date_range"]
	if !ok {
		return o.askSlot(st, PromptAskDateRange), nil
	}

	driver := o.driverID(st)
	records, err := callData(ctx, o, "get_swap_history", func(ctx context.Context) ([]fleet.SwapRecord, error) {
		return o.data.GetSwapHistory(ctx, driver, dateRange)
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}

	st.CurrentIntent = ""
	return dialog.TurnResult{
		Reply:     historyReply(st.Language, records),
		ShouldEnd: true,
		Data:      map[string]any{"swaps": records},
	}, nil
}

// handleCheckSubscription reports the driver's plan status. No slots needed.
func (o *Orchestrator) handleCheckSubscription(ctx context.Context, st *dialog.State) (dialog.TurnResult, error) {
	driver := o.driverID(st)
	sub, err := callData(ctx, o, "check_subscription", func(ctx context.Context) (fleet.Subscription, error) {
		return o.data.CheckSubscription(ctx, driver)
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}

	st.CurrentIntent = ""
	return dialog.TurnResult{
		Reply:     subscriptionReply(st.Language, sub),
		ShouldEnd: true,
		Data:      map[string]any{"subscription": sub},
	}, nil
}

// handleCheckAvailability reports charged stock near the collected location.
func (o *Orchestrator) handleCheckAvailability(ctx context.Context, st *dialog.State) (dialog.TurnResult, error) {
	loc, ok := st.Slots["location"]
	if !ok {
		return o.askSlot(st, PromptAskLocation), nil
	}

	av, err := callData(ctx, o, "check_availability", func(ctx context.Context) (fleet.Availability, error) {
		return o.data.CheckAvailability(ctx, loc)
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}

	st.CurrentIntent = ""
	return dialog.TurnResult{
		Reply:     availabilityReply(st.Language, av),
		ShouldEnd: true,
		Data:      map[string]any{"availability": av},
	}, nil
}

// handleRenewSubscription extends the driver's plan and confirms the new
// end date.
func (o *Orchestrator) handleRenewSubscription(ctx context.Context, st *dialog.State) (dialog.TurnResult, error) {
	driver := o.driverID(st)
	sub, err := callData(ctx, o, "renew_subscription", func(ctx context.Context) (fleet.Subscription, error) {
		return o.data.RenewSubscription(ctx, driver)
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}

	st.CurrentIntent = ""
	return dialog.TurnResult{
		Reply:     renewalReply(st.Language, sub),
		ShouldEnd: true,
		Data:      map[string]any{"subscription": sub},
	}, nil
}

// handleExplainInvoice summarizes the driver's latest bill.
func (o *Orchestrator) handleExplainInvoice(ctx context.Context, st *dialog.State) (dialog.TurnResult, error) {
	driver := o.driverID(st)
	inv, err := callData(ctx, o, "latest_invoice", func(ctx context.Context) (fleet.Invoice, error) {
		return o.data.LatestInvoice(ctx, driver)
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}

	st.CurrentIntent = ""
	return dialog.TurnResult{
		Reply:     invoiceReply(st.Language, inv),
		ShouldEnd: true,
		Data:      map[string]any{"invoice": inv},
	}, nil
}

// handleFindDSK resolves the driver service center nearest the collected
// location.
func (o *Orchestrator) handleFindDSK(ctx context.Context, st *dialog.State) (dialog.TurnResult, error) {
	loc, ok := st.Slots["location"]
	if !ok {
		return o.askSlot(st, PromptAskLocation), nil
	}

	dsk, err := callData(ctx, o, "find_nearest_dsk", func(ctx context.Context) (fleet.Station, error) {
		return o.data.FindNearestDSK(ctx, loc)
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}

	st.CurrentIntent = ""
	return dialog.TurnResult{
		Reply:     dskReply(st.Language, dsk),
		ShouldEnd: true,
		Data:      map[string]any{"dsk": dsk},
	}, nil
}

// handleInfo answers an informational intent: from the knowledge base when
// one is wired and it has a relevant article, otherwise from the static
// localized summary.
func (o *Orchestrator) handleInfo(ctx context.Context, st *dialog.State, static func(dialog.Language) string) (dialog.TurnResult, error) {
	if o.kb != nil {
		query := lastUserText(st)
		kctx, cancel := context.WithTimeout(ctx, o.pol().timeouts.Data)
		start := time.Now()
		answer, ok, err := o.kb.Answer(kctx, query, st.Language)
		cancel()
		o.observeAdapter(ctx, "knowledge", "answer", start, err)
		switch {
		case err != nil:
			// Knowledge is best-effort; the static summary still serves.
			o.log.WarnContext(ctx, "knowledge lookup failed",
				slog.String("conversation_id", st.ID),
				slog.String("error", err.Error()),
			)
		case ok:
			st.CurrentIntent = ""
			return dialog.TurnResult{Reply: answer, ShouldEnd: true}, nil
		}
	}

	st.CurrentIntent = ""
	return dialog.TurnResult{Reply: static(st.Language), ShouldEnd: true}, nil
}

// askSlot builds the slot-elicitation reply. The latched intent stays so
// the next utterance's entities complete it.
func (o *Orchestrator) askSlot(st *dialog.State, kind PromptKind) dialog.TurnResult {
	return dialog.TurnResult{
		Reply: o.prompts.Pick(st.Language, kind, st.ID, len(st.History)),
	}
}

// driverID resolves the backend lookup key for the session.
func (o *Orchestrator) driverID(st *dialog.State) string {
	if st.DriverID != "" {
		return st.DriverID
	}
	return o.pol().cfg.DriverFallbackID
}

// callData runs one fleet lookup under the data deadline, records its
// outcome, and folds failures onto the adapter error taxonomy.
func callData[T any](ctx context.Context, o *Orchestrator, op string, fn func(context.Context) (T, error)) (T, error) {
	dctx, cancel := context.WithTimeout(ctx, o.pol().timeouts.Data)
	defer cancel()

	start := time.Now()
	v, err := fn(dctx)
	o.observeAdapter(ctx, "fleet", op, start, err)
	if err != nil {
		return v, dialog.ClassifyAdapterErr("fleet", err)
	}
	return v, nil
}

// lastUserText returns the most recent user utterance, or "" for a history
// with no user turns.
func lastUserText(st *dialog.State) string {
	for i := len(st.History) - 1; i >= 0; i-- {
		if st.History[i].Role == dialog.RoleUser {
			return st.History[i].Text
		}
	}
	return ""
}

// ── Reply templates ─────────────────────────────────────────────────────────

func stationReply(lang dialog.Language, s fleet.Station) string {
	if lang == dialog.LanguageHI {
		return fmt.Sprintf("ठीक है, %s स्टेशन %s पर मिलेगा", s.Name, s.Address)
	}
	return fmt.Sprintf("The nearest station is %s at %s.", s.Name, s.Address)
}

func dskReply(lang dialog.Language, s fleet.Station) string {
	if lang == dialog.LanguageHI {
		return fmt.Sprintf("सबसे पास का service center %s है, %s पर", s.Name, s.Address)
	}
	return fmt.Sprintf("The nearest service center is %s at %s.", s.Name, s.Address)
}

func historyReply(lang dialog.Language, records []fleet.SwapRecord) string {
	if len(records) == 0 {
		if lang == dialog.LanguageHI {
			return "उस period में कोई swap नहीं मिला।"
		}
		return "No swaps found for that period."
	}
	last := records[0].At.Format(swapTimeLayout)
	if lang == dialog.LanguageHI {
		return fmt.Sprintf("ठीक है, %d swaps मिले, last one %s पर था", len(records), last)
	}
	return fmt.Sprintf("Found %d swaps, latest was at %s.", len(records), last)
}

func subscriptionReply(lang dialog.Language, sub fleet.Subscription) string {
	expiry := sub.ExpiresOn.Format(expiryLayout)
	if sub.Status == "active" {
		if lang == dialog.LanguageHI {
			return fmt.Sprintf("आपका subscription active है, %s तक चलेगा।", expiry)
		}
		return fmt.Sprintf("Your subscription is active until %s.", expiry)
	}
	if lang == dialog.LanguageHI {
		return fmt.Sprintf("आपका subscription %s है, %s को खत्म हुआ था।", sub.Status, expiry)
	}
	return fmt.Sprintf("Your subscription is %s, it ended on %s.", sub.Status, expiry)
}

func renewalReply(lang dialog.Language, sub fleet.Subscription) string {
	expiry := sub.ExpiresOn.Format(expiryLayout)
	if lang == dialog.LanguageHI {
		return fmt.Sprintf("हो गया! Subscription %s तक renew हो गया।", expiry)
	}
	return fmt.Sprintf("Done! Your subscription is renewed until %s.", expiry)
}

func invoiceReply(lang dialog.Language, inv fleet.Invoice) string {
	if lang == dialog.LanguageHI {
		return fmt.Sprintf("%s का invoice ₹%.0f है, %d swaps के लिए।", inv.Period, inv.Amount, inv.Swaps)
	}
	return fmt.Sprintf("Your %s invoice is ₹%.0f for %d swaps.", inv.Period, inv.Amount, inv.Swaps)
}

func availabilityReply(lang dialog.Language, av fleet.Availability) string {
	if lang == dialog.LanguageHI {
		return fmt.Sprintf("%s पर अभी %d charged batteries हैं।", av.Station, av.ChargedBatteries)
	}
	return fmt.Sprintf("%s has %d charged batteries right now.", av.Station, av.ChargedBatteries)
}

func pricingReply(lang dialog.Language) string {
	if lang == dialog.LanguageHI {
		return "एक swap ₹150 का है। Monthly unlimited plan ₹1999 से शुरू होता है।"
	}
	return "A standard swap costs ₹150. Monthly unlimited plans start at ₹1999."
}

func leaveReply(lang dialog.Language) string {
	if lang == dialog.LanguageHI {
		return "App से महीने में 7 दिन तक plan pause कर सकते हो। ज़्यादा के लिए support में request डालनी होगी।"
	}
	return "You can pause your plan for up to 7 days a month from the app. Longer breaks need a support request."
}
