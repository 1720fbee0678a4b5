package pipeline

import (
	"context"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
)

// maxConsentBoxes bounds the consent loop in case a checkbox never checks.
const maxConsentBoxes = 10

type checkoutStep struct {
	name     string
	selector string
	handle   func(context.Context) error
}

// checkout clicks through to checkout and handles each form as it renders.
// Forms may appear in any order or share a page; each is handled at most once
// and the stage ends when the order is placed.
func (r *runner) checkout(ctx context.Context) error {
	sel := r.p.sel
	r.act("Proceeding to checkout")
	if err := r.page.WaitVisible(ctx, sel.Checkout, r.p.cfg.CheckoutStepTimeout); err != nil {
		return r.stageErr(ctx, StageCheckout, "Checkout link missing", err)
	}
	if err := r.page.Click(ctx, sel.Checkout); err != nil {
		return r.stageErr(ctx, StageCheckout, "Checkout click failed", err)
	}

	steps := []*checkoutStep{
		{name: "login", selector: sel.LoginForm, handle: r.login},
		{name: "shipping", selector: sel.ShippingForm, handle: r.shipping},
		{name: "payment", selector: sel.CardForm, handle: r.payment},
		{name: "insurance", selector: sel.InsuranceOffer, handle: r.declineInsurance},
		{name: "review", selector: sel.ReviewForm, handle: r.review},
	}
	done := make(map[string]bool, len(steps))
	for {
		pending := make([]string, 0, len(steps))
		for _, st := range steps {
			if !done[st.name] && st.selector != "" {
				pending = append(pending, st.selector)
			}
		}
		winner, err := firstVisible(ctx, r.page, r.p.cfg.CheckoutStepTimeout, pending...)
		if err != nil {
			return r.stageErr(ctx, StageCheckout, "Checkout stalled", err)
		}
		for _, st := range steps {
			if done[st.name] || st.selector != winner {
				continue
			}
			done[st.name] = true
			if err := st.handle(ctx); err != nil {
				return err
			}
			if st.name == "review" {
				return nil
			}
			break
		}
	}
}

func (r *runner) login(ctx context.Context) error {
	sel := r.p.sel
	creds, err := suspendFor[session.Credentials](ctx, r, session.StatusLoginRequired, "Login required")
	if err != nil {
		return err
	}
	r.set(session.StatusRunning, "Logging in")
	if err := r.fillAll(ctx, []field{
		{sel.LoginEmail, creds.Email, false},
		{sel.LoginPassword, creds.Password, false},
	}); err != nil {
		return r.stageErr(ctx, StageCheckout, "Login entry failed", err)
	}
	if err := r.page.Click(ctx, sel.LoginSubmit); err != nil {
		return r.stageErr(ctx, StageCheckout, "Login submit failed", err)
	}
	return nil
}

func (r *runner) shipping(ctx context.Context) error {
	sel := r.p.sel
	addr, err := suspendFor[session.ShippingAddress](ctx, r, session.StatusShippingRequired, "Shipping address required")
	if err != nil {
		return err
	}
	r.set(session.StatusRunning, "Entering shipping address")
	if err := r.fillAll(ctx, []field{
		{sel.ShippingName, addr.FullName, false},
		{sel.ShippingAddress1, addr.Line1, false},
		{sel.ShippingAddress2, addr.Line2, false},
		{sel.ShippingCity, addr.City, false},
		{sel.ShippingState, addr.State, true},
		{sel.ShippingZip, addr.PostalCode, false},
		{sel.ShippingCountry, addr.Country, true},
		{sel.ShippingPhone, addr.Phone, false},
	}); err != nil {
		return r.stageErr(ctx, StageCheckout, "Shipping entry failed", err)
	}
	if err := r.page.Click(ctx, sel.ShippingSubmit); err != nil {
		return r.stageErr(ctx, StageCheckout, "Shipping submit failed", err)
	}
	return nil
}

// payment uses a stored card when the site offers one and only asks the
// operator for card details otherwise.
func (r *runner) payment(ctx context.Context) error {
	sel := r.p.sel
	if sel.StoredCard != "" {
		stored, err := r.page.IsVisible(ctx, sel.StoredCard)
		if err != nil {
			return r.stageErr(ctx, StageCheckout, "Payment check failed", err)
		}
		if stored {
			r.act("Using stored card")
			if err := r.page.Click(ctx, sel.StoredCard); err != nil {
				return r.stageErr(ctx, StageCheckout, "Stored card selection failed", err)
			}
			return r.submitCard(ctx)
		}
	}

	card, err := suspendFor[session.Card](ctx, r, session.StatusCardRequired, "Card details required")
	if err != nil {
		return err
	}
	r.set(session.StatusRunning, "Entering card details")
	if err := r.fillAll(ctx, []field{
		{sel.CardName, card.Name, false},
		{sel.CardNumber, card.Number, false},
		{sel.CardExpiry, card.Expiry, false},
		{sel.CardCVV, card.CVV, false},
	}); err != nil {
		return r.stageErr(ctx, StageCheckout, "Card entry failed", err)
	}
	return r.submitCard(ctx)
}

func (r *runner) submitCard(ctx context.Context) error {
	if err := r.page.Click(ctx, r.p.sel.CardSubmit); err != nil {
		return r.stageErr(ctx, StageCheckout, "Payment submit failed", err)
	}
	return nil
}

func (r *runner) declineInsurance(ctx context.Context) error {
	r.act("Declining ticket insurance")
	if err := r.page.Click(ctx, r.p.sel.InsuranceDecline); err != nil {
		return r.stageErr(ctx, StageCheckout, "Insurance decline failed", err)
	}
	return nil
}

// review collects the receipt destination when the page asks for one, ticks
// every consent box and places the order.
func (r *runner) review(ctx context.Context) error {
	sel := r.p.sel

	// The upsell can share the review page and would block the order.
	if sel.InsuranceOffer != "" {
		if offered, err := r.page.IsVisible(ctx, sel.InsuranceOffer); err == nil && offered {
			if err := r.declineInsurance(ctx); err != nil {
				return err
			}
		}
	}

	if sel.ReceiptEmail != "" {
		asks, err := r.page.IsVisible(ctx, sel.ReceiptEmail)
		if err != nil {
			return r.stageErr(ctx, StageCheckout, "Review check failed", err)
		}
		if asks {
			receipt, err := suspendFor[session.Receipt](ctx, r, session.StatusReceiptRequired, "Receipt email required")
			if err != nil {
				return err
			}
			r.set(session.StatusRunning, "Reviewing order")
			if err := r.page.Fill(ctx, sel.ReceiptEmail, receipt.Email); err != nil {
				return r.stageErr(ctx, StageCheckout, "Receipt entry failed", err)
			}
		}
	}

	if sel.Consent != "" {
		for i := 0; i < maxConsentBoxes; i++ {
			unchecked, err := r.page.IsVisible(ctx, sel.Consent)
			if err != nil {
				return r.stageErr(ctx, StageCheckout, "Consent check failed", err)
			}
			if !unchecked {
				break
			}
			if err := r.page.Click(ctx, sel.Consent); err != nil {
				return r.stageErr(ctx, StageCheckout, "Consent click failed", err)
			}
		}
	}

	r.act("Placing order")
	if err := r.page.WaitVisible(ctx, sel.PlaceOrder, r.p.cfg.CheckoutStepTimeout); err != nil {
		return r.stageErr(ctx, StageCheckout, "Place order button missing", err)
	}
	if err := r.page.Click(ctx, sel.PlaceOrder); err != nil {
		return r.stageErr(ctx, StageCheckout, "Place order failed", err)
	}
	return nil
}

type field struct {
	selector string
	value    string
	isSelect bool
}

// fillAll enters each non-empty value. Fields without a selector are skipped.
func (r *runner) fillAll(ctx context.Context, fields []field) error {
	for _, f := range fields {
		if f.selector == "" || f.value == "" {
			continue
		}
		var err error
		if f.isSelect {
			err = r.page.Select(ctx, f.selector, f.value)
		} else {
			err = r.page.Fill(ctx, f.selector, f.value)
		}
		if err != nil {
			if browser.IsTimeout(err) {
				r.logger.Warn("form field not found", "selector", f.selector)
			}
			return err
		}
	}
	return nil
}
