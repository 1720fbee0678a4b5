package pipeline

import (
	"sync"
	"time"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser/adapters/sim"
)

// SiteOptions shapes the storefront SimulatedSite renders.
type SiteOptions struct {
	// QueueDelay holds the queue closed for this long after navigation.
	QueueDelay time.Duration
	// SoldOut shows the sold-out indicator instead of the select affordance.
	SoldOut bool
	// CodeGate puts an access-code prompt in front of the quantity picker.
	CodeGate        bool
	CodeGateSoldOut bool
	UnlockCode      string
	// CartSoldOut answers every add-to-cart with the sold-out indicator.
	CartSoldOut bool
	// CartFailures rejects the first n add-to-cart attempts.
	CartFailures int

	Login      bool
	Shipping   bool
	Card       bool
	StoredCard bool
	Insurance  bool
	Receipt    bool
	Consents   bool

	// Captcha shows a challenge widget on every screen until it is solved.
	Captcha        bool
	CaptchaSiteKey string

	// NoConfirmation never shows the confirmation after the order is placed.
	NoConfirmation bool
	ConfirmDelay   time.Duration
}

type simScreen int

const (
	screenEvent simScreen = iota
	screenTickets
	screenCheckout
	screenDone
)

type simState struct {
	screen    simScreen
	unlocked  bool
	cartFails int
	step      int
	solved    bool
}

type simSite struct {
	sel   Selectors
	opts  SiteOptions
	steps []string

	mu     sync.Mutex
	states map[*sim.Page]*simState
}

// SimulatedSite returns a sim.Script that walks a storefront laid out with sel.
// Each page keeps its own progress through the site.
func SimulatedSite(sel Selectors, opts SiteOptions) sim.Script {
	s := &simSite{sel: sel.WithDefaults(), opts: opts, states: make(map[*sim.Page]*simState)}
	if opts.Login {
		s.steps = append(s.steps, "login")
	}
	if opts.Shipping {
		s.steps = append(s.steps, "shipping")
	}
	if opts.Card || opts.StoredCard {
		s.steps = append(s.steps, "card")
	}
	s.steps = append(s.steps, "review")
	return sim.Script{
		OnGoto:     s.onGoto,
		OnReload:   s.onReload,
		OnClick:    s.onClick,
		OnEvaluate: s.onEvaluate,
	}
}

func (s *simSite) state(p *sim.Page) *simState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[p]
	if !ok {
		st = &simState{}
		s.states[p] = st
	}
	return st
}

func (s *simSite) onGoto(p *sim.Page, url string) error {
	st := s.state(p)
	p.HideAll()
	s.mu.Lock()
	st.screen = screenEvent
	s.mu.Unlock()
	if s.opts.QueueDelay > 0 {
		time.AfterFunc(s.opts.QueueDelay, func() { s.render(p) })
		return nil
	}
	s.render(p)
	return nil
}

func (s *simSite) onReload(p *sim.Page) error {
	p.HideAll()
	s.render(p)
	return nil
}

func (s *simSite) render(p *sim.Page) {
	st := s.state(p)
	s.mu.Lock()
	screen, solved := st.screen, st.solved
	s.mu.Unlock()
	switch screen {
	case screenEvent:
		s.renderEvent(p)
	case screenTickets:
		s.renderTickets(p)
	case screenCheckout:
		s.renderCheckout(p)
	}
	if s.opts.Captcha && !solved && screen != screenDone {
		p.SetAttribute(s.sel.CaptchaWidget, s.sel.CaptchaSiteKeyAttr, s.opts.CaptchaSiteKey)
		p.Show(s.sel.CaptchaWidget)
	}
}

func (s *simSite) renderEvent(p *sim.Page) {
	sel := s.sel
	if s.opts.SoldOut {
		p.Show(sel.QueueExit, sel.SoldOut)
	} else {
		p.Show(sel.QueueExit, sel.Select)
	}
}

func (s *simSite) renderTickets(p *sim.Page) {
	sel := s.sel
	st := s.state(p)
	s.mu.Lock()
	unlocked := st.unlocked
	s.mu.Unlock()
	if s.opts.CodeGate && !unlocked {
		p.Show(sel.CodePrompt, sel.CodeInput, sel.CodeSubmit)
		if s.opts.CodeGateSoldOut {
			p.Show(sel.SoldOut)
		}
		return
	}
	p.Show(sel.Quantity, sel.AddToCart)
}

func (s *simSite) renderCheckout(p *sim.Page) {
	sel := s.sel
	st := s.state(p)
	s.mu.Lock()
	step := st.step
	s.mu.Unlock()
	if step >= len(s.steps) {
		return
	}
	switch s.steps[step] {
	case "login":
		p.Show(sel.LoginForm, sel.LoginEmail, sel.LoginPassword, sel.LoginSubmit)
	case "shipping":
		p.Show(sel.ShippingForm, sel.ShippingName, sel.ShippingAddress1, sel.ShippingAddress2,
			sel.ShippingCity, sel.ShippingState, sel.ShippingZip, sel.ShippingCountry,
			sel.ShippingPhone, sel.ShippingSubmit)
	case "card":
		p.Show(sel.CardForm, sel.CardSubmit)
		if s.opts.StoredCard {
			p.Show(sel.StoredCard)
		} else {
			p.Show(sel.CardName, sel.CardNumber, sel.CardExpiry, sel.CardCVV)
		}
	case "review":
		p.Show(sel.ReviewForm, sel.PlaceOrder)
		if s.opts.Receipt {
			p.Show(sel.ReceiptEmail)
		}
		if s.opts.Consents {
			p.Show(sel.Consent)
		}
		if s.opts.Insurance {
			p.Show(sel.InsuranceOffer, sel.InsuranceDecline)
		}
	}
}

func (s *simSite) onClick(p *sim.Page, selector string) error {
	sel := s.sel
	st := s.state(p)
	switch selector {
	case sel.Select:
		s.moveTo(p, st, screenTickets)

	case sel.CodeSubmit:
		if s.opts.UnlockCode == "" || p.Value(sel.CodeInput) == s.opts.UnlockCode {
			s.mu.Lock()
			st.unlocked = true
			s.mu.Unlock()
			s.moveTo(p, st, screenTickets)
		}

	case sel.AddToCart:
		p.Hide(sel.CartFailure)
		s.mu.Lock()
		fail := st.cartFails < s.opts.CartFailures
		if fail {
			st.cartFails++
		}
		s.mu.Unlock()
		switch {
		case s.opts.CartSoldOut:
			p.Show(sel.SoldOut)
		case fail:
			p.Show(sel.CartFailure)
		default:
			p.Show(sel.CartSuccess, sel.Checkout)
		}

	case sel.Checkout:
		s.moveTo(p, st, screenCheckout)

	case sel.LoginSubmit, sel.ShippingSubmit, sel.CardSubmit:
		s.mu.Lock()
		st.step++
		s.mu.Unlock()
		p.HideAll()
		s.render(p)

	case sel.InsuranceDecline:
		p.Hide(sel.InsuranceOffer, sel.InsuranceDecline)

	case sel.Consent:
		p.Hide(sel.Consent)

	case sel.PlaceOrder:
		s.mu.Lock()
		st.screen = screenDone
		s.mu.Unlock()
		p.HideAll()
		if s.opts.NoConfirmation {
			return nil
		}
		if s.opts.ConfirmDelay > 0 {
			time.AfterFunc(s.opts.ConfirmDelay, func() { p.Show(sel.Confirmation) })
			return nil
		}
		p.Show(sel.Confirmation)
	}
	return nil
}

func (s *simSite) moveTo(p *sim.Page, st *simState, screen simScreen) {
	s.mu.Lock()
	st.screen = screen
	s.mu.Unlock()
	p.HideAll()
	s.render(p)
}

func (s *simSite) onEvaluate(p *sim.Page, script string, arg any) (any, error) {
	if script == s.sel.CaptchaInject {
		st := s.state(p)
		s.mu.Lock()
		st.solved = true
		s.mu.Unlock()
		p.Hide(s.sel.CaptchaWidget)
		return true, nil
	}
	return nil, nil
}
