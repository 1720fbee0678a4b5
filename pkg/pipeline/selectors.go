package pipeline

import (
	"errors"
	"reflect"
	"sort"
	"strings"
)

// Selectors locate every element the pipeline touches on the target site.
type Selectors struct {
	QueueExit string `yaml:"queue_exit"`

	Select  string `yaml:"select"`
	SoldOut string `yaml:"sold_out"`

	CodePrompt string `yaml:"code_prompt"`
	CodeInput  string `yaml:"code_input"`
	CodeSubmit string `yaml:"code_submit"`

	Quantity      string `yaml:"quantity"`
	AddToCart     string `yaml:"add_to_cart"`
	CartSuccess   string `yaml:"cart_success"`
	CartFailure   string `yaml:"cart_failure"`
	CheckoutReady string `yaml:"checkout_ready"`
	Checkout      string `yaml:"checkout"`

	LoginForm     string `yaml:"login_form"`
	LoginEmail    string `yaml:"login_email"`
	LoginPassword string `yaml:"login_password"`
	LoginSubmit   string `yaml:"login_submit"`

	ShippingForm     string `yaml:"shipping_form"`
	ShippingName     string `yaml:"shipping_name"`
	ShippingAddress1 string `yaml:"shipping_address1"`
	ShippingAddress2 string `yaml:"shipping_address2"`
	ShippingCity     string `yaml:"shipping_city"`
	ShippingState    string `yaml:"shipping_state"`
	ShippingZip      string `yaml:"shipping_zip"`
	ShippingCountry  string `yaml:"shipping_country"`
	ShippingPhone    string `yaml:"shipping_phone"`
	ShippingSubmit   string `yaml:"shipping_submit"`

	CardForm   string `yaml:"card_form"`
	StoredCard string `yaml:"stored_card"`
	CardName   string `yaml:"card_name"`
	CardNumber string `yaml:"card_number"`
	CardExpiry string `yaml:"card_expiry"`
	CardCVV    string `yaml:"card_cvv"`
	CardSubmit string `yaml:"card_submit"`

	InsuranceOffer   string `yaml:"insurance_offer"`
	InsuranceDecline string `yaml:"insurance_decline"`

	ReviewForm   string `yaml:"review_form"`
	ReceiptEmail string `yaml:"receipt_email"`
	Consent      string `yaml:"consent"`
	PlaceOrder   string `yaml:"place_order"`

	Confirmation string `yaml:"confirmation"`

	CaptchaWidget      string `yaml:"captcha_widget"`
	CaptchaSiteKeyAttr string `yaml:"captcha_site_key_attr"`
	// CaptchaInject receives the solved token as its only argument.
	CaptchaInject string `yaml:"captcha_inject"`
}

// DefaultSelectors returns selectors for a conventional storefront.
func DefaultSelectors() Selectors {
	return Selectors{
		QueueExit: "#event-page",

		Select:  "button[data-action='select-tickets']",
		SoldOut: ".sold-out",

		CodePrompt: "#access-code-prompt",
		CodeInput:  "#access-code-prompt input[name='code']",
		CodeSubmit: "#access-code-prompt button[type='submit']",

		Quantity:      "select[name='quantity']",
		AddToCart:     "button[data-action='add-to-cart']",
		CartSuccess:   ".cart-confirmation",
		CartFailure:   ".cart-error",
		CheckoutReady: "a[href*='checkout']",
		Checkout:      "a[href*='checkout']",

		LoginForm:     "form#login",
		LoginEmail:    "form#login input[type='email']",
		LoginPassword: "form#login input[type='password']",
		LoginSubmit:   "form#login button[type='submit']",

		ShippingForm:     "form#shipping",
		ShippingName:     "form#shipping input[name='fullName']",
		ShippingAddress1: "form#shipping input[name='address1']",
		ShippingAddress2: "form#shipping input[name='address2']",
		ShippingCity:     "form#shipping input[name='city']",
		ShippingState:    "form#shipping select[name='state']",
		ShippingZip:      "form#shipping input[name='zip']",
		ShippingCountry:  "form#shipping select[name='country']",
		ShippingPhone:    "form#shipping input[name='phone']",
		ShippingSubmit:   "form#shipping button[type='submit']",

		CardForm:   "form#payment",
		StoredCard: "form#payment .stored-card input[type='radio']",
		CardName:   "form#payment input[name='cardName']",
		CardNumber: "form#payment input[name='cardNumber']",
		CardExpiry: "form#payment input[name='expiry']",
		CardCVV:    "form#payment input[name='cvv']",
		CardSubmit: "form#payment button[type='submit']",

		InsuranceOffer:   "#ticket-insurance",
		InsuranceDecline: "#ticket-insurance input[value='decline']",

		ReviewForm:   "form#review",
		ReceiptEmail: "form#review input[name='receiptEmail']",
		Consent:      "form#review input[type='checkbox']:not(:checked)",
		PlaceOrder:   "form#review button[data-action='place-order']",

		Confirmation: ".order-confirmation",

		CaptchaWidget:      ".g-recaptcha",
		CaptchaSiteKeyAttr: "data-sitekey",
		CaptchaInject: `token => {
  const field = document.getElementById('g-recaptcha-response');
  if (field) { field.innerHTML = token; field.value = token; }
  const widget = document.querySelector('.g-recaptcha');
  const cb = widget && widget.getAttribute('data-callback');
  if (cb && typeof window[cb] === 'function') { window[cb](token); }
}`,
	}
}

// WithDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	src := reflect.ValueOf(s)
	dst := reflect.ValueOf(&d).Elem()
	for i := 0; i < src.NumField(); i++ {
		if v := src.Field(i).String(); strings.TrimSpace(v) != "" {
			dst.Field(i).SetString(v)
		}
	}
	return d
}

// Validate checks that every selector the main flow waits on is set.
func (s Selectors) Validate() error {
	required := map[string]string{
		"queue_exit":   s.QueueExit,
		"select":       s.Select,
		"sold_out":     s.SoldOut,
		"quantity":     s.Quantity,
		"add_to_cart":  s.AddToCart,
		"checkout":     s.Checkout,
		"place_order":  s.PlaceOrder,
		"confirmation": s.Confirmation,
	}
	var missing []string
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.New("missing selectors: " + strings.Join(missing, ", "))
	}
	return nil
}
