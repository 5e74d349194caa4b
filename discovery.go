package paygate

// PaymentExtensionURI marks the payment extension inside a service card's
// capabilities.
const PaymentExtensionURI = "urn:paygate:payment"

// ServiceCard is the discovery document a payment-gated service publishes
// (conventionally at /.well-known/agent.json). The payment extension inside
// Capabilities tells callers which plan to buy and what calls cost.
type ServiceCard struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	URL          string       `json:"url"`
	Version      string       `json:"version,omitempty"`
	Skills       []Skill      `json:"skills,omitempty"`
	Capabilities Capabilities `json:"capabilities,omitempty"`
}

// Skill describes one capability a service offers.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Capabilities lists transport features and protocol extensions.
type Capabilities struct {
	Streaming  bool        `json:"streaming,omitempty"`
	Extensions []Extension `json:"extensions,omitempty"`
}

// Extension is a URI-tagged capability extension.
type Extension struct {
	URI    string         `json:"uri"`
	Params map[string]any `json:"params,omitempty"`
}

// PaymentOption extracts the plan option from the card's payment extension,
// if present.
func (c ServiceCard) PaymentOption() (PlanOption, bool) {
	for _, ext := range c.Capabilities.Extensions {
		if ext.URI != PaymentExtensionURI {
			continue
		}
		opt := PlanOption{Credits: 1}
		if v, ok := ext.Params["planId"].(string); ok {
			opt.PlanID = v
		}
		if v, ok := ext.Params["agentId"].(string); ok {
			opt.AgentID = v
		}
		if v, ok := ext.Params["scheme"].(string); ok {
			opt.Scheme = Scheme(v)
		}
		if v, ok := ext.Params["network"].(string); ok {
			opt.Network = v
		}
		if v, ok := ext.Params["costDescription"].(string); ok {
			opt.CostDescription = v
		}
		switch v := ext.Params["credits"].(type) {
		case int64:
			opt.Credits = v
		case int:
			opt.Credits = int64(v)
		case float64:
			// JSON numbers decode as float64.
			opt.Credits = int64(v)
		}
		return opt, opt.PlanID != ""
	}
	return PlanOption{}, false
}

// WithPaymentExtension returns a copy of the card carrying the payment
// extension for the given plan option. Services use it to build the card
// they publish.
func (c ServiceCard) WithPaymentExtension(opt PlanOption) ServiceCard {
	params := map[string]any{
		"planId":  opt.PlanID,
		"credits": opt.Credits,
	}
	if opt.AgentID != "" {
		params["agentId"] = opt.AgentID
	}
	if opt.Scheme != "" {
		params["scheme"] = string(opt.Scheme)
	}
	if opt.Network != "" {
		params["network"] = opt.Network
	}
	if opt.CostDescription != "" {
		params["costDescription"] = opt.CostDescription
	}
	card := c
	card.Capabilities.Extensions = append(card.Capabilities.Extensions, Extension{
		URI:    PaymentExtensionURI,
		Params: params,
	})
	return card
}
