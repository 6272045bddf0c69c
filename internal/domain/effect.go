package domain

// EffectKind 外部副作用类型
type EffectKind string

const (
	EffectPaymentMove   EffectKind = "payment_move"
	EffectAssetTransfer EffectKind = "asset_transfer"
)

// PaymentMove moves escrowed native currency from the marketplace to Recipient.
type PaymentMove struct {
	Recipient string `json:"recipient"`
	Amount    Coin   `json:"amount"`
}

// AssetTransfer asks the registry at RegistryRef to move AssetID to Recipient.
type AssetTransfer struct {
	RegistryRef string `json:"registry_ref"`
	AssetID     string `json:"asset_id"`
	Recipient   string `json:"recipient"`
}

// Effect is one deferred external call. Exactly one payload is set.
type Effect struct {
	Kind     EffectKind     `json:"kind"`
	Payment  *PaymentMove   `json:"payment,omitempty"`
	Transfer *AssetTransfer `json:"transfer,omitempty"`
}

func PayEffect(p PaymentMove) Effect {
	return Effect{Kind: EffectPaymentMove, Payment: &p}
}

func TransferEffect(t AssetTransfer) Effect {
	return Effect{Kind: EffectAssetTransfer, Transfer: &t}
}

// Attribute 响应属性（key/value）
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the outcome of one state-mutating request: ordered attributes plus the
// effects the host must execute together with the state commit.
type Response struct {
	Attributes []Attribute `json:"attributes"`
	Effects    []Effect    `json:"effects,omitempty"`
}

func NewResponse() *Response {
	return &Response{}
}

// AddAttribute appends a key/value pair and returns the response for chaining.
func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

func (r *Response) AddEffects(effects ...Effect) *Response {
	r.Effects = append(r.Effects, effects...)
	return r
}

// Attr returns the first value for key.
func (r *Response) Attr(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
