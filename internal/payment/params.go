package payment

import (
	"fmt"
	"net/url"
	"strconv"
)

// Params specifies the request parameters sent to the gateway. Nested Params
// and slices are encoded the way the Stripe API expects:
//
//	Params{"metadata": Params{"order_id": "o_1"}} -> metadata[order_id]=o_1
//	Params{"payment_method_types": []string{"card"}} -> payment_method_types[0]=card
type Params map[string]any

// Encode renders the params as x-www-form-urlencoded.
func (p Params) Encode() string {
	v := url.Values{}
	for key, val := range p {
		encodeValue(v, key, val)
	}
	return v.Encode()
}

func encodeValue(v url.Values, key string, val any) {
	switch t := val.(type) {
	case Params:
		for k2, v2 := range t {
			encodeValue(v, key+"["+k2+"]", v2)
		}
	case map[string]string:
		for k2, v2 := range t {
			v.Set(key+"["+k2+"]", v2)
		}
	case []string:
		for i, s := range t {
			v.Set(key+"["+strconv.Itoa(i)+"]", s)
		}
	case []Params:
		for i, p2 := range t {
			for k2, v2 := range p2 {
				encodeValue(v, key+"["+strconv.Itoa(i)+"]["+k2+"]", v2)
			}
		}
	case string:
		v.Set(key, t)
	case bool:
		v.Set(key, strconv.FormatBool(t))
	case int:
		v.Set(key, strconv.Itoa(t))
	case int64:
		v.Set(key, strconv.FormatInt(t, 10))
	case float64:
		v.Set(key, strconv.FormatFloat(t, 'f', -1, 64))
	default:
		v.Set(key, fmt.Sprintf("%v", t))
	}
}
