// Package normalize encodes event values into stored payloads and decodes
// upcast payload maps back into the concrete types the registry resolves.
package normalize

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
)

var ErrNotPointer = errors.New("eventcore.normalize: decode target must be a non-nil pointer")

var (
	textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	jsonUnmarshaler = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	numberType      = reflect.TypeOf(json.Number(""))
)

// api keeps numbers as json.Number so integers beyond 2^53 survive the
// trip through a generic map.
var api = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Codec is what the store needs from a normalizer.
type Codec interface {
	Normalize(event interface{}) ([]byte, error)
	Unmarshal(payload []byte) (map[string]interface{}, error)
	Denormalize(data map[string]interface{}, target interface{}) error
}

// JSON is the default codec. Payloads are JSON objects keyed by the json
// tags of the event struct. Numbers in the maps it hands to upcasters are
// json.Number.
type JSON struct {
	api jsoniter.API
}

func New() *JSON {
	return &JSON{api: api}
}

// Normalize encodes event into a payload. Events must encode to a JSON
// object so upcasters can work on their fields.
func (j *JSON) Normalize(event interface{}) ([]byte, error) {
	data, err := j.api.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("eventcore.normalize: encode %T: %w", event, err)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("eventcore.normalize: %T does not encode to an object", event)
	}
	return data, nil
}

// Unmarshal decodes a payload into a generic map. An empty payload is an
// empty map.
func (j *JSON) Unmarshal(payload []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(payload) == 0 {
		return out, nil
	}
	if err := j.api.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("eventcore.normalize: decode payload: %w", err)
	}
	return out, nil
}

// Denormalize fills target from data.
func (j *JSON) Denormalize(data map[string]interface{}, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrNotPointer
	}

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     target,
		TagName:    "json",
		Squash:     true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			numberHook,
			bytesHook,
			unmarshalTextHook,
			j.unmarshalJSONHook,
		),
	})
	if err != nil {
		return err
	}
	if err := d.Decode(data); err != nil {
		return fmt.Errorf("eventcore.normalize: denormalize %T: %w", target, err)
	}
	return nil
}

// numberHook parses json.Number at the width of the field it decodes into.
func numberHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from != numberType {
		return data, nil
	}
	n := data.(json.Number).String()

	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(n, 10, 64)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseUint(n, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(n, 64)
	}
	return data, nil
}

// bytesHook decodes the base64 text byte slices encode to.
func bytesHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.Uint8 {
		return data, nil
	}
	b, err := base64.StdEncoding.DecodeString(reflect.ValueOf(data).String())
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(b).Convert(to).Interface(), nil
}

// unmarshalJSONHook hands values to types with their own JSON decoding.
func (j *JSON) unmarshalJSONHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	ptr := reflect.PtrTo(to)
	if !ptr.Implements(jsonUnmarshaler) || ptr.Implements(textUnmarshaler) {
		return data, nil
	}
	raw, err := j.api.Marshal(data)
	if err != nil {
		return nil, err
	}

	result := reflect.New(to)
	if err := result.Interface().(json.Unmarshaler).UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return result.Elem().Interface(), nil
}

// unmarshalTextHook decodes strings into types like time.Time and
// uuid.UUID that encode themselves as text.
func unmarshalTextHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	if !reflect.PtrTo(to).Implements(textUnmarshaler) {
		return data, nil
	}

	result := reflect.New(to)
	if err := result.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(reflect.ValueOf(data).String())); err != nil {
		return nil, err
	}
	return result.Elem().Interface(), nil
}
