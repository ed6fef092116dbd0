package normalize_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/GabrielCarpr/eventcore/normalize"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Audit struct {
	Actor string `json:"actor"`
}

type OrderPlaced struct {
	Audit
	OrderID  uuid.UUID `json:"order_id"`
	Total    int       `json:"total"`
	Lines    []string  `json:"lines"`
	PlacedAt time.Time `json:"placed_at"`
	Note     string    `json:"note,omitempty"`
}

type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = Code(strings.ToUpper(s))
	return nil
}

type Blob []byte

type LedgerEntry struct {
	Amount   int64            `json:"amount"`
	Serial   uint64           `json:"serial"`
	Rate     float64          `json:"rate"`
	Refund   *int64           `json:"refund"`
	Counts   map[string]int64 `json:"counts"`
	Digest   []byte           `json:"digest"`
	Raw      Blob             `json:"raw"`
	Empty    []byte           `json:"empty"`
	Code     Code             `json:"code"`
	Anything interface{}      `json:"anything"`
}

func TestRoundTrip(t *testing.T) {
	n := normalize.New()
	in := OrderPlaced{
		Audit:    Audit{Actor: "gabriel"},
		OrderID:  uuid.New(),
		Total:    42,
		Lines:    []string{"a", "b"},
		PlacedAt: time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC),
	}

	payload, err := n.Normalize(in)
	require.NoError(t, err)

	data, err := n.Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, "gabriel", data["actor"])
	assert.Equal(t, json.Number("42"), data["total"])

	var out OrderPlaced
	require.NoError(t, n.Denormalize(data, &out))
	assert.Equal(t, in.Audit, out.Audit)
	assert.Equal(t, in.OrderID, out.OrderID)
	assert.Equal(t, in.Total, out.Total)
	assert.Equal(t, in.Lines, out.Lines)
	assert.True(t, in.PlacedAt.Equal(out.PlacedAt))
}

func TestRoundTripIsExact(t *testing.T) {
	n := normalize.New()
	refund := int64(-1<<62 - 3)
	in := LedgerEntry{
		Amount:   1<<60 + 1,
		Serial:   1<<64 - 1,
		Rate:     0.1,
		Refund:   &refund,
		Counts:   map[string]int64{"a": 1<<53 + 1},
		Digest:   []byte{0, 1, 2, 254, 255},
		Raw:      Blob("hi"),
		Code:     Code("eu"),
		Anything: 1<<60 + 1,
	}

	payload, err := n.Normalize(in)
	require.NoError(t, err)
	data, err := n.Unmarshal(payload)
	require.NoError(t, err)

	var out LedgerEntry
	require.NoError(t, n.Denormalize(data, &out))
	assert.Equal(t, in.Amount, out.Amount)
	assert.Equal(t, in.Serial, out.Serial)
	assert.Equal(t, in.Rate, out.Rate)
	require.NotNil(t, out.Refund)
	assert.Equal(t, refund, *out.Refund)
	assert.Equal(t, in.Counts, out.Counts)
	assert.Equal(t, in.Digest, out.Digest)
	assert.Equal(t, in.Raw, out.Raw)
	assert.Nil(t, out.Empty)
	assert.Equal(t, Code("EU"), out.Code)
	assert.Equal(t, json.Number("1152921504606846977"), out.Anything)
}

func TestBadBase64Fails(t *testing.T) {
	var out LedgerEntry
	err := normalize.New().Denormalize(map[string]interface{}{"digest": "%%%"}, &out)
	assert.Error(t, err)
}

func TestDenormalizeNeedsPointer(t *testing.T) {
	err := normalize.New().Denormalize(map[string]interface{}{}, OrderPlaced{})
	assert.ErrorIs(t, err, normalize.ErrNotPointer)
}

func TestNonObjectPayloadsAreRejected(t *testing.T) {
	_, err := normalize.New().Normalize([]int{1, 2})
	assert.Error(t, err)
}

func TestEmptyPayloadIsEmptyMap(t *testing.T) {
	data, err := normalize.New().Unmarshal(nil)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestBadTextValueFails(t *testing.T) {
	var out OrderPlaced
	err := normalize.New().Denormalize(map[string]interface{}{"order_id": "not-a-uuid"}, &out)
	assert.Error(t, err)
}
