package source

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/uber/h3-go/v3"

	"helium-graph-etl/internal/models"
)

// decodeFields parses a transactions.fields JSONB payload. UseNumber keeps
// token amounts exact; blockchain amounts can exceed float64's 53-bit
// integer range.
func decodeFields(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// canonicalHash returns the hex md5 of the canonical JSON encoding of v.
// encoding/json sorts map keys, so the same logical payload always hashes
// to the same key regardless of the upstream column's key order.
func canonicalHash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func keyHash(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fieldString(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

func fieldInt(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case json.Number:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		return n, err == nil
	case float64:
		return int64(v), true
	}
	return 0, false
}

func fieldFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	}
	return 0, false
}

func fieldBool(m map[string]any, key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// mapPayment turns a payment_v1/payment_v2 transaction row into an
// accounts→accounts edge. The key is a content hash of the raw fields, so
// duplicate ingests collapse at the sink.
func mapPayment(txType string, rawFields []byte, txTime int64) (*models.PaymentEdge, error) {
	fields, err := decodeFields(rawFields)
	if err != nil {
		return nil, err
	}

	key, err := canonicalHash(fields)
	if err != nil {
		return nil, fmt.Errorf("hash payment fields: %w", err)
	}

	payer, ok := fieldString(fields, "payer")
	if !ok {
		return nil, fmt.Errorf("payment %s: missing payer", txType)
	}

	var payee string
	var amount int64
	switch txType {
	case "payment_v1":
		if payee, ok = fieldString(fields, "payee"); !ok {
			return nil, fmt.Errorf("payment_v1: missing payee")
		}
		if amount, ok = fieldInt(fields, "amount"); !ok {
			return nil, fmt.Errorf("payment_v1: missing amount")
		}
	case "payment_v2":
		payments, ok := fields["payments"].([]any)
		if !ok || len(payments) == 0 {
			return nil, fmt.Errorf("payment_v2: missing payments")
		}
		first, ok := payments[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("payment_v2: malformed payments entry")
		}
		if payee, ok = fieldString(first, "payee"); !ok {
			return nil, fmt.Errorf("payment_v2: missing payee")
		}
		if amount, ok = fieldInt(first, "amount"); !ok {
			return nil, fmt.Errorf("payment_v2: missing amount")
		}
	default:
		return nil, fmt.Errorf("unexpected payment type %q", txType)
	}

	return &models.PaymentEdge{
		Key:    key,
		From:   "accounts/" + payer,
		To:     "accounts/" + payee,
		Amount: amount,
		Time:   txTime,
	}, nil
}

// geoFromH3 converts an h3 cell to a GeoJSON point with [lon, lat]
// coordinates. An unset or invalid cell yields null coordinates so the
// document still carries the field.
func geoFromH3(cell *string) models.GeoPoint {
	point := models.GeoPoint{Type: "Point"}
	if cell == nil || *cell == "" {
		return point
	}
	index := h3.FromString(*cell)
	if !h3.IsValid(index) {
		return point
	}
	geo := h3.ToGeo(index)
	point.Coordinates = []float64{geo.Longitude, geo.Latitude}
	return point
}
