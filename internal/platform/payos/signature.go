package payos

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Sign computes the hex-encoded HMAC-SHA256 of data under the checksum key.
func Sign(data, checksumKey string) string {
	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches data in constant time.
func Verify(data, checksumKey, signature string) bool {
	expected := Sign(data, checksumKey)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// paymentRequestData is the string signed when opening a checkout session.
// The field order is fixed by the gateway.
func paymentRequestData(amount int64, cancelURL, description string, orderCode int64, returnURL string) string {
	return fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		amount, cancelURL, description, orderCode, returnURL)
}

// canonicalData renders a JSON object as key=value pairs sorted by key and
// joined with '&'. Nulls render empty; nested values render as JSON.
func canonicalData(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return "", err
	}
	if fields == nil {
		return "", fmt.Errorf("data is not an object")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := canonicalValue(fields[k])
		if err != nil {
			return "", err
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "&"), nil
}

func canonicalValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		if t == "null" || t == "undefined" {
			return "", nil
		}
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
