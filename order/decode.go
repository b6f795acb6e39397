package order

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var errNotObject = errors.New("payload is not an object")

// DecodeRequest 解析场所返回的 RFQ，字段名兼容 camelCase 与 snake_case。
func DecodeRequest(payload json.RawMessage) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Request{}, errNotObject
	}

	req := Request{
		RequestID: stringField(fields, "requestId", "request_id"),
		Token:     stringField(fields, "token", "tokenId", "token_id"),
		Side:      stringField(fields, "side"),
		Market:    stringField(fields, "market", "condition"),
		Raw:       append(json.RawMessage(nil), payload...),
	}
	if raw, ok := firstPresent(fields, "sizeIn", "size_in"); ok {
		if err := json.Unmarshal(raw, &req.SizeIn); err != nil {
			req.SizeIn = Amount{}
		}
	}
	if raw, ok := firstPresent(fields, "sizeOut", "size_out"); ok {
		if err := json.Unmarshal(raw, &req.SizeOut); err != nil {
			req.SizeOut = Amount{}
		}
	}
	if exp := stringField(fields, "expiry"); exp != "" {
		req.Expiry, _ = strconv.ParseInt(exp, 10, 64)
	}
	return req, nil
}

// DecodeRemoteQuote 解析报价状态（REST 或推送事件）。
func DecodeRemoteQuote(payload json.RawMessage) (RemoteQuote, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return RemoteQuote{}, errNotObject
	}
	return RemoteQuote{
		QuoteID:   stringField(fields, "quoteId", "quote_id"),
		RequestID: stringField(fields, "requestId", "request_id"),
		State:     stringField(fields, "state", "status"),
	}, nil
}

// firstPresent 返回第一个存在且不为 null 的字段
func firstPresent(fields map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// stringField 取第一个非空字段；数字按原样转成字符串
func stringField(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n != "" {
			return n.String()
		}
	}
	return ""
}
