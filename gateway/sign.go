package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderAPIKey    = "X-MM-APIKEY"
	HeaderTimestamp = "X-MM-TIMESTAMP"
	HeaderSignature = "X-MM-SIGNATURE"
)

var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// Sign 计算 HMAC-SHA256(secret, timestamp + method + path + body) 的十六进制串。
func Sign(secret string, timestamp int64, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 校验请求签名；供 httptest 服务端与联调工具使用。
func Verify(secret string, r *http.Request, body []byte) bool {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false
	}
	want := Sign(secret, ts, r.Method, r.URL.RequestURI(), body)
	return hmac.Equal([]byte(want), []byte(r.Header.Get(HeaderSignature)))
}

func signRequest(req *http.Request, apiKey, secret string, body []byte) {
	ts := timeNowMillis()
	req.Header.Set(HeaderAPIKey, apiKey)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(secret, ts, req.Method, req.URL.RequestURI(), body))
}
