package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const _MAX_BODY_BYTES = 1 << 20

func WriteHttpResponse(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteHttpError 错误统一为 {"error": msg}
func WriteHttpError(w http.ResponseWriter, code int, msg string) {
	WriteHttpResponse(w, code, map[string]string{"error": msg})
}

// DecodeRequestBody 限制请求体大小，拒绝未知字段
func DecodeRequestBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, _MAX_BODY_BYTES))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// TrustedProxies 可信反向代理，支持单个IP或CIDR
type TrustedProxies []netip.Prefix

func ParseTrustedProxies(lst []string) (TrustedProxies, error) {
	out := make(TrustedProxies, 0, len(lst))
	for _, item := range lst {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			prefix, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", item, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", item, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (p TrustedProxies) Contains(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP 只有直连方是可信代理时才读取代理头，X-Forwarded-For 从右往左取第一个非代理地址
func ClientIP(r *http.Request, proxies TrustedProxies) string {
	remote := remoteHost(r)
	if !proxies.Contains(remote) {
		return remote
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !proxies.Contains(hop) {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		if _, err := netip.ParseAddr(ip); err == nil {
			return ip
		}
	}
	return remote
}
