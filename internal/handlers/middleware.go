package handlers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Daneel-Li/feedback-back/internal/services"
	"github.com/Daneel-Li/feedback-back/pkg/utils"
)

type ctxKey string

const _CTX_MODERATOR ctxKey = "moderator"

type Middleware func(http.HandlerFunc) http.HandlerFunc

func WithMidWare(finalHandler http.HandlerFunc, middlwares ...Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := finalHandler
		for _, m := range middlwares {
			f = m(f)
		}
		f(w, r)
	}
}

// headerKeyCheck 未配置 key 时拒绝所有请求
func headerKeyCheck(header, key string) Middleware {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				utils.WriteHttpError(w, http.StatusUnauthorized, "Invalid "+header)
				return
			}
			h.ServeHTTP(w, r)
		}
	}
}

// ApiAuthCheck 校验请求头中的 appKey
func ApiAuthCheck(apiKey string) Middleware {
	return headerKeyCheck("appKey", apiKey)
}

// AdminKeyCheck 签发令牌用的管理员密钥，和 appKey 分开
func AdminKeyCheck(adminKey string) Middleware {
	return headerKeyCheck("adminKey", adminKey)
}

// JWTMiddleware 审核员令牌，通过后把审核员写入 context
func JWTMiddleware(jwt services.JWTService) Middleware {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if len(tokenString) < 1 {
				utils.WriteHttpError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			moderator, err := jwt.ValidateToken(tokenString)
			if err != nil {
				slog.Debug("jwt rejected", "path", r.URL.Path, "error", err)
				utils.WriteHttpError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			slog.Debug(fmt.Sprintf("[%s] %s moderator:[%v]", r.Method, r.URL.Path, moderator))
			ctx := context.WithValue(r.Context(), _CTX_MODERATOR, moderator)
			h.ServeHTTP(w, r.WithContext(ctx))
		}
	}
}

// RateLimit 前台提交按IP限流
func RateLimit(limiter *services.IPRateLimiter, proxies utils.TrustedProxies) Middleware {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, proxies)
			if !limiter.Allow(ip) {
				slog.Warn("submission rate limited", "ip", ip)
				w.Header().Set("Retry-After", "60")
				utils.WriteHttpError(w, http.StatusTooManyRequests, "Too many submissions, please try again later.")
				return
			}
			h.ServeHTTP(w, r)
		}
	}
}

func moderatorFromContext(ctx context.Context) string {
	if m, ok := ctx.Value(_CTX_MODERATOR).(string); ok {
		return m
	}
	return ""
}
