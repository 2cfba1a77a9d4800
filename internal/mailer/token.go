package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GmailSendScope Gmail 发信所需的授权范围
const GmailSendScope = "https://www.googleapis.com/auth/gmail.send"

// googleAuthExpiry google-auth 库写出的过期时间格式（无时区，UTC）
const googleAuthExpiry = "2006-01-02T15:04:05.999999"

// ErrTokenInvalid 本地令牌无法使用且无法刷新
var ErrTokenInvalid = errors.New("gmail credentials are invalid")

// TokenCache 进程内共享的 Gmail OAuth2 令牌缓存。
// 每次使用前重新校验：令牌失效时先从磁盘重新加载，仍失效则刷新并写回文件。
// 只有令牌变化时才重建 HTTP 客户端。
type TokenCache struct {
	credentialsPath string
	tokenPath       string
	log             *zap.Logger

	// base 用于刷新令牌和发送请求的底层客户端，为空时使用 http.DefaultClient
	base *http.Client

	mu     sync.Mutex
	conf   *oauth2.Config
	token  *oauth2.Token
	raw    map[string]any
	client *http.Client
	// clientToken 构建 client 时使用的访问令牌
	clientToken string
}

// NewTokenCache 创建令牌缓存，首次使用时才读取文件
func NewTokenCache(credentialsPath, tokenPath string, base *http.Client, log *zap.Logger) *TokenCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenCache{
		credentialsPath: credentialsPath,
		tokenPath:       tokenPath,
		base:            base,
		log:             log,
	}
}

// Client 返回携带有效访问令牌的 HTTP 客户端
func (c *TokenCache) Client(ctx context.Context) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || !c.token.Valid() {
		if err := c.load(); err != nil {
			return nil, err
		}
	}

	tok := c.token
	if !tok.Valid() {
		if tok.RefreshToken == "" {
			return nil, ErrTokenInvalid
		}
		c.log.Info("refreshing expired Gmail token", zap.String("token_path", c.tokenPath))
		fresh, err := c.conf.TokenSource(c.oauthContext(ctx), tok).Token()
		if err != nil {
			return nil, fmt.Errorf("%w: refresh: %v", ErrTokenInvalid, err)
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = tok.RefreshToken
		}
		if err := c.persist(fresh); err != nil {
			c.log.Warn("failed to persist refreshed Gmail token", zap.Error(err))
		}
		tok = fresh
	}
	if !tok.Valid() {
		return nil, ErrTokenInvalid
	}

	if c.client == nil || c.clientToken != tok.AccessToken {
		c.client = oauth2.NewClient(c.oauthContext(context.Background()), oauth2.StaticTokenSource(tok))
		c.clientToken = tok.AccessToken
	}
	c.token = tok
	return c.client, nil
}

func (c *TokenCache) oauthContext(ctx context.Context) context.Context {
	if c.base == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.base)
}

// load 从磁盘读取令牌文件，兼容 google-auth 与 oauth2 两种格式
func (c *TokenCache) load() error {
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return fmt.Errorf("gmail token not found at %s: %w", c.tokenPath, err)
	}
	raw := make(map[string]any)
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse gmail token: %w", err)
	}

	tok := &oauth2.Token{
		RefreshToken: stringField(raw, "refresh_token"),
		TokenType:    stringField(raw, "token_type"),
	}
	tok.AccessToken = stringField(raw, "token")
	if tok.AccessToken == "" {
		tok.AccessToken = stringField(raw, "access_token")
	}
	if exp := stringField(raw, "expiry"); exp != "" {
		t, err := parseExpiry(exp)
		if err != nil {
			return fmt.Errorf("parse gmail token expiry: %w", err)
		}
		tok.Expiry = t
	}

	conf, err := c.oauthConfig(raw)
	if err != nil {
		return err
	}

	c.conf = conf
	c.raw = raw
	c.token = tok
	return nil
}

// oauthConfig 优先使用客户端凭据文件，不存在时使用令牌文件中的 client_id/client_secret
func (c *TokenCache) oauthConfig(raw map[string]any) (*oauth2.Config, error) {
	if c.credentialsPath != "" {
		data, err := os.ReadFile(c.credentialsPath)
		if err == nil {
			conf, err := google.ConfigFromJSON(data, GmailSendScope)
			if err != nil {
				return nil, fmt.Errorf("parse gmail credentials: %w", err)
			}
			if uri := stringField(raw, "token_uri"); uri != "" {
				conf.Endpoint.TokenURL = uri
			}
			return conf, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read gmail credentials: %w", err)
		}
	}

	clientID := stringField(raw, "client_id")
	if clientID == "" {
		return nil, fmt.Errorf("gmail credentials not found at %s", c.credentialsPath)
	}
	endpoint := google.Endpoint
	if uri := stringField(raw, "token_uri"); uri != "" {
		endpoint.TokenURL = uri
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: stringField(raw, "client_secret"),
		Endpoint:     endpoint,
		Scopes:       []string{GmailSendScope},
	}, nil
}

// persist 在原始 JSON 上更新令牌字段并写回，保留文件中的其他字段
func (c *TokenCache) persist(tok *oauth2.Token) error {
	raw := c.raw
	if raw == nil {
		raw = make(map[string]any)
	}
	if _, ok := raw["token"]; ok {
		raw["token"] = tok.AccessToken
		raw["expiry"] = tok.Expiry.UTC().Format(googleAuthExpiry) + "Z"
	} else {
		raw["access_token"] = tok.AccessToken
		raw["expiry"] = tok.Expiry.UTC().Format(time.RFC3339Nano)
		if tok.TokenType != "" {
			raw["token_type"] = tok.TokenType
		}
	}
	if tok.RefreshToken != "" {
		raw["refresh_token"] = tok.RefreshToken
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(c.tokenPath), "."+filepath.Base(c.tokenPath)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.tokenPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	c.raw = raw
	return nil
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(googleAuthExpiry, strings.TrimSuffix(s, "Z"), time.UTC)
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// CheckTrustedPath 校验路径解析符号链接后位于可信目录内
func CheckTrustedPath(trustedDir, path string) error {
	if trustedDir == "" {
		return fmt.Errorf("%w: trusted directory not configured", ErrInvalidProvider)
	}
	root, err := resolvePath(trustedDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}
	target, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: path must be under %s, got: %s", ErrInvalidProvider, trustedDir, target)
	}
	return nil
}

// resolvePath 解析符号链接，文件尚不存在时解析其所在目录
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return filepath.Clean(abs), nil
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}
