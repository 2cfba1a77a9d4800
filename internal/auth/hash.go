package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// KeyPrefix 生成的 API 密钥前缀
const KeyPrefix = "hf_"

const pbkdf2Scheme = "pbkdf2-sha256"

var errMalformedHash = errors.New("malformed key hash")

// GenerateKey 生成新的 API 密钥: hf_ + 32 字节随机数的 URL 安全 base64
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey 使用 bcrypt 计算密钥哈希
func HashKey(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(hash), nil
}

// VerifyKey 校验密钥与哈希是否匹配。
// 支持 bcrypt 以及旧数据中的 $pbkdf2-sha256$rounds$salt$checksum 格式。
func VerifyKey(secret, hash string) bool {
	if strings.HasPrefix(hash, "$"+pbkdf2Scheme+"$") {
		ok, err := verifyPBKDF2(secret, hash)
		return err == nil && ok
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func verifyPBKDF2(secret, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	// "", scheme, rounds, salt, checksum
	if len(parts) != 5 || parts[1] != pbkdf2Scheme {
		return false, errMalformedHash
	}
	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds <= 0 {
		return false, errMalformedHash
	}
	salt, err := decodeAB64(parts[3])
	if err != nil {
		return false, errMalformedHash
	}
	want, err := decodeAB64(parts[4])
	if err != nil || len(want) == 0 {
		return false, errMalformedHash
	}

	got := pbkdf2.Key([]byte(secret), salt, rounds, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// encodePBKDF2 生成 pbkdf2-sha256 格式哈希，测试中用于构造旧版数据
func encodePBKDF2(secret string, salt []byte, rounds int) string {
	sum := pbkdf2.Key([]byte(secret), salt, rounds, sha256.Size, sha256.New)
	return fmt.Sprintf("$%s$%d$%s$%s", pbkdf2Scheme, rounds, encodeAB64(salt), encodeAB64(sum))
}

// ab64 是把 "+" 换成 "." 且不带填充的 base64
func decodeAB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.ReplaceAll(s, ".", "+"))
}

func encodeAB64(b []byte) string {
	return strings.ReplaceAll(base64.RawStdEncoding.EncodeToString(b), "+", ".")
}
