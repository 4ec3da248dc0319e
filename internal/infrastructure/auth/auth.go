// Package auth 密码摘要与 TOTP 一次性口令
package auth

import (
	"errors"
	"time"

	"appchat_store/pkg/errorx"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// Hasher 密码摘要
type Hasher interface {
	Hash(password string) (string, error)
	Compare(digest, password string) bool
}

// BcryptHasher bcrypt 实现，Cost 为 0 时用 bcrypt.DefaultCost
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", errorx.Wrap(err, errorx.CodeValidation, "Password is too long")
		}
		return "", errorx.Wrap(err, errorx.CodeServerBusy, "hash password")
	}
	return string(b), nil
}

// Compare 摘要为空或不匹配都返回 false
func (h BcryptHasher) Compare(digest, password string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// TOTPKey 新生成的密钥
type TOTPKey struct {
	Secret string `json:"secret"` // base32
	URL    string `json:"otpauthUrl"`
}

// TOTP 一次性口令
type TOTP interface {
	Generate(account string) (TOTPKey, error)
	Validate(secret, code string, now time.Time) bool
}

// TOTPProvider 30 秒步长、6 位数字，校验时前后各容忍一个步长
type TOTPProvider struct {
	Issuer string
}

func (p TOTPProvider) Generate(account string) (TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.Issuer,
		AccountName: account,
	})
	if err != nil {
		return TOTPKey{}, errorx.Wrap(err, errorx.CodeServerBusy, "generate totp secret")
	}
	return TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

func (p TOTPProvider) Validate(secret, code string, now time.Time) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
