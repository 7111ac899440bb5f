// Package telegram validates Telegram Web App init data.
//
// The bot derives secret = HMAC_SHA256(key="WebAppData", msg=botToken) and
// signs the newline-joined, key-sorted "key=value" pairs (without "hash").
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxAge = 3600 * time.Second
	maxClockSkew  = time.Minute
)

var (
	ErrMissingHash     = errors.New("init data: missing hash")
	ErrMissingAuthDate = errors.New("init data: missing auth_date")
	ErrBadSignature    = errors.New("init data: signature mismatch")
	ErrExpired         = errors.New("init data: expired")
	ErrMissingUser     = errors.New("init data: missing user")
)

// User is the Telegram user embedded in init data. Optional fields are nil
// when Telegram did not send them.
type User struct {
	ID           int64   `json:"id"`
	FirstName    string  `json:"first_name"`
	LastName     *string `json:"last_name,omitempty"`
	Username     *string `json:"username,omitempty"`
	LanguageCode *string `json:"language_code,omitempty"`
	IsPremium    *bool   `json:"is_premium,omitempty"`
	PhotoURL     *string `json:"photo_url,omitempty"`
}

// DisplayName prefers the username, then the first name.
func (u User) DisplayName() string {
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	return u.FirstName
}

type InitData struct {
	User     User
	AuthDate time.Time
	QueryID  string
	Raw      url.Values
}

type Validator struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewValidator(botToken string, maxAge time.Duration) *Validator {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Validator{secret: secretKey(botToken), maxAge: maxAge, now: time.Now}
}

func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// DataCheckString builds the string Telegram signs.
func DataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	return strings.Join(pairs, "\n")
}

// Sign returns the hex hash for values. Used by tests and local tooling.
func (v *Validator) Sign(values url.Values) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(DataCheckString(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and age of raw init data.
func (v *Validator) Validate(initData string) (*InitData, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("init data: %w", err)
	}
	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrMissingHash
	}
	got, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrBadSignature
	}
	want, _ := hex.DecodeString(v.Sign(values))
	if !hmac.Equal(got, want) {
		return nil, ErrBadSignature
	}

	rawDate := values.Get("auth_date")
	if rawDate == "" {
		return nil, ErrMissingAuthDate
	}
	unix, err := strconv.ParseInt(rawDate, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("init data: bad auth_date: %w", err)
	}
	authDate := time.Unix(unix, 0)
	age := v.now().Sub(authDate)
	if age > v.maxAge || age < -maxClockSkew {
		return nil, ErrExpired
	}

	raw := values.Get("user")
	if raw == "" {
		return nil, ErrMissingUser
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("init data: bad user: %w", err)
	}
	if user.ID == 0 {
		return nil, ErrMissingUser
	}

	return &InitData{
		User:     user,
		AuthDate: authDate,
		QueryID:  values.Get("query_id"),
		Raw:      values,
	}, nil
}
