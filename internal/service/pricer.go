package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadContentID   = errors.New("content id must look like kind:ref")
	ErrUnknownContent = errors.New("unknown content kind")
)

// Pricer prices gated content by kind from configuration.
type Pricer struct {
	coins map[string]int64
}

func NewPricer(coins map[string]int64) *Pricer {
	cp := make(map[string]int64, len(coins))
	for k, v := range coins {
		cp[strings.ToLower(k)] = v
	}
	return &Pricer{coins: cp}
}

// ContentKind splits "secret_message:42" into "secret_message".
func ContentKind(contentID string) (string, error) {
	kind, ref, ok := strings.Cut(contentID, ":")
	if !ok || kind == "" || ref == "" {
		return "", ErrBadContentID
	}
	return strings.ToLower(kind), nil
}

// NormalizeContentID lowercases the kind so one piece of content has one
// unlock key. The ref after ':' is kept as sent.
func NormalizeContentID(contentID string) (string, error) {
	kind, err := ContentKind(contentID)
	if err != nil {
		return "", err
	}
	_, ref, _ := strings.Cut(contentID, ":")
	return kind + ":" + ref, nil
}

func (p *Pricer) Price(contentID string) (int64, error) {
	kind, err := ContentKind(contentID)
	if err != nil {
		return 0, err
	}
	price, ok := p.coins[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownContent, kind)
	}
	return price, nil
}
