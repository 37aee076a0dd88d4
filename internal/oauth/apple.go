package oauth

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	appleAudience  = "https://appleid.apple.com"
	appleSecretTTL = 300 * time.Second
)

// AppleSecret signs the short-lived ES256 client secret Apple expects in
// place of a static one.
type AppleSecret struct {
	clientID string
	teamID   string
	keyID    string
	key      *ecdsa.PrivateKey
	now      func() time.Time
}

func NewAppleSecret(clientID, teamID, keyID, pemKey string) (*AppleSecret, error) {
	if clientID == "" || teamID == "" || keyID == "" || pemKey == "" {
		return nil, errors.New("client id, team id, key id and private key are all required")
	}
	// env files usually carry the PEM on one line
	pemKey = strings.ReplaceAll(pemKey, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &AppleSecret{clientID: clientID, teamID: teamID, keyID: keyID, key: key, now: time.Now}, nil
}

func (a *AppleSecret) Generate() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.teamID,
		Subject:   a.clientID,
		Audience:  jwt.ClaimStrings{appleAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appleSecretTTL)),
	}
	tkn := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tkn.Header["kid"] = a.keyID

	s, err := tkn.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign apple client secret: %w", err)
	}
	return s, nil
}

type appleUser struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
}

// appleAttributes reads the identity from the id_token of the token response.
// The token comes straight from Apple's token endpoint over TLS, so its
// signature is not checked again here. Only the name is taken from the
// browser-posted user form; the email always comes from the id_token.
func appleAttributes(tok *oauth2.Token, userForm string) (map[string]any, error) {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, ErrNoIDToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("apple: parse id_token: %w", err)
	}

	attrs := map[string]any{
		"sub":   claims["sub"],
		"email": claims["email"],
	}

	if userForm != "" {
		var u appleUser
		if err := json.Unmarshal([]byte(userForm), &u); err == nil {
			name := strings.TrimSpace(u.Name.FirstName + " " + u.Name.LastName)
			if name != "" {
				attrs["name"] = name
			}
		}
	}
	return attrs, nil
}
