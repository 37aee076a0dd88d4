package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

type Provider string

const (
	Google Provider = "google"
	Apple  Provider = "apple"
	Naver  Provider = "naver"
	Kakao  Provider = "kakao"
)

func (p Provider) Known() bool {
	switch p {
	case Google, Apple, Naver, Kakao:
		return true
	}
	return false
}

var (
	ErrMissingSubject = errors.New("external identity has no subject id")
	ErrMissingEmail   = errors.New("external identity has no email")
)

const (
	appleDefaultName = "Apple User"
	maxNameLen       = 50
)

// ExternalIdentity is a provider payload reduced to the fields a member is
// built from.
type ExternalIdentity struct {
	Name         string
	Email        string
	ProfileImage string
	Provider     Provider
	SubjectID    string
}

// Key is the member oauth_id: "<provider>_<subject>".
func (e ExternalIdentity) Key() string {
	return string(e.Provider) + "_" + e.SubjectID
}

// Normalize maps the raw user attributes of a provider into an
// ExternalIdentity. Unknown tags are read like google payloads.
func Normalize(tag string, attrs map[string]any) (ExternalIdentity, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(tag)))
	if p == "" {
		return ExternalIdentity{}, errors.New("empty provider tag")
	}

	var id ExternalIdentity
	switch p {
	case Naver:
		id = fromNaver(attrs)
	case Kakao:
		id = fromKakao(attrs)
	case Apple:
		id = fromApple(attrs)
	default:
		id = fromGoogle(attrs)
	}
	id.Provider = p
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	id.Name = displayName(id)

	if id.SubjectID == "" {
		return ExternalIdentity{}, fmt.Errorf("%s: %w", p, ErrMissingSubject)
	}
	return id, nil
}

func fromGoogle(attrs map[string]any) ExternalIdentity {
	return ExternalIdentity{
		SubjectID:    stringAttr(attrs, "sub"),
		Name:         stringAttr(attrs, "name"),
		Email:        stringAttr(attrs, "email"),
		ProfileImage: stringAttr(attrs, "picture"),
	}
}

func fromApple(attrs map[string]any) ExternalIdentity {
	name := stringAttr(attrs, "name")
	if name == "" {
		name = appleDefaultName
	}
	return ExternalIdentity{
		SubjectID: stringAttr(attrs, "sub"),
		Name:      name,
		Email:     stringAttr(attrs, "email"),
	}
}

func fromNaver(attrs map[string]any) ExternalIdentity {
	resp := mapAttr(attrs, "response")
	return ExternalIdentity{
		SubjectID:    stringAttr(resp, "id"),
		Name:         stringAttr(resp, "name"),
		Email:        stringAttr(resp, "email"),
		ProfileImage: stringAttr(resp, "profile_image"),
	}
}

func fromKakao(attrs map[string]any) ExternalIdentity {
	account := mapAttr(attrs, "kakao_account")
	profile := mapAttr(account, "profile")
	return ExternalIdentity{
		SubjectID:    stringAttr(attrs, "id"),
		Name:         stringAttr(profile, "nickname"),
		Email:        stringAttr(account, "email"),
		ProfileImage: stringAttr(profile, "profile_image_url"),
	}
}

// displayName falls back to the email local part and fits the members.name column.
func displayName(id ExternalIdentity) string {
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name, _, _ = strings.Cut(id.Email, "@")
	}
	if name == "" {
		name = string(id.Provider) + " user"
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}
	return name
}

func mapAttr(attrs map[string]any, key string) map[string]any {
	if attrs == nil {
		return nil
	}
	m, _ := attrs[key].(map[string]any)
	return m
}

// stringAttr reads a scalar attribute. Numeric ids arrive as json.Number
// when decoded with UseNumber and as float64 otherwise.
func stringAttr(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	switch v := attrs[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
