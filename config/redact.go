package config

import (
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// mask keeps the first half of s and stars out the rest.
func mask(s string) string {
	switch len(s) {
	case 0:
		return s
	case 1:
		return "*"
	}
	h := len(s) / 2
	return s[:h] + strings.Repeat("*", len(s)-h)
}

// maskURL hides the credentials of a connection URL such as a redis URL.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return mask(raw)
	}
	if u.User == nil {
		return u.String()
	}
	var str strings.Builder
	str.WriteString(u.Scheme)
	str.WriteString("://")
	str.WriteString(mask(u.User.Username()))
	if pass, ok := u.User.Password(); ok {
		str.WriteString(":")
		str.WriteString(mask(pass))
	}
	str.WriteString("@")
	str.WriteString(u.Host)
	str.WriteString(u.Path)
	return str.String()
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.LLM.Models = append([]string(nil), c.LLM.Models...)
	if c.Session.RedisURL != "" {
		c.Session.RedisURL = maskURL(c.Session.RedisURL)
	}
	return c
}

// Summary renders the redacted configuration as YAML.
func (c Config) Summary() string {
	buf, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return err.Error()
	}
	return string(buf)
}
