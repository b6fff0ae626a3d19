package config

import (
	"fmt"
	"net"
	neturl "net/url"
	"strconv"
	"strings"
)

// DSNValue returns the explicit DSN or builds a go-sql-driver/mysql DSN from
// the discrete fields. parseTime is always on since sessions store times.
func (c DatabaseRuntimeConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}

	params := neturl.Values{}
	for key, value := range c.Params {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			params.Set(k, v)
		}
	}
	if params.Get("charset") == "" {
		params.Set("charset", c.Charset)
	}
	params.Set("parseTime", "true")
	if params.Get("loc") == "" {
		params.Set("loc", c.Loc)
	}

	auth := c.User
	if c.Password != "" {
		auth += ":" + c.Password
	}
	if auth != "" {
		auth += "@"
	}

	return fmt.Sprintf("%stcp(%s)/%s?%s", auth, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Name, params.Encode())
}

// URLValue returns the explicit redis URL or builds one from the fields.
func (c RedisRuntimeConfig) URLValue() string {
	if c.URL != "" {
		return c.URL
	}

	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}
	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + strconv.Itoa(c.DB),
	}
	switch {
	case c.Username != "" && c.Password != "":
		u.User = neturl.UserPassword(c.Username, c.Password)
	case c.Username != "":
		u.User = neturl.User(c.Username)
	case c.Password != "":
		u.User = neturl.UserPassword("", c.Password)
	}
	return u.String()
}
