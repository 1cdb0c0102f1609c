package models

import (
	"time"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair returned to the user on login or refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// ClientMeta is diagnostic request metadata stored alongside a refresh token.
type ClientMeta struct {
	DeviceInfo string
	IPAddress  string
}
