package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTarget(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("628123@s.whatsapp.net", NormalizeTarget("628123"))
	assert.Equal("628123@s.whatsapp.net", NormalizeTarget("628123@s.whatsapp.net"))
	assert.Equal("12345@g.us", NormalizeTarget("12345@g.us"))
}

func TestUserInfoPhoneNumber(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("628123", (&UserInfo{JID: "628123@s.whatsapp.net"}).PhoneNumber())
	assert.Equal("628123", (&UserInfo{JID: "628123:12@s.whatsapp.net"}).PhoneNumber())
	assert.Equal("", (&UserInfo{}).PhoneNumber())
}
