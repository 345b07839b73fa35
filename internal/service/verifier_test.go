package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("secret")
	sig := v.Sign("gw_1", "pay_1")

	assert.True(t, v.Verify("gw_1", "pay_1", sig))
	assert.False(t, v.Verify("gw_1", "pay_2", sig))
	assert.False(t, v.Verify("gw_2", "pay_1", sig))
	assert.False(t, v.Verify("gw_1", "pay_1", ""))
	assert.False(t, NewHMACVerifier("other").Verify("gw_1", "pay_1", sig))
}

func TestHMACVerifier_NoSecretRejectsEverything(t *testing.T) {
	v := NewHMACVerifier("")
	assert.False(t, v.Verify("gw_1", "pay_1", v.Sign("gw_1", "pay_1")))
}
