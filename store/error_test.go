package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsClientError(t *testing.T) {
	testCases := []struct {
		status int
		client bool
	}{
		{400, true},
		{401, true},
		{403, true},
		{404, true},
		{422, true},
		{408, false},
		{429, false},
		{500, false},
		{503, false},
	}

	for _, tc := range testCases {
		e := &Error{StatusCode: tc.status}
		assert.Equal(t, tc.client, e.IsClientError(), "status %d", tc.status)
	}
}

func TestErrorString(t *testing.T) {
	withCode := &Error{StatusCode: 409, Code: "23505", Message: "duplicate key value"}
	assert.Equal(t, "remote store error 409 (23505): duplicate key value", withCode.Error())

	bare := &Error{StatusCode: 502, Message: "bad gateway"}
	assert.Equal(t, "remote store error 502: bad gateway", bare.Error())
}
