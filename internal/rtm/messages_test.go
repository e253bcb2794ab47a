package rtm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseware/api/internal/apperr"
)

func TestDecodeCreateMessage(t *testing.T) {
	v := newValidator()
	raw := json.RawMessage(`{
		"id": "req-1", "type": "annotation.create",
		"rootElementId": "root-1", "elementId": "elem-1",
		"motivation": "commenting", "creatorAccountId": "acc-1",
		"body": "{\"value\":\"hi\"}"
	}`)

	var msg CreateAnnotationMessage
	require.NoError(t, decodeMessage(v, raw, &msg))
	assert.Equal(t, "root-1", msg.RootElementID)
	assert.Equal(t, "commenting", msg.Motivation)
	assert.Equal(t, `{"value":"hi"}`, msg.BodyJSON)
	assert.Empty(t, msg.AnnotationID)
}

func TestDecodeMessageNamesWireParameter(t *testing.T) {
	v := newValidator()

	cases := []struct {
		name    string
		raw     string
		dst     any
		message string
	}{
		{
			name:    "create missing creatorAccountId",
			raw:     `{"rootElementId":"root-1","elementId":"elem-1","motivation":"commenting"}`,
			dst:     &CreateAnnotationMessage{},
			message: "missing creatorAccountId",
		},
		{
			name:    "read missing read flag",
			raw:     `{"rootElementId":"root-1","elementId":"elem-1","annotationIds":["a"],"accountId":"acc-1"}`,
			dst:     &ReadCommentsMessage{},
			message: "missing read",
		},
		{
			name:    "read explicit false passes required",
			raw:     `{"rootElementId":"root-1","elementId":"elem-1","annotationIds":["a"],"read":false,"accountId":"acc-1"}`,
			dst:     &ReadCommentsMessage{},
			message: "",
		},
		{
			name:    "resolve missing annotationIds",
			raw:     `{"resolved":true,"rootElementId":"root-1","elementId":"elem-1"}`,
			dst:     &ResolveCommentsMessage{},
			message: "missing annotationIds",
		},
		{
			name:    "subscribe missing topic",
			raw:     `{"id":"req-1","type":"subscribe"}`,
			dst:     &SubscribeMessage{},
			message: "missing topic",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := decodeMessage(v, json.RawMessage(tc.raw), tc.dst)
			if tc.message == "" {
				require.NoError(t, err)
				return
			}
			var domainErr *apperr.DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)
			assert.Equal(t, tc.message, domainErr.Message)
		})
	}
}

func TestDecodeMessageMalformedPayload(t *testing.T) {
	v := newValidator()
	var msg CreateAnnotationMessage
	err := decodeMessage(v, json.RawMessage(`{broken`), &msg)
	var domainErr *apperr.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "malformed message payload", domainErr.Message)
}
