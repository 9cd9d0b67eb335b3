package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "jwt:blacklist:abc", blacklistKey("abc"))
	assert.Equal(t, "user:42:messages", messagesChannel(42))
}

func TestDecodeMessageAppended(t *testing.T) {
	in := MessageAppended{
		OwnerID:   7,
		MessageID: 11,
		Seq:       3,
		Role:      "assistant",
		Origin:    "conn-1",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := decodeMessageAppended(string(data))
	require.NoError(t, err)
	assert.Equal(t, in.OwnerID, out.OwnerID)
	assert.Equal(t, in.Seq, out.Seq)
	assert.Equal(t, in.Origin, out.Origin)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))

	_, err = decodeMessageAppended("not json")
	assert.Error(t, err)
}
