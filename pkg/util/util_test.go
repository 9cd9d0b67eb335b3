package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestGenerateUUID(t *testing.T) {
	a, b := GenerateUUID(), GenerateUUID()
	assert.Len(t, a, 32)
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "hello w...", TruncateString("hello world!", 10))
	assert.Equal(t, "文档...", TruncateString("文档内容很长", 5))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	p := StringPtr("report.pdf")
	require.NotNil(t, p)
	assert.Equal(t, "report.pdf", StringValue(p))
	assert.Equal(t, "", StringValue(nil))
}
