package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEncryptionKey_HexAndBase64(t *testing.T) {
	hexKey := "00112233445566778899aabbccddeeff"
	key, err := DecodeEncryptionKey(hexKey)
	require.NoError(t, err)
	require.Len(t, key, 16)

	raw := []byte("0123456789abcdef0123456789abcdef")
	b64 := base64.StdEncoding.EncodeToString(raw)
	key, err = DecodeEncryptionKey(b64)
	require.NoError(t, err)
	require.Equal(t, raw, key)
}

func TestDecodeEncryptionKey_RejectsBadInput(t *testing.T) {
	_, err := DecodeEncryptionKey("")
	require.Error(t, err)

	// Valid hex but not an AES key length.
	_, err = DecodeEncryptionKey("00112233")
	require.Error(t, err)

	_, err = DecodeEncryptionKey("not a key at all")
	require.Error(t, err)
}

func TestDecodeEncryptionKeysCSV_PrimaryFirst(t *testing.T) {
	primary := "00112233445566778899aabbccddeeff"
	legacy := "ffeeddccbbaa99887766554433221100"
	keys, err := DecodeEncryptionKeysCSV(primary + ", " + legacy + ",")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, byte(0x00), keys[0][0])
	require.Equal(t, byte(0xff), keys[1][0])
}
